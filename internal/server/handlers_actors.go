package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gearbox-ai/gearbox/internal/auth"
	"github.com/gearbox-ai/gearbox/internal/model"
)

// HandleCreateActor handles POST /v1/actors (admin only). The new actor
// joins the admin's tenant.
func (h *Handlers) HandleCreateActor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req model.CreateActorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateActorID(req.ActorID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	switch req.Role {
	case model.RoleAdmin, model.RoleAgent, model.RoleReader:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "role must be admin, agent, or reader")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	actor := &model.Actor{
		ID:         uuid.New(),
		ActorID:    req.ActorID,
		TenantID:   claims.TenantID,
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
	}
	if err := h.db.CreateActor(r.Context(), actor); err != nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "actor already exists: "+req.ActorID)
		return
	}

	writeJSON(w, r, http.StatusCreated, actor)
}
