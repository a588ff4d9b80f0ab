package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gearbox-ai/gearbox/internal/engine"
	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/strategy"
)

// HandleStartRun handles POST /v1/runs. The run executes synchronously;
// once it exists the response is always 200 and in-run failure travels in
// the body, not the status code.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req model.StartRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	planner := req.Planner
	if planner == "" {
		planner = h.defaultStrategy
	}

	res, err := h.coordinator.StartRun(r.Context(), engine.StartParams{
		ActorID:        claims.ActorID,
		Goal:           req.Goal,
		StrategyKind:   planner,
		Context:        req.Context,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, strategy.ErrUnknownStrategy):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown planner: "+planner)
		case errors.Is(err, engine.ErrScopeResolution):
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot resolve tenant scope for caller")
		default:
			// Pre-creation rejections that are not scope or strategy
			// problems are input validation failures (e.g. empty goal).
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		}
		return
	}

	// Enrich the run with a goal embedding for precedent lookup.
	// Best-effort and off the request path.
	if h.embedder != nil && !res.AlreadyExists {
		go h.embedGoal(res.Run)
	}

	writeJSON(w, r, http.StatusOK, model.StartRunResponse{
		RunID:         res.Run.ID,
		AlreadyExists: res.AlreadyExists,
		Status:        res.Run.Status,
		Error:         res.Run.Error,
	})
}

// embedGoal computes and stores the goal embedding for a finished run.
func (h *Handlers) embedGoal(run *model.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vec, err := h.embedder.Embed(ctx, run.Goal)
	if err != nil {
		h.logger.Warn("goal embedding failed", "run_id", run.ID, "error", err)
		return
	}
	if err := h.db.SetRunEmbedding(ctx, run.ID, vec); err != nil {
		h.logger.Warn("goal embedding store failed", "run_id", run.ID, "error", err)
	}
}

// HandleGetRun handles GET /v1/runs/{run_id}: the run plus its full
// ordered event log.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.db.GetRun(r.Context(), claims.TenantID, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to load run", err)
		return
	}

	events, err := h.db.EventsByRun(r.Context(), claims.TenantID, runID)
	if err != nil {
		h.writeInternalError(w, r, "failed to load events", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"run":    run,
		"events": events,
	})
}

// HandleListEvents handles GET /v1/runs/{run_id}/events.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Verify the run exists in this tenant before returning an empty log.
	if _, err := h.db.GetRun(r.Context(), claims.TenantID, runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to load run", err)
		return
	}

	events, err := h.db.EventsByRun(r.Context(), claims.TenantID, runID)
	if err != nil {
		h.writeInternalError(w, r, "failed to load events", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"events": events})
}

// HandleListRuns handles GET /v1/runs with optional status filter and
// pagination.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var status *model.RunStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.RunStatus(v)
		switch s {
		case model.RunStatusRunning, model.RunStatusSucceeded, model.RunStatusFailed:
			status = &s
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status filter: "+v)
			return
		}
	}

	runs, err := h.db.ListRuns(r.Context(), claims.TenantID, status, queryLimit(r, 50), queryOffset(r))
	if err != nil {
		h.writeInternalError(w, r, "failed to list runs", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"runs": runs})
}

// HandleSimilarRuns handles POST /v1/runs/similar: precedent lookup by
// goal embedding distance.
func (h *Handlers) HandleSimilarRuns(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	if h.embedder == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "embedding provider not configured")
		return
	}

	var req model.SimilarRunsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	goal, err := model.ValidateGoal(req.Goal)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	vec, err := h.embedder.Embed(r.Context(), goal)
	if err != nil {
		h.writeInternalError(w, r, "failed to embed goal", err)
		return
	}

	similar, err := h.db.SimilarRuns(r.Context(), claims.TenantID, vec, req.Limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to find similar runs", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"runs": similar})
}
