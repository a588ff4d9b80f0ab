package strategy

import (
	"context"
	"fmt"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// Approvals records the goal as a pending human sign-off instead of
// performing it, then notifies the approver. Used for actions the shop
// wants a person to confirm before any side effect happens.
type Approvals struct {
	Tools *tool.Registry
}

func (s *Approvals) Kind() string { return "approvals" }

func (s *Approvals) Run(ctx context.Context, goal string, runCtx map[string]any, tc tool.Context, emit EmitFunc) error {
	reason := stringContext(runCtx, "reason")

	emit(model.EventPlan, model.PlanPayload{Note: "routing goal through human approval"})

	input := map[string]any{"action": goal}
	if reason != "" {
		input["reason"] = reason
	}
	approval, err := callTool(ctx, s.Tools, "request_approval", input, tc, emit)
	if err != nil {
		return err
	}

	approvalID, err := outputUUID(approval, "approval_id")
	if err != nil {
		return err
	}
	emit(model.EventApprovalRequested, model.ApprovalRequestedPayload{
		ApprovalID: approvalID,
		Action:     goal,
		Reason:     reason,
	})

	// Notify the approver when the context names one; an approval with
	// no recipient still succeeds and waits in the queue.
	recipient := stringContext(runCtx, "approver_email")
	if recipient == "" {
		return nil
	}

	_, err = callTool(ctx, s.Tools, "send_message", map[string]any{
		"recipient": recipient,
		"subject":   "Approval requested",
		"body":      fmt.Sprintf("Action pending your approval: %s (approval %s)", goal, approvalID),
	}, tc, emit)
	if err != nil {
		return err
	}
	emit(model.EventMessageSent, model.MessageSentPayload{
		Recipient: recipient,
		Subject:   "Approval requested",
	})

	return nil
}
