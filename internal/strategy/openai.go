package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gearbox-ai/gearbox/internal/llm"
	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

const openAISystemPrompt = `You are a planner for an auto shop management system.
You are given a goal and must accomplish it by calling tools, one at a time.

Respond with exactly one JSON object per turn, no prose:
  {"tool": "<tool_name>", "input": {...}}   to call a tool
  {"final": "<short summary>"}              when the goal is accomplished

Available tools: %s`

// OpenAI is the LLM-driven strategy: a completion loop where the model
// picks the next tool call from the transcript of prior results, capped
// at MaxSteps iterations.
type OpenAI struct {
	Tools     *tool.Registry
	Completer llm.Completer
	MaxSteps  int
}

func (s *OpenAI) Kind() string { return "openai" }

// decision is one model turn: either a tool call or a final summary.
type decision struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
	Final string         `json:"final"`
}

func (s *OpenAI) Run(ctx context.Context, goal string, runCtx map[string]any, tc tool.Context, emit EmitFunc) error {
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 8
	}

	systemPrompt := fmt.Sprintf(openAISystemPrompt, strings.Join(s.Tools.Names(), ", "))

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Goal: %s\n", goal)
	if len(runCtx) > 0 {
		ctxJSON, err := json.Marshal(runCtx)
		if err == nil {
			fmt.Fprintf(&transcript, "Context: %s\n", ctxJSON)
		}
	}

	emit(model.EventPlan, model.PlanPayload{Note: "delegating tool selection to the language model"})

	for step := 0; step < maxSteps; step++ {
		raw, err := s.Completer.Complete(ctx, systemPrompt, transcript.String())
		if err != nil {
			return fmt.Errorf("strategy: completion: %w", err)
		}

		d, err := parseDecision(raw)
		if err != nil {
			return err
		}

		if d.Final != "" {
			emit(model.EventPlan, model.PlanPayload{Note: d.Final})
			return nil
		}

		out, err := callTool(ctx, s.Tools, d.Tool, d.Input, tc, emit)
		if err != nil {
			return err
		}

		outJSON, _ := json.Marshal(out)
		fmt.Fprintf(&transcript, "Called %s, result: %s\n", d.Tool, outJSON)
	}

	return fmt.Errorf("strategy: no final decision after %d steps", maxSteps)
}

// parseDecision extracts the JSON decision from a model response,
// tolerating markdown code fences around the object.
func parseDecision(raw string) (decision, error) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}

	var d decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return decision{}, fmt.Errorf("strategy: unparseable model decision %q: %w", raw, err)
	}
	if d.Final == "" && d.Tool == "" {
		return decision{}, fmt.Errorf("strategy: model decision names neither a tool nor a final summary")
	}
	return d, nil
}
