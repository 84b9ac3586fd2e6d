package capability

import (
	"context"
	"fmt"

	"github.com/kestrelflow/taskforge/errkind"
	"github.com/kestrelflow/taskforge/hooks"
	"github.com/kestrelflow/taskforge/memory"
)

// Backend is the minimal surface an LLM provider adapter must implement.
// Anthropic, OpenAI, and Bedrock backends all reduce to this one shape
// (prompt in, text plus usage out), the same narrowing the teacher's
// model.Client interface does across its provider adapters.
type Backend interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (text string, promptTokens, completionTokens int, err error)
}

// LLMCapability wires a Backend into the registry. buildPrompt gives the
// aggregate action a combine-the-children prompt and every other action
// the same context prompt; the action then decides how the reply is read:
// plan output is parsed into subtask descriptors, reason output becomes a
// Conclusion, aggregate output becomes Aggregated, and write and reflect
// output become Text.
type LLMCapability struct {
	name    string
	backend Backend
	bus     *hooks.Bus // optional; nil disables telemetry events
}

// NewLLMCapability registers backend under name. bus may be nil.
func NewLLMCapability(name string, backend Backend, bus *hooks.Bus) *LLMCapability {
	return &LLMCapability{name: name, backend: backend, bus: bus}
}

func (c *LLMCapability) Name() string { return c.name }

func (c *LLMCapability) Invoke(ctx context.Context, action Action, node NodeView, memCtx memory.Context, cfg Config) (ActionResult, error) {
	prompt := buildPrompt(action, node, memCtx)
	model := cfg.Model
	if model == "" {
		return ActionResult{Kind: ActionError, Err: errkind.New(errkind.Fatal, "capability: no model configured")}, nil
	}

	callID := fmt.Sprintf("%s-%d", node.ID, node.Attempts)
	if c.bus != nil {
		_ = c.bus.Publish(hooks.NewLLMCallStarted(node.RunID, callID, node.ID, model))
	}

	text, promptTok, completionTok, err := c.backend.Complete(ctx, model, prompt, cfg.MaxTokens)

	if c.bus != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		_ = c.bus.Publish(hooks.NewLLMCallCompleted(node.RunID, callID, node.ID, model, 0, promptTok, completionTok, errMsg))
	}

	if err != nil {
		return ActionResult{Kind: ActionError, Err: errkind.Wrap(errkind.Transient, "capability: llm call failed", err)}, nil
	}

	switch action {
	case ActionKindPlan:
		subtasks, err := parsePlan([]byte(text))
		if err != nil {
			return ActionResult{Kind: ActionError, Err: errkind.Wrap(errkind.Validation, "capability: invalid plan", err)}, nil
		}
		return ActionResult{Kind: ActionPlan, Subtasks: subtasks}, nil
	case ActionKindReason:
		return ActionResult{Kind: ActionReason, Conclusion: text}, nil
	case ActionKindAggregate:
		return ActionResult{Kind: ActionAggregate, Aggregated: text}, nil
	case ActionKindReflect:
		return ActionResult{Kind: ActionWrite, Text: text}, nil
	default:
		return ActionResult{Kind: ActionWrite, Text: text}, nil
	}
}

// buildPrompt assembles the five-part context of spec §4.4 into a single
// prompt string. The exact prose is intentionally simple: capabilities own
// prompt engineering, and real deployments are expected to override this
// with a capability-specific template; this default keeps every adapter
// testable without one.
func buildPrompt(action Action, node NodeView, memCtx memory.Context) string {
	s := "Goal: " + node.Goal + "\n\n"
	if action == ActionKindAggregate {
		s += "Combine the following child results into one coherent result:\n"
		for _, r := range memCtx.ChildResults {
			if r.Text != "" {
				s += "- " + r.Text + "\n"
			}
			if r.Conclusion != "" {
				s += "- " + r.Conclusion + "\n"
			}
		}
		return s
	}
	if len(memCtx.AncestralGoalTrail) > 0 {
		s += "Context trail:\n"
		for _, g := range memCtx.AncestralGoalTrail {
			s += "- " + g + "\n"
		}
		s += "\n"
	}
	if memCtx.RunningArticle != "" {
		s += "Article so far:\n" + memCtx.RunningArticle + "\n\n"
	}
	for _, r := range memCtx.PredecessorResults {
		if r.Text != "" {
			s += "Predecessor result: " + r.Text + "\n"
		}
		if r.Conclusion != "" {
			s += "Predecessor conclusion: " + r.Conclusion + "\n"
		}
	}
	for _, sum := range memCtx.OuterSiblingSummaries {
		s += "Prior section summary: " + sum + "\n"
	}
	return s
}
