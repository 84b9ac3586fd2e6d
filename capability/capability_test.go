package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelflow/taskforge/memory"
	"github.com/stretchr/testify/require"
)

type fakeCapability struct {
	name   string
	result ActionResult
}

func (f *fakeCapability) Name() string { return f.name }
func (f *fakeCapability) Invoke(ctx context.Context, action Action, node NodeView, memCtx memory.Context, cfg Config) (ActionResult, error) {
	return f.result, nil
}

func TestRegistryInvokeDispatchesToRegisteredCapability(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeCapability{name: "llm-plan", result: ActionResult{Kind: ActionWrite, Text: "ok"}})

	res, err := r.Invoke(context.Background(), "llm-plan", ActionKindWrite, NodeView{}, memory.Context{}, Config{})
	require.NoError(t, err)
	require.Equal(t, ActionWrite, res.Kind)
	require.Equal(t, "ok", res.Text)
}

func TestRegistryInvokeUnknownCapabilityReturnsFatalError(t *testing.T) {
	r := NewRegistry()
	res, err := r.Invoke(context.Background(), "nope", ActionKindWrite, NodeView{}, memory.Context{}, Config{})
	require.NoError(t, err)
	require.Equal(t, ActionError, res.Kind)
	require.NotNil(t, res.Err)
}

func TestNamesAreSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeCapability{name: "zeta"})
	r.Register(&fakeCapability{name: "alpha"})
	require.Equal(t, []string{"alpha", "zeta"}, r.Names())
}

type fakeLLMBackend struct {
	text string
	err  error
}

func (f *fakeLLMBackend) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, int, int, error) {
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return f.text, 10, 20, nil
}

func TestLLMCapabilityPlanNodeParsesValidPlan(t *testing.T) {
	backend := &fakeLLMBackend{text: `{"subtasks":[{"task":"COMPOSITION","goal":"intro"},{"task":"COMPOSITION","goal":"body","depends_on":[0]}]}`}
	cap := NewLLMCapability("planner", backend, nil)

	res, err := cap.Invoke(context.Background(), ActionKindPlan, NodeView{ID: "n1", Kind: "PLAN"}, memory.Context{}, Config{Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, ActionPlan, res.Kind)
	require.Len(t, res.Subtasks, 2)
	require.Equal(t, []int{0}, res.Subtasks[1].DependsOn)
}

func TestLLMCapabilityPlanNodeRejectsInvalidPlan(t *testing.T) {
	backend := &fakeLLMBackend{text: `{"subtasks":[]}`}
	cap := NewLLMCapability("planner", backend, nil)

	res, err := cap.Invoke(context.Background(), ActionKindPlan, NodeView{ID: "n1", Kind: "PLAN"}, memory.Context{}, Config{Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, ActionError, res.Kind)
	require.True(t, res.Err.Kind == "validation" || res.Err.Retryable())
}

func TestLLMCapabilityExecuteReasoningNodeReturnsConclusion(t *testing.T) {
	backend := &fakeLLMBackend{text: "42"}
	cap := NewLLMCapability("reasoner", backend, nil)

	res, err := cap.Invoke(context.Background(), ActionKindReason, NodeView{ID: "n1", Kind: "EXECUTE", Task: "REASONING"}, memory.Context{}, Config{Model: "claude-haiku"})
	require.NoError(t, err)
	require.Equal(t, ActionReason, res.Kind)
	require.Equal(t, "42", res.Conclusion)
}

func TestLLMCapabilityBackendErrorBecomesTransientActionError(t *testing.T) {
	backend := &fakeLLMBackend{err: errors.New("rate limited")}
	cap := NewLLMCapability("writer", backend, nil)

	res, err := cap.Invoke(context.Background(), ActionKindWrite, NodeView{ID: "n1", Kind: "EXECUTE", Task: "COMPOSITION"}, memory.Context{}, Config{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, ActionError, res.Kind)
	require.True(t, res.Err.Retryable())
}

type fakeSearcher struct {
	passages []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	return f.passages, nil
}

func TestRetrievalCapabilityReturnsPassages(t *testing.T) {
	cap := NewRetrievalCapability("search", &fakeSearcher{passages: []string{"a", "b"}}, 5, nil)
	res, err := cap.Invoke(context.Background(), ActionKindRetrieve, NodeView{Goal: "find x"}, memory.Context{}, Config{})
	require.NoError(t, err)
	require.Equal(t, ActionRetrieve, res.Kind)
	require.Equal(t, []string{"a", "b"}, res.Passages)
}
