// Package capability implements the C3 Agent/Tool Registry of spec §4.3:
// named capabilities the scheduler invokes to act on a node, each producing
// a tagged action result. The registry is the only place the scheduler
// couples to external providers; adding a model or search backend means
// registering one more Capability here.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelflow/taskforge/errkind"
	"github.com/kestrelflow/taskforge/memory"
)

// ActionKind tags the variant carried by an ActionResult.
type ActionKind string

const (
	ActionPlan      ActionKind = "PLAN"
	ActionWrite     ActionKind = "WRITE"
	ActionRetrieve  ActionKind = "RETRIEVE"
	ActionReason    ActionKind = "REASON"
	ActionAggregate ActionKind = "AGGREGATE"
	ActionError     ActionKind = "ERROR"
)

// SubtaskDescriptor is one entry of a Plan action result, mirroring
// graph.ChildDescriptor's shape but decoupled from the graph package so a
// capability implementation need not import it.
type SubtaskDescriptor struct {
	Task       string
	Goal       string
	LengthHint int
	DependsOn  []int
}

// ActionResult is the tagged variant every Capability.Invoke returns (spec
// §4.3). Exactly one of the payload fields is meaningful, selected by Kind.
type ActionResult struct {
	Kind ActionKind

	Subtasks   []SubtaskDescriptor // ActionPlan
	Text       string              // ActionWrite
	Passages   []string            // ActionRetrieve
	Conclusion string              // ActionReason
	Aggregated string              // ActionAggregate
	Err        *errkind.Error      // ActionError
}

// Config carries the subset of run configuration a capability needs to act
// (spec §6: model.plan/execute/aggregate, call.timeout_ms, etc). It is
// deliberately a small, capability-agnostic bag rather than the full
// run configuration struct, so capabilities stay decoupled from config's
// schema.
type Config struct {
	Model        string
	MaxTokens    int
	Extra        map[string]string
}

// NodeView is the read-only slice of graph.Node a capability needs,
// decoupled from the graph package the same way ActionResult decouples
// SubtaskDescriptor from graph.ChildDescriptor.
type NodeView struct {
	RunID      string
	ID         string
	NID        string
	Kind       string
	Task       string
	Goal       string
	LengthHint int
	Attempts   int
}

// Action is the scheduler's explicit choice of what a capability should do
// for this dispatch (spec §4.5 "action-per-state mapping"). Passing it
// explicitly, rather than inferring it from node.Kind/Task, keeps a PLAN
// node's "produce subtasks" dispatch distinct from its later "aggregate
// children" dispatch even though both share the same node.
type Action string

const (
	ActionKindPlan      Action = "plan"
	ActionKindWrite     Action = "write"
	ActionKindRetrieve  Action = "retrieve"
	ActionKindReason    Action = "reason"
	ActionKindAggregate Action = "aggregate"
	ActionKindReflect   Action = "reflect"
)

// Capability is one named, invocable provider (spec §4.3).
type Capability interface {
	Name() string
	Invoke(ctx context.Context, action Action, node NodeView, memCtx memory.Context, cfg Config) (ActionResult, error)
}

// Registry holds every capability registered at startup, keyed by name.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability, replacing any existing one with the same
// name. Registration typically happens once at startup; Register is safe
// to call later too (e.g. hot-swapping a provider under test).
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns every registered capability name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up name and invokes it, or returns an ActionError result if
// no such capability is registered — a missing capability is a
// configuration error (errkind.Fatal), not a transient fault.
func (r *Registry) Invoke(ctx context.Context, name string, action Action, node NodeView, memCtx memory.Context, cfg Config) (ActionResult, error) {
	c, ok := r.Get(name)
	if !ok {
		return ActionResult{Kind: ActionError, Err: errkind.New(errkind.Fatal, fmt.Sprintf("capability: no such capability %q", name))}, nil
	}
	return c.Invoke(ctx, action, node, memCtx, cfg)
}
