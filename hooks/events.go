// Package hooks implements the event bus of spec §4.1: an ordered,
// append-only broadcast of run lifecycle events to subscribers, with replay
// from a sequence number and bounded per-subscriber buffering so a slow
// consumer cannot stall the scheduler.
//
// The event taxonomy and the Subscriber contract are grounded in the
// teacher's runtime/agent/hooks package (synchronous, fail-fast fan-out);
// the sequence numbering, replay, and bounded-channel subscription model
// generalize that bus to the stronger ordering and backpressure contract
// spec §4.1 requires.
package hooks

import "time"

// EventType tags the concrete payload carried by an Event, letting
// subscribers filter or route without type assertions.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventRunFinished      EventType = "run_finished"
	EventStepStarted      EventType = "step_started"
	EventStepFinished     EventType = "step_finished"
	EventNodeCreated      EventType = "node_created"
	EventNodeAdded        EventType = "node_added"
	EventEdgeAdded        EventType = "edge_added"
	EventInnerGraphBuilt  EventType = "inner_graph_built"
	EventNodeStatusChange EventType = "node_status_changed"
	EventPlanReceived     EventType = "plan_received"
	EventNodeResultReady  EventType = "node_result_available"
	EventLLMCallStarted   EventType = "llm_call_started"
	EventLLMCallCompleted EventType = "llm_call_completed"
	EventToolInvoked      EventType = "tool_invoked"
	EventToolReturned     EventType = "tool_returned"
)

// Event is the interface every concrete event type implements. Subscribers
// use Type to route or filter and type-switch on the concrete type for
// structured field access, exactly as the teacher's hook events do.
type Event interface {
	Type() EventType
	RunID() string
	// Seq is assigned by the Bus at publish time (P5: contiguous from 0,
	// strictly increasing); zero-valued before publication.
	Seq() uint64
	// At is the wall-clock time the Bus assigned Seq, not when the event
	// was constructed, so subscribers can compute publish-to-delivery
	// latency independent of producer-side buffering.
	At() time.Time
}

// base is embedded by every concrete event type; the Bus populates seq/at
// via setSeq immediately before appending to its log, so producers never
// need to know the next sequence number.
type base struct {
	runID string
	seq   uint64
	at    time.Time
}

func (b base) RunID() string  { return b.runID }
func (b base) Seq() uint64    { return b.seq }
func (b base) At() time.Time  { return b.at }
func (b *base) setSeq(seq uint64, at time.Time) {
	b.seq = seq
	b.at = at
}

type sequencer interface {
	setSeq(seq uint64, at time.Time)
}

type (
	// RunStarted fires when a run begins execution.
	RunStarted struct {
		base
		Goal string
		Mode string
	}

	// RunFinished fires once, terminally, when the root reaches FINISHED or
	// FAILED, or when cancellation completes.
	RunFinished struct {
		base
		Status         string // "success", "failed", "cancelled"
		ErrorKind      string
		ErrorMessage   string
		FailingNodeNID string
	}

	// StepStarted fires at the start of a single scheduler dispatch for one
	// node (spec §4.6 dispatch_action).
	StepStarted struct {
		base
		NodeID     string
		NID        string
		Action     string
		PriorState string
	}

	// StepFinished fires when a dispatch completes, successfully or not.
	StepFinished struct {
		base
		NodeID     string
		NID        string
		Action     string
		PostStatus string
		Err        string
	}

	// NodeCreated fires once per child node that BuildInnerGraph allocates,
	// published by the scheduler when it applies a plan; the root's
	// creation is not announced by this event.
	NodeCreated struct {
		base
		NodeID string
		NID    string
		Kind   string
		Task   string
	}

	// NodeAdded fires when a node is attached to its containment parent's
	// inner graph.
	NodeAdded struct {
		base
		ParentNodeID string
		NodeID       string
	}

	// EdgeAdded fires once per dependency edge created by BuildInnerGraph.
	EdgeAdded struct {
		base
		FromNodeID string // predecessor
		ToNodeID   string // dependent
	}

	// InnerGraphBuilt fires once BuildInnerGraph completes, carrying the
	// node/edge counts (spec §4.5 step 6). This marks the end of the
	// "plan received ... inner graph built" atomicity boundary.
	InnerGraphBuilt struct {
		base
		ParentNodeID string
		NodeCount    int
		EdgeCount    int
	}

	// NodeStatusChanged fires on every node state transition.
	NodeStatusChanged struct {
		base
		NodeID string
		NID    string
		Old    string
		New    string
	}

	// PlanReceived fires with the raw plan payload before any graph
	// mutation, marking the start of the atomicity boundary.
	PlanReceived struct {
		base
		NodeID  string
		RawPlan any
	}

	// NodeResultAvailable fires the moment a node's result becomes readable
	// by dependents (spec P6: always precedes step_started for a node that
	// lists it as predecessor).
	NodeResultAvailable struct {
		base
		NodeID string
		NID    string
	}

	// LLMCallStarted/LLMCallCompleted bracket a single capability
	// invocation against an LLM-class resource.
	LLMCallStarted struct {
		base
		CallID string
		NodeID string
		Model  string
	}

	LLMCallCompleted struct {
		base
		CallID          string
		NodeID          string
		Model           string
		DurationMillis  int64
		PromptTokens    int
		CompletionTokens int
		Err             string
	}

	// ToolInvoked/ToolReturned bracket a single tool (search/retrieval)
	// capability invocation.
	ToolInvoked struct {
		base
		CallID string
		NodeID string
		API    string
	}

	ToolReturned struct {
		base
		CallID         string
		NodeID         string
		API            string
		State          string // "SUCCESS" or "ERROR"
		DurationMillis int64
	}
)

func (RunStarted) Type() EventType          { return EventRunStarted }
func (RunFinished) Type() EventType         { return EventRunFinished }
func (StepStarted) Type() EventType         { return EventStepStarted }
func (StepFinished) Type() EventType        { return EventStepFinished }
func (NodeCreated) Type() EventType         { return EventNodeCreated }
func (NodeAdded) Type() EventType           { return EventNodeAdded }
func (EdgeAdded) Type() EventType           { return EventEdgeAdded }
func (InnerGraphBuilt) Type() EventType     { return EventInnerGraphBuilt }
func (NodeStatusChanged) Type() EventType   { return EventNodeStatusChange }
func (PlanReceived) Type() EventType        { return EventPlanReceived }
func (NodeResultAvailable) Type() EventType { return EventNodeResultReady }
func (LLMCallStarted) Type() EventType      { return EventLLMCallStarted }
func (LLMCallCompleted) Type() EventType    { return EventLLMCallCompleted }
func (ToolInvoked) Type() EventType         { return EventToolInvoked }
func (ToolReturned) Type() EventType        { return EventToolReturned }
