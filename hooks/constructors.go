package hooks

// Constructors for every concrete event type. Producers outside this
// package (the scheduler, memory, registry) cannot set the unexported base
// fields directly, so they always go through one of these; the Bus then
// stamps Seq/At at publish time via the embedded base's setSeq.

func NewRunStarted(runID, goal, mode string) RunStarted {
	return RunStarted{base: base{runID: runID}, Goal: goal, Mode: mode}
}

func NewRunFinished(runID, status, errKind, errMessage, failingNID string) RunFinished {
	return RunFinished{base: base{runID: runID}, Status: status, ErrorKind: errKind, ErrorMessage: errMessage, FailingNodeNID: failingNID}
}

func NewStepStarted(runID, nodeID, nid, action, priorState string) StepStarted {
	return StepStarted{base: base{runID: runID}, NodeID: nodeID, NID: nid, Action: action, PriorState: priorState}
}

func NewStepFinished(runID, nodeID, nid, action, postStatus, errMsg string) StepFinished {
	return StepFinished{base: base{runID: runID}, NodeID: nodeID, NID: nid, Action: action, PostStatus: postStatus, Err: errMsg}
}

func NewNodeCreated(runID, nodeID, nid, kind, task string) NodeCreated {
	return NodeCreated{base: base{runID: runID}, NodeID: nodeID, NID: nid, Kind: kind, Task: task}
}

func NewNodeAdded(runID, parentNodeID, nodeID string) NodeAdded {
	return NodeAdded{base: base{runID: runID}, ParentNodeID: parentNodeID, NodeID: nodeID}
}

func NewEdgeAdded(runID, fromNodeID, toNodeID string) EdgeAdded {
	return EdgeAdded{base: base{runID: runID}, FromNodeID: fromNodeID, ToNodeID: toNodeID}
}

func NewInnerGraphBuilt(runID, parentNodeID string, nodeCount, edgeCount int) InnerGraphBuilt {
	return InnerGraphBuilt{base: base{runID: runID}, ParentNodeID: parentNodeID, NodeCount: nodeCount, EdgeCount: edgeCount}
}

func NewNodeStatusChanged(runID, nodeID, nid, oldStatus, newStatus string) NodeStatusChanged {
	return NodeStatusChanged{base: base{runID: runID}, NodeID: nodeID, NID: nid, Old: oldStatus, New: newStatus}
}

func NewPlanReceived(runID, nodeID string, rawPlan any) PlanReceived {
	return PlanReceived{base: base{runID: runID}, NodeID: nodeID, RawPlan: rawPlan}
}

func NewNodeResultAvailable(runID, nodeID, nid string) NodeResultAvailable {
	return NodeResultAvailable{base: base{runID: runID}, NodeID: nodeID, NID: nid}
}

func NewLLMCallStarted(runID, callID, nodeID, model string) LLMCallStarted {
	return LLMCallStarted{base: base{runID: runID}, CallID: callID, NodeID: nodeID, Model: model}
}

func NewLLMCallCompleted(runID, callID, nodeID, model string, durationMillis int64, promptTokens, completionTokens int, errMsg string) LLMCallCompleted {
	return LLMCallCompleted{
		base: base{runID: runID}, CallID: callID, NodeID: nodeID, Model: model,
		DurationMillis: durationMillis, PromptTokens: promptTokens, CompletionTokens: completionTokens, Err: errMsg,
	}
}

func NewToolInvoked(runID, callID, nodeID, api string) ToolInvoked {
	return ToolInvoked{base: base{runID: runID}, CallID: callID, NodeID: nodeID, API: api}
}

func NewToolReturned(runID, callID, nodeID, api, state string, durationMillis int64) ToolReturned {
	return ToolReturned{base: base{runID: runID}, CallID: callID, NodeID: nodeID, API: api, State: state, DurationMillis: durationMillis}
}
