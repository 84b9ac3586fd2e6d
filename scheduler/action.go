// Package scheduler implements the C6 Scheduler/Engine of spec §4.6: the
// main dispatch loop that repeatedly advances graph readiness, picks ready
// nodes in deterministic tie-break order, invokes the capability registry
// through the cache, and applies results back to the graph under the
// retry/backoff and policy-degradation rules of spec §7.
package scheduler

import (
	"fmt"

	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/graph"
)

// selectAction implements spec §4.5's "action-per-state mapping": the
// scheduler chooses the action for a node deterministically from
// (kind, task_type, status).
func selectAction(n graph.Node) (capability.Action, bool) {
	switch n.Status {
	case graph.StatusReady:
		if n.Kind == graph.KindPlan {
			return capability.ActionKindPlan, true
		}
		switch n.Task {
		case graph.TaskRetrieval:
			return capability.ActionKindRetrieve, true
		case graph.TaskReasoning:
			return capability.ActionKindReason, true
		default:
			return capability.ActionKindWrite, true
		}
	case graph.StatusNeedUpdate:
		return capability.ActionKindAggregate, true
	case graph.StatusNeedPostReflect:
		return capability.ActionKindReflect, true
	default:
		return "", false
	}
}

// capabilityNameFor maps an action to the configured capability name (spec
// §6: model.plan/execute/aggregate select capability names, not model
// identifiers directly — the capability itself owns which model it talks
// to).
func capabilityNameFor(action capability.Action, modelPlan, modelExecute, modelAggregate string) (string, error) {
	switch action {
	case capability.ActionKindPlan:
		return modelPlan, nil
	case capability.ActionKindWrite, capability.ActionKindRetrieve, capability.ActionKindReason, capability.ActionKindReflect:
		return modelExecute, nil
	case capability.ActionKindAggregate:
		return modelAggregate, nil
	default:
		return "", fmt.Errorf("scheduler: no capability mapping for action %q", action)
	}
}

// cacheNamespaceFor groups actions into the two resource classes spec §4.2
// and §6 name: "llm" for every model-backed action, "search" for
// retrieval.
func cacheNamespaceFor(action capability.Action) string {
	if action == capability.ActionKindRetrieve {
		return "search"
	}
	return "llm"
}
