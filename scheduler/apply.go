package scheduler

import (
	"time"

	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/errkind"
	"github.com/kestrelflow/taskforge/graph"
	"github.com/kestrelflow/taskforge/hooks"
)

// apply writes a successful (non-error) ActionResult back to the graph and
// emits the corresponding events. n is the node as it was when dispatch
// started (status DOING already applied to the live graph).
func (s *Scheduler) apply(id string, n graph.Node, action capability.Action, result capability.ActionResult) {
	if result.Kind == capability.ActionError {
		s.finishWithError(id, n, action, result.Err)
		return
	}

	switch result.Kind {
	case capability.ActionPlan:
		s.applyPlan(id, n, result)
	case capability.ActionWrite:
		s.finishResult(id, n, action, graph.Result{Text: result.Text})
	case capability.ActionRetrieve:
		s.finishResult(id, n, action, graph.Result{Passages: result.Passages})
	case capability.ActionReason:
		s.finishResult(id, n, action, graph.Result{Conclusion: result.Conclusion})
	case capability.ActionAggregate:
		s.finishResult(id, n, action, graph.Result{Text: result.Aggregated})
	}
}

// applyPlan validates and materializes the child graph under id (spec
// §4.5's atomicity boundary: BuildInnerGraph either creates every child and
// edge or none), then moves id to PLAN_DONE.
func (s *Scheduler) applyPlan(id string, n graph.Node, result capability.ActionResult) {
	descriptors := make([]graph.ChildDescriptor, len(result.Subtasks))
	for i, st := range result.Subtasks {
		descriptors[i] = graph.ChildDescriptor{
			Task:       graph.TaskType(st.Task),
			Goal:       st.Goal,
			LengthHint: st.LengthHint,
			DependsOn:  st.DependsOn,
		}
	}

	s.publish(hooks.NewPlanReceived(s.RunID, id, result.Subtasks))

	childIDs, err := s.Graph.BuildInnerGraph(id, descriptors)
	if err != nil {
		s.finishWithError(id, n, capability.ActionKindPlan, errkind.Wrap(errkind.Validation, "scheduler: plan rejected", err))
		return
	}

	edgeCount := 0
	for _, cid := range childIDs {
		cn, ok := s.Graph.Get(cid)
		if !ok {
			continue
		}
		s.publish(hooks.NewNodeCreated(s.RunID, cid, cn.NID, string(cn.Kind), string(cn.Task)))
		s.publish(hooks.NewNodeAdded(s.RunID, id, cid))
		for _, pred := range cn.Predecessors {
			s.publish(hooks.NewEdgeAdded(s.RunID, pred, cid))
			edgeCount++
		}
	}
	s.publish(hooks.NewInnerGraphBuilt(s.RunID, id, len(childIDs), edgeCount))

	if err := s.Graph.ResetAttempts(id); err != nil {
		s.finishWithError(id, n, capability.ActionKindPlan, errkind.Wrap(errkind.Fatal, "scheduler: reset attempts failed", err))
		return
	}
	if _, err := s.Graph.SetStatus(id, graph.StatusPlanDone); err != nil {
		s.finishWithError(id, n, capability.ActionKindPlan, errkind.Wrap(errkind.Fatal, "scheduler: status transition failed", err))
		return
	}
	s.publish(hooks.NewNodeStatusChanged(s.RunID, id, n.NID, string(n.Status), string(graph.StatusPlanDone)))
	s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, "plan", string(graph.StatusPlanDone), ""))
}

// finishResult records a successful leaf/aggregate result and transitions to
// FINISHED, or to NEED_POST_REFLECT first if post-reflection is configured
// on (Open Question 2: pass straight through to FINISHED when disabled).
func (s *Scheduler) finishResult(id string, n graph.Node, action capability.Action, result graph.Result) {
	next := graph.StatusFinished
	if s.Config.PostReflect.Enabled && n.Status != graph.StatusNeedPostReflect {
		next = graph.StatusNeedPostReflect
	}
	if err := s.Graph.SetResult(id, result, next); err != nil {
		s.finishWithError(id, n, action, errkind.Wrap(errkind.Fatal, "scheduler: set result failed", err))
		return
	}
	s.publish(hooks.NewNodeStatusChanged(s.RunID, id, n.NID, string(n.Status), string(next)))
	s.publish(hooks.NewNodeResultAvailable(s.RunID, id, n.NID))
	s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(next), ""))
}

// finishWithError applies spec §7's retry/backoff/policy rules for a failed
// action attempt. The step_finished event is emitted once the outcome
// (retry, demotion, or terminal failure) is known, so its post-status
// reflects the node's actual resulting status rather than the error kind.
func (s *Scheduler) finishWithError(id string, n graph.Node, action capability.Action, e *errkind.Error) {
	attempts, err := s.Graph.IncAttempts(id)
	if err != nil {
		attempts = n.Attempts + 1
	}
	e.Attempts = attempts

	switch e.Kind {
	case errkind.Policy:
		s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(graph.StatusReady), e.Message))
		s.applyPolicyDemotion(id)
		return
	case errkind.Transient, errkind.Validation:
		if attempts <= s.Config.Retries.Max {
			backoff := s.Config.BackoffFor(attempts)
			if backoff > 0 {
				time.Sleep(backoff)
			}
			if _, err := s.Graph.SetStatus(id, graph.StatusReady); err != nil {
				s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(graph.StatusFailed), err.Error()))
				s.failNode(id, n, errkind.Wrap(errkind.Fatal, "scheduler: retry transition failed", err))
				return
			}
			s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(graph.StatusReady), e.Message))
			return
		}
		s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(graph.StatusFailed), e.Message))
		s.failNode(id, n, e)
	default: // Fatal, Deadlock
		s.publish(hooks.NewStepFinished(s.RunID, id, n.NID, string(action), string(graph.StatusFailed), e.Message))
		s.failNode(id, n, e)
	}
}

// applyPolicyDemotion implements spec §7's Policy-kind handling: a PLAN node
// that cannot plan further (e.g. scheduler.max_layers exceeded) is demoted
// to EXECUTE and retried once as a direct write.
func (s *Scheduler) applyPolicyDemotion(id string) {
	n, ok := s.Graph.Get(id)
	if !ok {
		return
	}
	if err := s.Graph.DemoteToExecute(id); err != nil {
		s.failNode(id, n, errkind.Wrap(errkind.Fatal, "scheduler: demotion failed", err))
		return
	}
	if err := s.Graph.ResetAttempts(id); err != nil {
		s.failNode(id, n, errkind.Wrap(errkind.Fatal, "scheduler: reset attempts failed", err))
		return
	}
	if _, err := s.Graph.SetStatus(id, graph.StatusReady); err != nil {
		s.failNode(id, n, errkind.Wrap(errkind.Fatal, "scheduler: status transition failed", err))
		return
	}
	s.publish(hooks.NewNodeStatusChanged(s.RunID, id, n.NID, string(n.Status), string(graph.StatusReady)))
}

func (s *Scheduler) failNode(id string, n graph.Node, e *errkind.Error) {
	_ = s.Graph.SetResult(id, graph.Result{Err: e}, graph.StatusFailed)
	s.publish(hooks.NewNodeStatusChanged(s.RunID, id, n.NID, string(n.Status), string(graph.StatusFailed)))
	s.publish(hooks.NewNodeResultAvailable(s.RunID, id, n.NID))
}
