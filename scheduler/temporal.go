package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/kestrelflow/taskforge/graph"
)

// TemporalEngine is a durable backend for Scheduler.Run (spec SPEC_FULL.md
// §11: "a durable engine.Engine backend ... so a run's scheduling loop can
// survive process restarts"). It deliberately does not replicate the
// teacher's per-node-deterministic-workflow design (runtime/agent/engine/temporal):
// that design makes every scheduler decision a separate, replayable
// Temporal command so an individual capability call can be retried and
// resumed node-by-node across worker restarts. This engine takes the
// simpler shape spec §9's Non-goals imply are enough for a single logical
// run: one workflow per run wrapping exactly one activity, which re-enters
// the ordinary in-memory Scheduler.Run loop. A worker crash mid-run loses
// the whole run's progress back to its last snapshot (see the snapshot
// package), not just the in-flight node. The activity runs with a single
// attempt (RetryPolicy.MaximumAttempts is 1): when its worker dies, the
// heartbeat timeout fails the workflow and Temporal does not retry the
// activity. Temporal's contribution here is "the run is observed
// durably", not "every node survives a process crash independently".
type TemporalEngine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker

	mu         sync.Mutex
	schedulers map[string]*Scheduler
}

// NewTemporalEngine wraps an already-connected Temporal client. taskQueue
// names the queue this process's worker polls.
func NewTemporalEngine(c client.Client, taskQueue string) *TemporalEngine {
	return &TemporalEngine{
		client:     c,
		taskQueue:  taskQueue,
		schedulers: make(map[string]*Scheduler),
	}
}

// RunWorkflowInput is the durable record Temporal persists for a run: just
// enough for RunActivity to find the in-memory Scheduler registered under
// the run's ID (the Scheduler itself — its Registry, Bus, Caches — is
// process-local and not reconstructable from workflow history alone).
type RunWorkflowInput struct {
	RunID string
}

// RunWorkflowOutput carries the root node's final result back through the
// workflow completion.
type RunWorkflowOutput struct {
	Result graph.Result
}

// RegisterRun makes s available to the activity under runID. Call before
// StartRun; RunActivity fails when no Scheduler is registered for its
// run ID, and with a single attempt that failure ends the workflow.
func (te *TemporalEngine) RegisterRun(runID string, s *Scheduler) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.schedulers[runID] = s
}

// UnregisterRun drops a completed run's Scheduler reference.
func (te *TemporalEngine) UnregisterRun(runID string) {
	te.mu.Lock()
	defer te.mu.Unlock()
	delete(te.schedulers, runID)
}

func (te *TemporalEngine) schedulerFor(runID string) (*Scheduler, error) {
	te.mu.Lock()
	defer te.mu.Unlock()
	s, ok := te.schedulers[runID]
	if !ok {
		return nil, fmt.Errorf("scheduler: temporal: no registered scheduler for run %s", runID)
	}
	return s, nil
}

// RunWorkflow is the Temporal workflow definition: a single activity that
// runs the in-memory scheduler loop to completion. Workflow code itself
// must stay deterministic, so all the actual scheduling logic lives in
// RunActivity, not here.
func (te *TemporalEngine) RunWorkflow(ctx workflow.Context, input RunWorkflowInput) (RunWorkflowOutput, error) {
	ao := workflow.ActivityOptions{
		// The run can take arbitrarily long (it is itself a long-running
		// content-generation loop); a heartbeat timeout, not a
		// StartToClose budget, is what detects a dead worker.
		StartToCloseTimeout: 0,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out RunWorkflowOutput
	err := workflow.ExecuteActivity(ctx, te.RunActivity, input).Get(ctx, &out)
	return out, err
}

// RunActivity re-enters Scheduler.Run for the registered run. It is not
// itself deterministic (it makes live LLM/search calls through the
// capability registry), which is exactly what Temporal activities, as
// opposed to workflow code, are for.
func (te *TemporalEngine) RunActivity(ctx context.Context, input RunWorkflowInput) (RunWorkflowOutput, error) {
	s, err := te.schedulerFor(input.RunID)
	if err != nil {
		return RunWorkflowOutput{}, err
	}

	stop := make(chan struct{})
	go heartbeatLoop(ctx, stop)
	defer close(stop)

	result, err := s.Run(ctx)
	if err != nil {
		return RunWorkflowOutput{}, err
	}
	return RunWorkflowOutput{Result: result}, nil
}

// heartbeatLoop pings Temporal every 15s so the workflow's HeartbeatTimeout
// only fires when the process hosting RunActivity has actually died, not
// merely because a single scheduler dispatch is slow.
func heartbeatLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			activity.RecordHeartbeat(ctx, "running")
		}
	}
}

// StartRun registers s under runID and starts (or, on re-submission with
// the same workflow id, relies on Temporal to dedupe) the durable
// workflow. The returned client.WorkflowRun can be waited on with Get.
func (te *TemporalEngine) StartRun(ctx context.Context, runID string, s *Scheduler) (client.WorkflowRun, error) {
	te.RegisterRun(runID, s)
	return te.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        runID,
		TaskQueue: te.taskQueue,
	}, te.RunWorkflow, RunWorkflowInput{RunID: runID})
}

// StartWorker registers the workflow/activity and starts polling
// taskQueue. Blocks until ctx is cancelled or the worker fails to start.
func (te *TemporalEngine) StartWorker(ctx context.Context) error {
	w := worker.New(te.client, te.taskQueue, worker.Options{})
	w.RegisterWorkflow(te.RunWorkflow)
	w.RegisterActivity(te.RunActivity)
	te.worker = w
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return w.Run(stop)
}

// Stop requests the worker to stop polling. Safe to call even if
// StartWorker was never invoked.
func (te *TemporalEngine) Stop() {
	if te.worker != nil {
		te.worker.Stop()
	}
}
