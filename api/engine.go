package api

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/graph"
	"github.com/kestrelflow/taskforge/hooks"
	"github.com/kestrelflow/taskforge/memory"
	"github.com/kestrelflow/taskforge/scheduler"
	"github.com/kestrelflow/taskforge/snapshot"
	"github.com/kestrelflow/taskforge/telemetry"
	"golang.org/x/time/rate"
)

// snapshotInterval bounds how often a live run's state hits disk; frequent
// enough that Resume after a crash loses at most one interval's progress,
// infrequent enough that it never competes with the scheduler for the
// graph's write lock.
const snapshotInterval = 5 * time.Second

// Engine owns every active and completed run's live dependencies (spec
// §4.8). It is the only component in this repository that constructs a
// graph.Graph, hooks.Bus, memory.Collector, and scheduler.Scheduler
// together for a given run id.
type Engine struct {
	Registry *capability.Registry
	Caches   scheduler.Caches
	Logger   telemetry.Logger

	// RateLimits is forwarded to every Scheduler this Engine starts,
	// keyed by capability name (spec SPEC_FULL.md "rate limiting and
	// backoff as a first-class scheduler concern").
	RateLimits map[string]*rate.Limiter

	// SnapshotDir is the root directory under which each run gets its own
	// subdirectory (spec §4.7). Empty disables snapshotting.
	SnapshotDir string

	mu   sync.Mutex
	runs map[string]*run
}

// run bundles one Start call's live state.
type run struct {
	id     string
	goal   string
	mode   config.Mode
	cfg    config.Config

	g      *graph.Graph
	bus    *hooks.Bus
	mem    *memory.Collector
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       RunState
	result      graph.Result
	runErr      error
	startedAt   time.Time
	updatedAt   time.Time
	cancelled   bool
}

// NewEngine constructs an Engine with no active runs. Registry is required;
// Caches/Logger/RateLimits/SnapshotDir are optional (zero values disable
// the corresponding feature).
func NewEngine(registry *capability.Registry) *Engine {
	return &Engine{
		Registry: registry,
		Logger:   telemetry.NewNoopLogger(),
		runs:     make(map[string]*run),
	}
}

// globalConfigFrom projects the subset of config.Config that belongs in
// memory.Context's part-5 "global configuration" (spec §4.4): the model
// selections and mode, since those are the configuration facts a
// capability's prompt plausibly needs to see, not scheduler internals like
// retry counts.
func globalConfigFrom(cfg config.Config) map[string]string {
	return map[string]string{
		"mode":           string(cfg.Mode),
		"model.plan":      cfg.Model.Plan,
		"model.execute":   cfg.Model.Execute,
		"model.aggregate": cfg.Model.Aggregate,
	}
}

// Start creates the root node and begins execution asynchronously (spec
// §4.8 start(goal, mode, config) -> run_id).
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := req.Config.Validate(); err != nil {
		return "", err
	}
	if req.Goal == "" {
		return "", fmt.Errorf("api: goal must not be empty")
	}

	g := graph.New()
	rootID, err := g.AddRoot(graph.TaskComposition, req.Goal, 0, graph.KindPlan)
	if err != nil {
		return "", err
	}
	runID := rootID

	bus := hooks.NewBus()
	mem := memory.NewCollector(g, globalConfigFrom(req.Config))
	sched := &scheduler.Scheduler{
		RunID:      runID,
		Graph:      g,
		Registry:   e.Registry,
		Memory:     mem,
		Caches:     e.Caches,
		Bus:        bus,
		Config:     req.Config,
		Logger:     e.Logger,
		RateLimits: e.RateLimits,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        runID,
		goal:      req.Goal,
		mode:      req.Config.Mode,
		cfg:       req.Config,
		g:         g,
		bus:       bus,
		mem:       mem,
		sched:     sched,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     RunRunning,
		startedAt: time.Now(),
		updatedAt: time.Now(),
	}

	e.mu.Lock()
	e.runs[runID] = r
	e.mu.Unlock()

	go e.runLoop(runCtx, r)
	return runID, nil
}

// runLoop drives one run's Scheduler to completion, snapshotting
// periodically and once more, terminally, at the end.
func (e *Engine) runLoop(ctx context.Context, r *run) {
	stopSnapshots := make(chan struct{})
	if e.SnapshotDir != "" {
		go e.snapshotLoop(r, stopSnapshots)
	}

	result, err := r.sched.Run(ctx)
	close(stopSnapshots)

	r.mu.Lock()
	r.result = result
	r.runErr = err
	r.updatedAt = time.Now()
	switch {
	case r.cancelled:
		r.state = RunCancelled
	case err != nil, result.Err != nil:
		r.state = RunError
	default:
		root, ok := r.g.Get(r.g.RootID)
		if ok && root.Status == graph.StatusFailed {
			r.state = RunError
		} else {
			r.state = RunDone
		}
	}
	r.mu.Unlock()

	if e.SnapshotDir != "" {
		_ = e.saveSnapshot(r, true)
	}
	close(r.done)
}

func (e *Engine) snapshotLoop(r *run, stop <-chan struct{}) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = e.saveSnapshot(r, false)
		}
	}
}

func (e *Engine) runDir(runID string) string {
	return filepath.Join(e.SnapshotDir, runID)
}

func (e *Engine) saveSnapshot(r *run, done bool) error {
	return snapshot.Save(e.runDir(r.id), r.g, r.mem.Config(), r.cfg, r.g.RunningArticle(), done)
}

func (e *Engine) get(runID string) (*run, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("api: no such run %q", runID)
	}
	return r, nil
}

// Status reports a run's coarse state and progress (spec §4.8 status).
func (e *Engine) Status(runID string) (StatusResponse, error) {
	r, err := e.get(runID)
	if err != nil {
		return StatusResponse{}, err
	}
	nodes := r.g.All()
	var p Progress
	p.TotalNodes = len(nodes)
	for _, n := range nodes {
		switch n.Status {
		case graph.StatusFinished:
			p.FinishedNodes++
		case graph.StatusFailed:
			p.FailedNodes++
		case graph.StatusDoing:
			p.InFlightNodes++
		}
	}
	root, _ := r.g.Get(r.g.RootID)

	r.mu.Lock()
	state := r.state
	startedAt := r.startedAt
	updatedAt := r.updatedAt
	r.mu.Unlock()

	return StatusResponse{
		RunID:      runID,
		State:      state,
		Progress:   p,
		RootStatus: root.Status,
		StartedAt:  startedAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// Result returns a run's final artifact or error (spec §4.8 result). It
// returns an error if the run has not yet reached a terminal state.
func (e *Engine) Result(runID string) (ResultResponse, error) {
	r, err := e.get(runID)
	if err != nil {
		return ResultResponse{}, err
	}
	r.mu.Lock()
	state := r.state
	result := r.result
	r.mu.Unlock()
	if state == RunRunning {
		return ResultResponse{}, fmt.Errorf("api: run %q has not finished", runID)
	}
	return ResultResponse{RunID: runID, Result: result}, nil
}

// Graph returns a point-in-time snapshot of every node, NID-sorted (spec
// §4.8 graph(run_id)).
func (e *Engine) Graph(runID string) (GraphSnapshot, error) {
	r, err := e.get(runID)
	if err != nil {
		return GraphSnapshot{}, err
	}
	nodes := r.g.All()
	snaps := make([]NodeSnapshot, len(nodes))
	for i, n := range nodes {
		snaps[i] = toNodeSnapshot(n)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].NID < snaps[j].NID })
	return GraphSnapshot{RunID: runID, RootID: r.g.RootID, Nodes: snaps}, nil
}

func toNodeSnapshot(n graph.Node) NodeSnapshot {
	return NodeSnapshot{
		ID:            n.ID,
		NID:           n.NID,
		Kind:          string(n.Kind),
		Task:          string(n.Task),
		Goal:          n.Goal,
		Status:        string(n.Status),
		Layer:         n.Layer,
		OuterParent:   n.OuterParent,
		Predecessors:  n.Predecessors,
		InnerChildren: n.InnerChildren,
		Result:        n.Result,
		Attempts:      n.Attempts,
	}
}

// Subscribe attaches a live + replay event stream starting at fromSeq
// (spec §4.8 subscribe(run_id, from_sequence)).
func (e *Engine) Subscribe(runID string, fromSeq uint64) (*hooks.Stream, error) {
	r, err := e.get(runID)
	if err != nil {
		return nil, err
	}
	return r.bus.Subscribe(fromSeq)
}

// Cancel requests cooperative termination (spec §4.8 cancel, spec §5). It
// deliberately only sets the Scheduler's cooperative flag, never the
// run's context.CancelFunc: hard-cancelling runCtx here would abort
// in-flight capability calls immediately, violating spec §5's guarantee
// that they are allowed to complete and have their results cached. The
// context.CancelFunc exists solely for DeleteRun's forced teardown.
func (e *Engine) Cancel(runID string) error {
	r, err := e.get(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.sched.Cancel()
	return nil
}

// ListRuns returns a summary of every run this Engine has started, most
// recently started first (spec §4.8 list_runs).
func (e *Engine) ListRuns() []RunSummary {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		r.mu.Lock()
		out[i] = RunSummary{RunID: r.id, Goal: r.goal, Mode: r.mode, State: r.state, StartedAt: r.startedAt}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// DeleteRun forcibly tears down a run's goroutines (unlike Cancel, this
// hard-cancels runCtx: the run is being removed outright, so letting an
// in-flight call finish serves no purpose) and forgets it. Its snapshot
// directory, if any, is left on disk; callers that also want it removed
// should do so explicitly (spec §4.8 does not specify snapshot retention
// after delete_run).
func (e *Engine) DeleteRun(runID string) error {
	e.mu.Lock()
	r, ok := e.runs[runID]
	if ok {
		delete(e.runs, runID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("api: no such run %q", runID)
	}
	r.cancel()
	r.bus.Close()
	return nil
}

// Resume reconstructs a run from its snapshot directory and, if the
// snapshot was not marked done, continues running it under the same
// run id (spec §4.7's round-trip contract).
func (e *Engine) Resume(runID string) (string, error) {
	if e.SnapshotDir == "" {
		return "", fmt.Errorf("api: snapshotting is disabled, nothing to resume")
	}
	dir := e.runDir(runID)
	if !snapshot.Exists(dir) {
		return "", fmt.Errorf("api: no snapshot for run %q", runID)
	}
	state, err := snapshot.Load(dir)
	if err != nil {
		return "", err
	}

	bus := hooks.NewBus()
	mem := memory.NewCollector(state.Graph, state.GlobalConfig)
	sched := &scheduler.Scheduler{
		RunID:      runID,
		Graph:      state.Graph,
		Registry:   e.Registry,
		Memory:     mem,
		Caches:     e.Caches,
		Bus:        bus,
		Config:     state.Config,
		Logger:     e.Logger,
		RateLimits: e.RateLimits,
	}

	root, _ := state.Graph.Get(state.Graph.RootID)
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        runID,
		goal:      root.Goal,
		mode:      state.Config.Mode,
		cfg:       state.Config,
		g:         state.Graph,
		bus:       bus,
		mem:       mem,
		sched:     sched,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		updatedAt: time.Now(),
	}
	if state.Done || root.Status.Terminal() {
		r.state = RunDone
		if root.Status == graph.StatusFailed {
			r.state = RunError
		}
		close(r.done)
		e.mu.Lock()
		e.runs[runID] = r
		e.mu.Unlock()
		return runID, nil
	}

	r.state = RunRunning
	e.mu.Lock()
	e.runs[runID] = r
	e.mu.Unlock()
	go e.runLoop(runCtx, r)
	return runID, nil
}
