package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kestrelflow/taskforge/cache"
	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/errkind"
	"github.com/kestrelflow/taskforge/graph"
	"github.com/kestrelflow/taskforge/hooks"
	"github.com/kestrelflow/taskforge/memory"
	"github.com/kestrelflow/taskforge/telemetry"
)

// Caches groups the per-namespace caches a Scheduler consults before
// invoking a capability (spec §4.2: separate namespaces per resource
// class).
type Caches struct {
	LLM    *cache.Cache
	Search *cache.Cache
}

func (c Caches) forNamespace(ns string) *cache.Cache {
	if ns == "search" {
		return c.Search
	}
	return c.LLM
}

// Scheduler runs the main dispatch loop of spec §4.6 against one graph.
// It is the in-memory Engine backend; Temporal-backed durability wraps a
// Scheduler rather than replacing it (see temporal.go).
type Scheduler struct {
	RunID      string
	Graph      *graph.Graph
	Registry   *capability.Registry
	Memory     *memory.Collector
	Caches     Caches
	Bus        *hooks.Bus
	Config     config.Config
	Logger     telemetry.Logger
	RateLimits map[string]*rate.Limiter // keyed by capability name; nil entries mean unlimited

	cancelled atomic32
}

type atomic32 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic32) set()      { a.mu.Lock(); a.v = true; a.mu.Unlock() }
func (a *atomic32) get() bool { a.mu.Lock(); defer a.mu.Unlock(); return a.v }

// Cancel requests cooperative termination (spec §5): checked at each loop
// iteration and before new dispatches; in-flight capability calls are
// allowed to finish.
func (s *Scheduler) Cancel() { s.cancelled.set() }

// Run executes the main loop until the root reaches FINISHED or FAILED, is
// cancelled, or deadlocks. It returns the root's final Result, or an error
// only for conditions the graph itself cannot represent (e.g. a
// programming error in the caller's wiring).
func (s *Scheduler) Run(ctx context.Context) (graph.Result, error) {
	if s.Logger == nil {
		s.Logger = telemetry.NewNoopLogger()
	}
	s.publish(hooks.NewRunStarted(s.RunID, s.rootGoal(), string(s.Config.Mode)))

	noProgressStreak := 0
	for {
		if s.cancelled.get() {
			s.publish(hooks.NewRunFinished(s.RunID, "cancelled", "", "", ""))
			root, _ := s.Graph.Get(s.Graph.RootID)
			return root.Result, nil
		}

		root, ok := s.Graph.Get(s.Graph.RootID)
		if !ok {
			return graph.Result{}, fmt.Errorf("scheduler: graph has no root")
		}
		if root.Status.Terminal() {
			status := "success"
			if root.Status == graph.StatusFailed {
				status = "failed"
			}
			var ek, em string
			if root.Result.Err != nil {
				ek, em = string(root.Result.Err.Kind), root.Result.Err.Message
			}
			s.publish(hooks.NewRunFinished(s.RunID, status, ek, em, root.NID))
			return root.Result, nil
		}

		changedReady, err := s.Graph.AdvanceReadiness()
		if err != nil {
			return graph.Result{}, err
		}
		for _, id := range changedReady {
			n, _ := s.Graph.Get(id)
			s.publish(hooks.NewNodeStatusChanged(s.RunID, id, n.NID, "", string(n.Status)))
		}

		candidates := s.Graph.Candidates(graph.StatusReady, graph.StatusNeedUpdate, graph.StatusNeedPostReflect)
		progressed := len(changedReady) > 0

		if len(candidates) == 0 {
			if s.Graph.AnyDoing() {
				noProgressStreak = 0
				select {
				case <-time.After(5 * time.Millisecond):
				case <-ctx.Done():
					return graph.Result{}, ctx.Err()
				}
				continue
			}
			if progressed {
				noProgressStreak = 0
				continue
			}
			noProgressStreak++
			if noProgressStreak >= 2 {
				return s.fail(errkind.New(errkind.Deadlock, "scheduler: no ready candidates and nothing in flight"), s.Graph.DeadlockNID())
			}
			continue
		}
		noProgressStreak = 0

		picked := pickBatch(candidates, s.Config.Scheduler.InFlightLimit)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, s.Config.Scheduler.InFlightLimit))
		for _, id := range picked {
			id := id
			g.Go(func() error {
				s.dispatch(gctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Scheduler) rootGoal() string {
	root, ok := s.Graph.Get(s.Graph.RootID)
	if !ok {
		return ""
	}
	return root.Goal
}

func (s *Scheduler) fail(e *errkind.Error, failingNID string) (graph.Result, error) {
	_ = s.Graph.SetResult(s.Graph.RootID, graph.Result{Err: e}, graph.StatusFailed)
	s.publish(hooks.NewRunFinished(s.RunID, "failed", string(e.Kind), e.Message, failingNID))
	return graph.Result{Err: e}, nil
}

func (s *Scheduler) publish(e hooks.Event) {
	if s.Bus == nil {
		return
	}
	_ = s.Bus.Publish(e)
}

// pickBatch applies the tie-break order of spec §4.5 (lowest
// (layer, topological index, nid)) and bounds the batch to the in-flight
// limit. Candidates arrive sorted by (layer, nid) from graph.Candidates;
// within one parent, NID order follows descriptor order, which is a
// topological order because dependencies only point at earlier subtasks.
// pickBatch keeps that order and truncates it to the limit.
func pickBatch(candidates []string, limit int) []string {
	if limit <= 0 {
		limit = 1
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// dispatch runs one scheduler iteration for a single node: select its
// action, invoke the capability (through cache + rate limiter), and apply
// the result to the graph, including retry/backoff and policy-degradation
// handling (spec §7).
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	n, ok := s.Graph.Get(id)
	if !ok {
		return
	}
	action, ok := selectAction(n)
	if !ok {
		return
	}

	if action == capability.ActionKindPlan && n.Layer+1 > s.Config.Scheduler.MaxLayers {
		s.applyPolicyDemotion(id)
		return
	}

	prior := n.Status
	if _, err := s.Graph.SetStatus(id, graph.StatusDoing); err != nil {
		return
	}
	s.publish(hooks.NewStepStarted(s.RunID, id, n.NID, string(action), string(prior)))

	memCtx, err := s.Memory.Collect(id)
	if err != nil {
		s.finishWithError(id, n, action, errkind.Wrap(errkind.Fatal, "scheduler: memory collection failed", err))
		return
	}

	capName, err := capabilityNameFor(action, s.Config.Model.Plan, s.Config.Model.Execute, s.Config.Model.Aggregate)
	if err != nil {
		s.finishWithError(id, n, action, errkind.FromError(err))
		return
	}

	if limiter := s.RateLimits[capName]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			s.finishWithError(id, n, action, errkind.Wrap(errkind.Transient, "scheduler: rate limiter wait failed", err))
			return
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if t := s.Config.CallTimeout(); t > 0 {
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	view := capability.NodeView{
		RunID: s.RunID, ID: n.ID, NID: n.NID, Kind: string(n.Kind), Task: string(n.Task),
		Goal: n.Goal, LengthHint: n.LengthHint, Attempts: n.Attempts,
	}
	cfg := capability.Config{Model: capName, MaxTokens: 0}

	ns := cacheNamespaceFor(action)
	result, err := s.invokeThroughCache(callCtx, ns, capName, n, view, memCtx, cfg)
	if err != nil {
		s.finishWithError(id, n, action, errkind.FromError(err))
		return
	}

	s.apply(id, n, action, result)
}

// invokeThroughCache fingerprints the request and consults the configured
// namespace cache (spec §4.2); a nil cache for the namespace (cache
// disabled) always misses straight through to the capability.
func (s *Scheduler) invokeThroughCache(ctx context.Context, namespace, capName string, n graph.Node, view capability.NodeView, memCtx memory.Context, cfg capability.Config) (capability.ActionResult, error) {
	c := s.Caches.forNamespace(namespace)
	if c == nil || !s.Config.CacheEnabledFor(namespace) {
		return s.Registry.Invoke(ctx, capName, selectActionMust(n), view, memCtx, cfg)
	}

	fp, err := cache.Fingerprint(cache.Request{
		Namespace: namespace, Capability: capName, Model: cfg.Model,
		Prompt: n.Goal, Arguments: map[string]any{"attempt": n.Attempts},
	})
	if err != nil {
		return capability.ActionResult{}, err
	}

	entry, err := c.GetOrCompute(ctx, fp, func(ctx context.Context) (json.RawMessage, error) {
		res, err := s.Registry.Invoke(ctx, capName, selectActionMust(n), view, memCtx, cfg)
		if err != nil {
			return nil, err
		}
		if res.Kind == capability.ActionError {
			// Errors from compute are not cached (spec §4.2): surface the
			// original *errkind.Error unchanged (singleflight.Do passes the
			// error value through as-is) so errkind.FromError below recovers
			// its Kind via errors.As instead of defaulting to Fatal.
			return nil, res.Err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return capability.ActionResult{Kind: capability.ActionError, Err: errkind.FromError(err)}, nil
	}
	var res capability.ActionResult
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		return capability.ActionResult{}, err
	}
	return res, nil
}

func selectActionMust(n graph.Node) capability.Action {
	a, _ := selectAction(n)
	return a
}
