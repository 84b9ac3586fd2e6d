// Package api implements the C8 Public API of spec §4.8: the small set of
// operations (Start/Status/Result/Graph/Subscribe/Cancel/ListRuns/DeleteRun)
// an operator or UI drives a run through, plus the HTTP surface that
// exposes them. Engine is the only place that owns a run's full set of
// live dependencies (graph, scheduler, memory, event bus); everything else
// in this repository is a library Engine wires together.
package api

import (
	"time"

	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/graph"
)

// StartRequest is the input to Engine.Start (spec §4.8 start(goal, mode,
// config)).
type StartRequest struct {
	Goal   string
	Mode   config.Mode
	Config config.Config
}

// RunState is the coarse status spec §4.8's status() returns.
type RunState string

const (
	RunRunning   RunState = "running"
	RunDone      RunState = "done"
	RunError     RunState = "error"
	RunCancelled RunState = "cancelled"
)

// Progress summarizes graph completion for a status response: counts, not
// a percentage, so callers needing a single number can compute it (see
// ProgressPercent) without the server baking in a presentation choice.
type Progress struct {
	TotalNodes      int
	FinishedNodes   int
	FailedNodes     int
	InFlightNodes   int
}

// ProgressPercent reduces Progress to 0-100 for display, weighting FAILED
// nodes as incomplete (a failed node never retries further under its own
// action, but it is not "done" in the sense a status bar means).
func (p Progress) ProgressPercent() int {
	if p.TotalNodes == 0 {
		return 0
	}
	return (p.FinishedNodes * 100) / p.TotalNodes
}

// StatusResponse is spec §4.8's status(run_id) result.
type StatusResponse struct {
	RunID      string
	State      RunState
	Progress   Progress
	RootStatus graph.Status
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// ResultResponse is spec §4.8's result(run_id) result: the root node's
// final artifact, or its error.
type ResultResponse struct {
	RunID  string
	Result graph.Result
}

// NodeSnapshot is one node's point-in-time view for visualization,
// decoupled from graph.Node the way capability.NodeView is, so API callers
// never import the graph package's mutation surface.
type NodeSnapshot struct {
	ID            string
	NID           string
	Kind          string
	Task          string
	Goal          string
	Status        string
	Layer         int
	OuterParent   string
	Predecessors  []string
	InnerChildren []string
	Result        graph.Result
	Attempts      int
}

// GraphSnapshot is spec §4.8's graph(run_id) result: every node, NID-sorted
// for a stable presentation order.
type GraphSnapshot struct {
	RunID  string
	RootID string
	Nodes  []NodeSnapshot
}

// RunSummary is one entry of spec §4.8's list_runs() result.
type RunSummary struct {
	RunID     string
	Goal      string
	Mode      config.Mode
	State     RunState
	StartedAt time.Time
}
