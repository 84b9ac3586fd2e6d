// Package graph implements the two-level task graph of spec §3/§4.5: an
// outer containment tree of Nodes, and per-PLAN-node inner DAGs of
// dependency edges among that node's children.
//
// Cyclic object graphs in the original design (nodes holding pointers to
// parents and siblings) are re-architected here as arena-allocated nodes:
// the Graph owns every Node by value in a map keyed by ID, and parent/
// predecessor/child references are IDs, not pointers. This follows the
// teacher's run/engine separation (run.Context carries identifiers, never
// live pointers) and makes §4.7 snapshotting a matter of serializing maps.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelflow/taskforge/errkind"
)

// Kind distinguishes PLAN nodes (which own an inner graph of children) from
// EXECUTE nodes (leaves that produce a result directly).
type Kind string

const (
	KindPlan    Kind = "PLAN"
	KindExecute Kind = "EXECUTE"
)

// TaskType is the heterogeneous subtask classification from spec §3. It
// replaces dynamic dispatch on task type (spec §9 design note) with a
// closed tagged variant consulted by the scheduler's action table.
type TaskType string

const (
	TaskComposition TaskType = "COMPOSITION"
	TaskRetrieval   TaskType = "RETRIEVAL"
	TaskReasoning   TaskType = "REASONING"
)

// Status is the per-node state machine value from spec §4.5.
type Status string

const (
	StatusNotReady         Status = "NOT_READY"
	StatusReady            Status = "READY"
	StatusDoing            Status = "DOING"
	StatusPlanDone         Status = "PLAN_DONE"
	StatusNeedUpdate       Status = "NEED_UPDATE"
	StatusNeedPostReflect  Status = "NEED_POST_REFLECT"
	StatusFinished         Status = "FINISHED"
	StatusFailed           Status = "FAILED"
)

// Terminal reports whether status is one a node never leaves.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Result is the structured output of a FINISHED or FAILED node (spec §3,
// invariant I6: write-once once non-empty with status FINISHED).
type Result struct {
	// Text holds composition/aggregation output.
	Text string `json:"text,omitempty"`
	// Passages holds retrieval results.
	Passages []string `json:"passages,omitempty"`
	// Conclusion holds reasoning output.
	Conclusion string `json:"conclusion,omitempty"`
	// Err is populated on FAILED, encoding { kind, message, attempts } per §7.
	Err *errkind.Error `json:"err,omitempty"`
}

// Empty reports whether the result carries no payload yet.
func (r Result) Empty() bool {
	return r.Text == "" && len(r.Passages) == 0 && r.Conclusion == "" && r.Err == nil
}

// Node is the unit of work described in spec §3. Parent/predecessor/child
// relationships are held as IDs; only the Graph that owns a Node dereferences
// them, which keeps Nodes safe to copy for read-only snapshots (visualization,
// event payloads) without aliasing mutable state.
type Node struct {
	ID     string
	NID    string // human-readable hierarchical path, e.g. "1.2.3"
	Kind   Kind
	Task   TaskType
	Goal   string
	// LengthHint is an optional target size for composition nodes.
	LengthHint int
	Layer      int
	Status     Status
	Result     Result

	// OuterParent is the containment parent's ID; empty for the root.
	OuterParent string
	// Predecessors are lateral dependency IDs; always siblings (I3).
	Predecessors []string
	// InnerChildren lists, in creation order, the IDs of this PLAN node's
	// owned children. Empty for EXECUTE nodes and for PLAN nodes that have
	// not yet produced a plan.
	InnerChildren []string
	// InnerEdges is the dependency relation within this node's inner graph:
	// a map from child ID to the IDs of its predecessors (all in
	// InnerChildren). Only meaningful when Kind == KindPlan.
	InnerEdges map[string][]string
	// InnerTopoOrder is materialized once the plan is accepted (§4.5 step 4)
	// and is stable for the node's lifetime (I4-adjacent: position is fixed
	// at acceptance time).
	InnerTopoOrder []string

	CreatedAt time.Time
	UpdatedAt time.Time

	// attempts counts action attempts for the node's current action, reset
	// whenever the node advances to a new status that dispatches a new kind
	// of action (e.g. PLAN_DONE -> NEED_UPDATE starts a fresh attempt count).
	Attempts int
}

// clone returns a deep-enough copy of n suitable for handing to callers that
// must not observe future mutations (read guards, event payloads).
func (n Node) clone() Node {
	cp := n
	cp.Predecessors = append([]string(nil), n.Predecessors...)
	cp.InnerChildren = append([]string(nil), n.InnerChildren...)
	cp.InnerTopoOrder = append([]string(nil), n.InnerTopoOrder...)
	if n.InnerEdges != nil {
		cp.InnerEdges = make(map[string][]string, len(n.InnerEdges))
		for k, v := range n.InnerEdges {
			cp.InnerEdges[k] = append([]string(nil), v...)
		}
	}
	cp.Result.Passages = append([]string(nil), n.Result.Passages...)
	return cp
}

// NewID generates a node identifier. Exposed so callers constructing root
// nodes outside the Graph (e.g. the API layer) use the same ID scheme as
// Graph.AddRoot and Graph.BuildInnerGraph.
func NewID() string {
	return uuid.NewString()
}

// ChildNID computes the hierarchical path for the (1-based) idx'th child of
// a node whose own NID is parentNID. The root's NID is "1".
func ChildNID(parentNID string, idx1Based int) string {
	if parentNID == "" {
		return fmt.Sprintf("%d", idx1Based)
	}
	return fmt.Sprintf("%s.%d", parentNID, idx1Based)
}

// stableSortByNID sorts ids lexicographically by NID, the tie-break order
// spec §4.5 specifies for scheduler candidate selection.
func stableSortByNID(ids []string, nidOf func(string) string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return nidOf(ids[i]) < nidOf(ids[j])
	})
}
