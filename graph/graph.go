package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Graph owns every Node for a single run by value, keyed by ID (I1: the
// containment relation is a tree rooted at RootID). It is the single writer
// of node state; the scheduler and Memory hold only the Graph reference and
// never cache a Node pointer across a tick.
//
// All mutating methods acquire the write lock for their whole duration, so a
// node can never be concurrently advanced by two callers (P3). Read methods
// take the read lock and return clones, so visualization/event consumers
// never observe a half-built inner graph (the atomicity boundary in §4.5).
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]Node
	RootID string
}

// New creates an empty graph. Call AddRoot to seed it.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// AddRoot creates the root node and returns its ID. May only be called once
// per graph.
func (g *Graph) AddRoot(task TaskType, goal string, lengthHint int, kind Kind) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RootID != "" {
		return "", fmt.Errorf("graph: root already created")
	}
	id := NewID()
	g.nodes[id] = Node{
		ID:         id,
		NID:        "1",
		Kind:       kind,
		Task:       task,
		Goal:       goal,
		LengthHint: lengthHint,
		Layer:      0,
		Status:     StatusReady,
	}
	g.RootID = id
	return id, nil
}

// Get returns a clone of the node with the given ID.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// All returns clones of every node, unordered. Callers that need
// presentation order should sort by NID.
func (g *Graph) All() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.clone())
	}
	return out
}

// mustGet is the internal, lock-already-held accessor used by methods below.
func (g *Graph) mustGet(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("graph: unknown node %q", id)
	}
	return n, nil
}

// SetStatus transitions a node to newStatus and returns the old status.
// Callers are responsible for emitting the corresponding event; SetStatus
// itself only mutates graph state so the write stays inside the single
// writer's lock without taking a dependency on the event bus.
func (g *Graph) SetStatus(id string, newStatus Status) (old Status, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.mustGet(id)
	if err != nil {
		return "", err
	}
	old = n.Status
	n.Status = newStatus
	n.UpdatedAt = now()
	g.nodes[id] = n
	return old, nil
}

// SetResult stores the final result and transitions to status (FINISHED or
// FAILED). Enforces I6: once a node is FINISHED with a non-empty result,
// the result is immutable.
func (g *Graph) SetResult(id string, result Result, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if n.Status == StatusFinished && !n.Result.Empty() {
		return fmt.Errorf("graph: node %s result is immutable once finished", n.NID)
	}
	n.Result = result
	n.Status = status
	n.UpdatedAt = now()
	g.nodes[id] = n
	return nil
}

// IncAttempts increments and returns the node's action attempt counter.
func (g *Graph) IncAttempts(id string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.mustGet(id)
	if err != nil {
		return 0, err
	}
	n.Attempts++
	g.nodes[id] = n
	return n.Attempts, nil
}

// ResetAttempts zeroes the attempt counter, used when a node advances to a
// status that starts a new kind of action.
func (g *Graph) ResetAttempts(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Attempts = 0
	g.nodes[id] = n
	return nil
}

// PredecessorsFinished reports whether every predecessor of id is FINISHED.
func (g *Graph) PredecessorsFinished(id string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return false, err
	}
	for _, p := range n.Predecessors {
		pn, err := g.mustGet(p)
		if err != nil {
			return false, err
		}
		if pn.Status != StatusFinished {
			return false, nil
		}
	}
	return true, nil
}

// ChildrenFinished reports whether every child of a PLAN node is FINISHED.
func (g *Graph) ChildrenFinished(id string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return false, err
	}
	if len(n.InnerChildren) == 0 {
		return false, nil
	}
	for _, c := range n.InnerChildren {
		cn, err := g.mustGet(c)
		if err != nil {
			return false, err
		}
		if cn.Status != StatusFinished {
			return false, nil
		}
	}
	return true, nil
}

// ChildDescriptor is a single subtask descriptor from a planning capability's
// result, validated and applied atomically by BuildInnerGraph (spec §4.5
// steps 2-6).
type ChildDescriptor struct {
	Task         TaskType
	Goal         string
	LengthHint   int
	// DependsOn holds zero-based indices into the descriptor list that must
	// appear earlier (forward-only dependency validation, step 3).
	DependsOn []int
}

// BuildInnerGraph validates descriptors and, if valid, atomically creates
// child nodes and dependency edges under parentID, materializing the
// topological order. This is the only place new nodes are created other
// than AddRoot, and it is the "atomicity boundary" §4.5 requires: callers
// must not let any scheduler iteration observe the graph between starting
// validation and this method returning.
func (g *Graph) BuildInnerGraph(parentID string, descriptors []ChildDescriptor) ([]string, error) {
	if err := ValidateDescriptors(descriptors); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	parent, err := g.mustGet(parentID)
	if err != nil {
		return nil, err
	}
	if parent.Kind != KindPlan {
		return nil, fmt.Errorf("graph: node %s is not a PLAN node", parent.NID)
	}
	if len(parent.InnerChildren) != 0 {
		return nil, fmt.Errorf("graph: node %s already has an inner graph", parent.NID)
	}

	childIDs := make([]string, len(descriptors))
	for i := range descriptors {
		childIDs[i] = NewID()
	}

	edges := make(map[string][]string, len(descriptors))
	for i, d := range descriptors {
		id := childIDs[i]
		preds := make([]string, 0, len(d.DependsOn))
		for _, depIdx := range d.DependsOn {
			preds = append(preds, childIDs[depIdx])
		}
		edges[id] = preds
	}

	topo, err := topoSort(childIDs, edges)
	if err != nil {
		// Validation already rejected cycles; this guards against defects.
		return nil, err
	}

	childNodes := make([]Node, len(descriptors))
	for i, d := range descriptors {
		id := childIDs[i]
		status := StatusNotReady
		if len(edges[id]) == 0 {
			status = StatusReady
		}
		childNodes[i] = Node{
			ID:           id,
			NID:          ChildNID(parent.NID, i+1),
			Kind:         childKindFor(d),
			Task:         d.Task,
			Goal:         d.Goal,
			LengthHint:   d.LengthHint,
			Layer:        parent.Layer + 1,
			Status:       status,
			OuterParent:  parentID,
			Predecessors: edges[id],
			CreatedAt:    now(),
			UpdatedAt:    now(),
		}
	}

	for _, cn := range childNodes {
		g.nodes[cn.ID] = cn
	}
	parent.InnerChildren = childIDs
	parent.InnerEdges = edges
	parent.InnerTopoOrder = topo
	parent.UpdatedAt = now()
	g.nodes[parentID] = parent

	return childIDs, nil
}

// childKindFor decides whether a descriptor should start life as a PLAN or
// EXECUTE node. A COMPOSITION descriptor with no dependencies-of-its-own
// semantics is ambiguous at creation time in the original system; this
// kernel defers the PLAN/EXECUTE decision to the descriptor itself, which
// the planning capability sets directly via Task when it wants further
// decomposition. Reasoning/Retrieval descriptors are always leaves.
func childKindFor(d ChildDescriptor) Kind {
	if d.Task == TaskComposition {
		return KindPlan
	}
	return KindExecute
}

// AdvanceReadiness flips NOT_READY -> READY for every node whose
// predecessors (and, for aggregation, children) are now satisfied. Returns
// the IDs that changed. This implements the scheduler's
// "advance_readiness"/"advance_aggregation" steps from spec §4.6 at the
// graph level so the scheduler loop stays a thin driver.
func (g *Graph) AdvanceReadiness() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var changed []string
	for id, n := range g.nodes {
		switch n.Status {
		case StatusNotReady:
			ready, err := g.predecessorsFinishedLocked(id)
			if err != nil {
				return nil, err
			}
			if ready {
				n.Status = StatusReady
				n.UpdatedAt = now()
				g.nodes[id] = n
				changed = append(changed, id)
			}
		case StatusPlanDone:
			if len(n.InnerChildren) == 0 {
				continue
			}
			done, err := g.childrenFinishedLocked(id)
			if err != nil {
				return nil, err
			}
			if done {
				n.Status = StatusNeedUpdate
				n.UpdatedAt = now()
				g.nodes[id] = n
				changed = append(changed, id)
			}
		}
	}
	return changed, nil
}

func (g *Graph) predecessorsFinishedLocked(id string) (bool, error) {
	n, err := g.mustGet(id)
	if err != nil {
		return false, err
	}
	for _, p := range n.Predecessors {
		pn, err := g.mustGet(p)
		if err != nil {
			return false, err
		}
		if pn.Status != StatusFinished {
			return false, nil
		}
	}
	return true, nil
}

func (g *Graph) childrenFinishedLocked(id string) (bool, error) {
	n, err := g.mustGet(id)
	if err != nil {
		return false, err
	}
	for _, c := range n.InnerChildren {
		cn, err := g.mustGet(c)
		if err != nil {
			return false, err
		}
		if cn.Status != StatusFinished {
			return false, nil
		}
	}
	return true, nil
}

// Candidates returns the IDs of every node currently in one of the given
// statuses, sorted by (layer, nid) per spec §4.5's tie-break rule, topo
// index being implicit in NID once assigned.
func (g *Graph) Candidates(statuses ...Status) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var ids []string
	for id, n := range g.nodes {
		if want[n.Status] {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.NID < b.NID
	})
	return ids
}

// AnyDoing reports whether any node is currently DOING.
func (g *Graph) AnyDoing() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.Status == StatusDoing {
			return true
		}
	}
	return false
}

// DeadlockNID identifies the PLAN node to blame for a deadlock (E2E
// scenario 6: "failing_node_nid=<parent>"): the shallowest, lowest-NID
// containment parent with a NOT_READY child, since that parent's inner
// graph is the one whose dependency edges never resolved. Falls back to
// the root's NID if no node is NOT_READY (a deadlock the scheduler
// detected some other way).
func (g *Graph) DeadlockNID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var blocked []string
	for id, n := range g.nodes {
		if n.Status == StatusNotReady {
			blocked = append(blocked, id)
		}
	}
	stableSortByNID(blocked, func(id string) string { return g.nodes[id].NID })
	for _, id := range blocked {
		n := g.nodes[id]
		if n.OuterParent == "" {
			return n.NID
		}
		if parent, ok := g.nodes[n.OuterParent]; ok {
			return parent.NID
		}
	}
	if root, ok := g.nodes[g.RootID]; ok {
		return root.NID
	}
	return ""
}

// RunningArticle concatenates the results of FINISHED COMPOSITION nodes in
// NID order, the "running article" Memory exposes per spec §4.4(1).
func (g *Graph) RunningArticle() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, n := range g.nodes {
		if n.Task == TaskComposition && n.Status == StatusFinished && n.Result.Text != "" {
			ids = append(ids, id)
		}
	}
	stableSortByNID(ids, func(id string) string { return g.nodes[id].NID })
	var sb []byte
	for i, id := range ids {
		if i > 0 {
			sb = append(sb, "\n\n"...)
		}
		sb = append(sb, g.nodes[id].Result.Text...)
	}
	return string(sb)
}

// AncestralGoalTrail returns the goals of every containment ancestor of id,
// from root to id's immediate parent (spec §4.4(2)).
func (g *Graph) AncestralGoalTrail(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return nil, err
	}
	var trail []string
	cur := n.OuterParent
	for cur != "" {
		pn, err := g.mustGet(cur)
		if err != nil {
			return nil, err
		}
		trail = append([]string{pn.Goal}, trail...)
		cur = pn.OuterParent
	}
	return trail, nil
}

// PredecessorResultsInOrder returns id's predecessor results in topological
// order (spec §4.4(3)), reading the parent's InnerTopoOrder to break ties.
func (g *Graph) PredecessorResultsInOrder(id string) ([]Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return nil, err
	}
	if n.OuterParent == "" || len(n.Predecessors) == 0 {
		return nil, nil
	}
	parent, err := g.mustGet(n.OuterParent)
	if err != nil {
		return nil, err
	}
	order := make(map[string]int, len(parent.InnerTopoOrder))
	for i, cid := range parent.InnerTopoOrder {
		order[cid] = i
	}
	preds := append([]string(nil), n.Predecessors...)
	stableSortByNID(preds, func(cid string) string { return fmt.Sprintf("%08d", order[cid]) })
	results := make([]Result, len(preds))
	for i, p := range preds {
		pn, err := g.mustGet(p)
		if err != nil {
			return nil, err
		}
		results[i] = pn.Result
	}
	return results, nil
}

// OuterSiblingSummaries returns short text summaries of already-FINISHED
// composition siblings of id at the same containment level, in NID order
// (spec §4.4(4)). A "summary" here is the first 200 bytes of the sibling's
// text, followed by "..." when the text is longer; full summarization is an Agent concern, not the kernel's.
func (g *Graph) OuterSiblingSummaries(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return nil, err
	}
	if n.OuterParent == "" {
		return nil, nil
	}
	parent, err := g.mustGet(n.OuterParent)
	if err != nil {
		return nil, err
	}
	var sibs []string
	for _, cid := range parent.InnerChildren {
		if cid == id {
			continue
		}
		cn, err := g.mustGet(cid)
		if err != nil {
			return nil, err
		}
		if cn.Task == TaskComposition && cn.Status == StatusFinished && cn.Result.Text != "" {
			sibs = append(sibs, cid)
		}
	}
	stableSortByNID(sibs, func(cid string) string { return g.nodes[cid].NID })
	out := make([]string, len(sibs))
	for i, cid := range sibs {
		out[i] = summarize(g.nodes[cid].Result.Text, 200)
	}
	return out, nil
}

func summarize(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ChildResultsInOrder returns a PLAN node's children's results in
// InnerTopoOrder, for the aggregation capability to fold into one result
// (spec §4.5 NEED_UPDATE → DOING dispatch).
func (g *Graph) ChildResultsInOrder(id string) ([]Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.mustGet(id)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(n.InnerTopoOrder))
	for i, cid := range n.InnerTopoOrder {
		cn, err := g.mustGet(cid)
		if err != nil {
			return nil, err
		}
		results[i] = cn.Result
	}
	return results, nil
}

// DemoteToExecute converts a PLAN node into an EXECUTE node in place, used
// by the scheduler's §7 Policy-kind handling when scheduler.max_layers is
// exceeded: the offending node can no longer plan and is retried once as a
// direct write.
func (g *Graph) DemoteToExecute(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Kind = KindExecute
	n.UpdatedAt = now()
	g.nodes[id] = n
	return nil
}

// Dump returns the root ID and a clone of every node, keyed by ID, for the
// snapshot package to serialize whole (spec §4.7). Clones mean the caller
// can encode at leisure without holding the graph's lock.
func (g *Graph) Dump() (string, map[string]Node) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make(map[string]Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n.clone()
	}
	return g.RootID, nodes
}

// Restore rebuilds a Graph from a prior Dump, for snapshot load. Nodes are
// cloned on the way in so the caller's map can be discarded afterward.
func Restore(rootID string, nodes map[string]Node) *Graph {
	g := &Graph{nodes: make(map[string]Node, len(nodes)), RootID: rootID}
	for id, n := range nodes {
		g.nodes[id] = n.clone()
	}
	return g
}

// ResetInFlight flips every DOING node back to READY and returns their IDs.
// A process restart loses whatever capability call was in flight for a
// DOING node (spec §4.7: snapshots persist graph and memory, never
// in-progress network calls), so resuming from a snapshot must re-offer
// those nodes to the scheduler rather than leave them stuck.
func (g *Graph) ResetInFlight() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var reset []string
	for id, n := range g.nodes {
		if n.Status == StatusDoing {
			n.Status = StatusReady
			n.UpdatedAt = now()
			g.nodes[id] = n
			reset = append(reset, id)
		}
	}
	sort.Strings(reset)
	return reset
}
