// Package memory implements the C4 Context Collector of spec §4.4: for any
// node X, assembles the five-part context a capability sees when acting on
// X, as a pure function of graph state, with a lazily computed cache
// invalidated whenever any contributing node's status or result changes.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/kestrelflow/taskforge/graph"
)

// Context is the structured record a capability sees when invoked on a
// node (spec §4.4, parts 1-5). Only GlobalConfig is supplied by the
// caller; everything else is derived from graph state.
type Context struct {
	RunningArticle       string
	AncestralGoalTrail   []string
	PredecessorResults   []graph.Result
	OuterSiblingSummaries []string
	GlobalConfig         map[string]string
	// ChildResults holds a PLAN node's children's results in topological
	// order; empty for any node that is not itself a PLAN node with
	// children, and consulted only by the aggregation action.
	ChildResults []graph.Result
}

// Collector builds Context values from a Graph, caching each node's
// context keyed by a hash of its contributing inputs (spec §4.4(b)): a
// cache hit requires the running article, the node's ancestors, its
// predecessors' results, and its outer-sibling summaries all be
// byte-identical to the last computation, which the hash captures without
// the Collector needing to know which specific node changed.
type Collector struct {
	g      *graph.Graph
	config map[string]string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	inputHash string
	ctx       Context
}

// NewCollector builds a Collector reading from g. config is the global
// configuration applicable to every task type (spec §4.4 part 5); a
// per-task-type view can be layered on top by the caller before storing it
// here, since Memory itself has no notion of task-type-specific overrides.
func NewCollector(g *graph.Graph, config map[string]string) *Collector {
	return &Collector{g: g, config: config, cache: make(map[string]cacheEntry)}
}

// Collect returns the context for node id, recomputing only if the inputs
// that would feed it have changed since the last call (spec §4.4(b), (c):
// Memory is the only writer of the running article, which is always
// derived, never authoritative state).
func (c *Collector) Collect(id string) (Context, error) {
	article := c.g.RunningArticle()
	trail, err := c.g.AncestralGoalTrail(id)
	if err != nil {
		return Context{}, err
	}
	preds, err := c.g.PredecessorResultsInOrder(id)
	if err != nil {
		return Context{}, err
	}
	summaries, err := c.g.OuterSiblingSummaries(id)
	if err != nil {
		return Context{}, err
	}
	children, err := c.g.ChildResultsInOrder(id)
	if err != nil {
		return Context{}, err
	}

	hash := inputHash(article, trail, preds, summaries, children)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cache[id]; ok && e.inputHash == hash {
		return e.ctx, nil
	}

	ctx := Context{
		RunningArticle:        article,
		AncestralGoalTrail:    trail,
		PredecessorResults:    preds,
		OuterSiblingSummaries: summaries,
		GlobalConfig:          c.config,
		ChildResults:          children,
	}
	c.cache[id] = cacheEntry{inputHash: hash, ctx: ctx}
	return ctx, nil
}

// Config returns the global configuration the Collector was built with, for
// the snapshot package to persist alongside the graph (spec §4.7: a resumed
// run must see the same part-5 context its original run did).
func (c *Collector) Config() map[string]string { return c.config }

// Invalidate drops any cached context for id. Collect recomputes lazily
// anyway via the input hash, so Invalidate is an optimization hook for
// callers that want to force eviction (e.g. snapshot load) rather than a
// correctness requirement.
func (c *Collector) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

func inputHash(article string, trail []string, preds []graph.Result, summaries []string, children []graph.Result) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", article)
	for _, t := range trail {
		fmt.Fprintf(h, "%s\x00", t)
	}
	for _, p := range preds {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", p.Text, p.Conclusion, strings.Join(p.Passages, "\x01"))
	}
	for _, s := range summaries {
		fmt.Fprintf(h, "%s\x00", s)
	}
	for _, c := range children {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", c.Text, c.Conclusion, strings.Join(c.Passages, "\x01"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
