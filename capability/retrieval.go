package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelflow/taskforge/errkind"
	"github.com/kestrelflow/taskforge/hooks"
	"github.com/kestrelflow/taskforge/memory"
)

// Searcher performs a single retrieval query and returns ranked passages.
// Narrowed from the teacher's runtime/registry.SearchClient/SearchOptions
// shape to the one knob a RETRIEVAL node needs: a query and a result cap.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
}

// RetrievalCapability answers RETRIEVAL-task nodes by querying a Searcher
// and returning the passages as an ActionRetrieve result.
type RetrievalCapability struct {
	name       string
	searcher   Searcher
	maxResults int
	bus        *hooks.Bus // optional; nil disables telemetry events
}

// NewRetrievalCapability registers searcher under name. maxResults bounds
// how many passages a single invocation returns; 0 defers to the
// Searcher's own default. bus may be nil.
func NewRetrievalCapability(name string, searcher Searcher, maxResults int, bus *hooks.Bus) *RetrievalCapability {
	return &RetrievalCapability{name: name, searcher: searcher, maxResults: maxResults, bus: bus}
}

func (c *RetrievalCapability) Name() string { return c.name }

func (c *RetrievalCapability) Invoke(ctx context.Context, action Action, node NodeView, memCtx memory.Context, cfg Config) (ActionResult, error) {
	callID := fmt.Sprintf("%s-%d", node.ID, node.Attempts)
	if c.bus != nil {
		_ = c.bus.Publish(hooks.NewToolInvoked(node.RunID, callID, node.ID, c.name))
	}

	start := time.Now()
	passages, err := c.searcher.Search(ctx, node.Goal, c.maxResults)
	duration := time.Since(start).Milliseconds()

	if c.bus != nil {
		state := "SUCCESS"
		if err != nil {
			state = "ERROR"
		}
		_ = c.bus.Publish(hooks.NewToolReturned(node.RunID, callID, node.ID, c.name, state, duration))
	}

	if err != nil {
		return ActionResult{Kind: ActionError, Err: errkind.Wrap(errkind.Transient, "capability: search failed", err)}, nil
	}
	return ActionResult{Kind: ActionRetrieve, Passages: passages}, nil
}
