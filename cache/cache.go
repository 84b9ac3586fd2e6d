// Package cache implements the content-addressed at-most-once memoization
// layer of spec §4.2: a fingerprint maps to a previously computed capability
// result, concurrent identical requests share a single in-flight
// computation, and successful results survive a process restart when a
// persistence directory is configured.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Entry is what Cache stores and returns: the opaque, namespace-specific
// payload plus bookkeeping. Payload is stored as raw JSON so Cache itself
// never needs to know the concrete result type of any namespace.
type Entry struct {
	Payload json.RawMessage
}

// Request is the tuple fingerprinted into a cache key (spec §4.2: "stable
// hash over the request tuple"). Arguments is marshaled as part of the
// fingerprint, so callers must keep it deterministic (e.g. sorted map keys)
// if they want reproducible fingerprints across processes.
type Request struct {
	Namespace string // "llm", "search", ...
	Capability string // agent/tool class, e.g. "anthropic-claude" or "web-search"
	Model      string
	Prompt     string
	Arguments  any
}

// Fingerprint computes the stable content-address for a Request. Two
// requests with the same namespace/capability/model/prompt and
// JSON-equal arguments always produce the same fingerprint.
func Fingerprint(r Request) (string, error) {
	args, err := json.Marshal(r.Arguments)
	if err != nil {
		return "", fmt.Errorf("cache: marshal arguments: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", r.Namespace, r.Capability, r.Model, r.Prompt, args)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute produces a fresh result for a cache miss. Errors returned by
// Compute are never cached (spec §4.2).
type Compute func(ctx context.Context) (json.RawMessage, error)

// Store is the persistence backend behind a Cache. Implementations must be
// safe for concurrent use. A nil Store means in-memory only.
type Store interface {
	Load(namespace, fingerprint string) (Entry, bool, error)
	Save(namespace, fingerprint string, e Entry) error
}

// Cache maps fingerprints to results within one namespace, with
// per-fingerprint single-flight semantics across concurrent callers.
type Cache struct {
	namespace string
	store     Store

	mu  sync.RWMutex
	mem map[string]Entry

	flight singleflight.Group
}

// New constructs a Cache for one resource-class namespace. store may be
// nil for an in-memory-only cache (spec §4.2's "when persisted" clause is
// optional).
func New(namespace string, store Store) *Cache {
	return &Cache{
		namespace: namespace,
		store:     store,
		mem:       make(map[string]Entry),
	}
}

// Get is a pure lookup: it never invokes compute and never blocks on an
// in-flight computation from GetOrCompute (spec §4.2: "get(fingerprint) is
// pure").
func (c *Cache) Get(fingerprint string) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.mem[fingerprint]
	c.mu.RUnlock()
	if ok {
		return e, true, nil
	}
	if c.store == nil {
		return Entry{}, false, nil
	}
	e, ok, err := c.store.Load(c.namespace, fingerprint)
	if err != nil {
		return Entry{}, false, err
	}
	if ok {
		c.mu.Lock()
		c.mem[fingerprint] = e
		c.mu.Unlock()
	}
	return e, ok, nil
}

// GetOrCompute guarantees concurrent callers with the same fingerprint
// invoke compute at most once: the first caller runs it, later callers
// block until it completes and observe its result or its (uncached)
// error (spec P7).
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute Compute) (Entry, error) {
	if e, ok, err := c.Get(fingerprint); err != nil {
		return Entry{}, err
	} else if ok {
		return e, nil
	}

	v, err, _ := c.flight.Do(fingerprint, func() (any, error) {
		// Re-check after winning the flight: another goroutine's prior
		// computation may have persisted between our Get above and now.
		if e, ok, err := c.Get(fingerprint); err != nil {
			return Entry{}, err
		} else if ok {
			return e, nil
		}
		payload, err := compute(ctx)
		if err != nil {
			return Entry{}, err
		}
		e := Entry{Payload: payload}
		c.mu.Lock()
		c.mem[fingerprint] = e
		c.mu.Unlock()
		if c.store != nil {
			if err := c.store.Save(c.namespace, fingerprint, e); err != nil {
				return Entry{}, fmt.Errorf("cache: persist %s/%s: %w", c.namespace, fingerprint, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}
