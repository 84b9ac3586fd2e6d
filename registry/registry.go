// Package registry provides a replicated, multi-process-safe view of which
// capability.Registry names are live across a cluster of engine processes
// (SPEC_FULL.md §11, "Replicated, multi-process-safe registry"). It is
// distinct from capability.Registry: that package dispatches in-process
// Invoke calls, while this package only answers "which process currently
// serves capability X" for operators running more than one engine process
// against the same Redis.
//
// Grounded in the teacher's registry/registry.go and registry/health_tracker.go:
// a Pulse replicated map (goa.design/pulse/rmap) shared by every node in a
// cluster, keyed by node id, so a membership change on one node is visible
// to all others without a central coordinator.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/kestrelflow/taskforge/telemetry"
)

// Registry is a cluster-wide membership map: node id -> comma-joined
// capability names that node currently serves.
type Registry struct {
	m      *rmap.Map
	logger telemetry.Logger
}

// Config configures a Registry.
type Config struct {
	// Redis is the client Pulse uses to replicate map state. Required.
	Redis *redis.Client
	// Name groups nodes into one cluster; nodes sharing Name and Redis see
	// each other's registrations. Defaults to "taskforge".
	Name string
	// Logger receives join/leave diagnostics. Nil suppresses logging.
	Logger telemetry.Logger
}

// New joins (creating if absent) the replicated map for cfg.Name.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("registry: redis client is required")
	}
	name := cfg.Name
	if name == "" {
		name = "taskforge"
	}
	m, err := rmap.Join(ctx, name+":capabilities", cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("registry: join capabilities map: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{m: m, logger: logger}, nil
}

// Announce records that nodeID serves the given capability names,
// replacing any prior announcement for that node. Called once at startup
// and again whenever the in-process capability.Registry's Names() changes
// (e.g. a hot-swapped provider).
func (r *Registry) Announce(ctx context.Context, nodeID string, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if _, err := r.m.Set(ctx, nodeID, strings.Join(sorted, ",")); err != nil {
		return fmt.Errorf("registry: announce %s: %w", nodeID, err)
	}
	r.logger.Info(ctx, "registry: node announced", "node_id", nodeID, "capabilities", sorted)
	return nil
}

// Withdraw removes nodeID's announcement, for graceful shutdown.
func (r *Registry) Withdraw(ctx context.Context, nodeID string) error {
	if _, err := r.m.Delete(ctx, nodeID); err != nil {
		return fmt.Errorf("registry: withdraw %s: %w", nodeID, err)
	}
	r.logger.Info(ctx, "registry: node withdrew", "node_id", nodeID)
	return nil
}

// Nodes returns every announced node id and its capability names, as seen
// from the local replica of the cluster-wide map.
func (r *Registry) Nodes() map[string][]string {
	out := make(map[string][]string)
	for _, id := range r.m.Keys() {
		val, ok := r.m.Get(id)
		if !ok || val == "" {
			out[id] = nil
			continue
		}
		out[id] = strings.Split(val, ",")
	}
	return out
}

// HasCapability reports whether any node in the cluster currently serves
// name, for a caller deciding whether to route a request locally or
// report it as unavailable.
func (r *Registry) HasCapability(name string) bool {
	for _, names := range r.Nodes() {
		for _, n := range names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Watch returns a channel of membership-change notifications (any node's
// announcement set, changed, or withdrawn) and an unsubscribe function.
// Grounded in health_tracker.go's registryMap.Subscribe()/Unsubscribe()
// pattern for reacting to cluster membership changes without polling.
func (r *Registry) Watch() (<-chan rmap.EventKind, func()) {
	events := r.m.Subscribe()
	return events, func() { r.m.Unsubscribe(events) }
}

// Close releases the underlying replicated map's resources.
func (r *Registry) Close() {
	r.m.Close()
}
