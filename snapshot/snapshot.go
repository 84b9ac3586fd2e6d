// Package snapshot implements the C7 durable round-trip of spec §4.7: an
// atomic on-disk capture of a run's graph, memory configuration, and
// running article, sufficient for Load to reconstruct a Scheduler whose
// continued execution produces a valid suffix of the original event stream
// (P8).
//
// The on-disk layout mirrors spec §4.7 exactly:
//
//	<dir>/graph.json   human-readable node tree (status, result)
//	<dir>/graph.bin    gob-encoded Graph dump, the load-path source of truth
//	<dir>/memory.bin   gob-encoded memory configuration
//	<dir>/article.txt  current running article
//	<dir>/done.marker  written only on completion
//
// graph.json exists for inspection and external tooling; Load never
// parses it. Keeping two
// encodings of the same data is the one place this package departs from
// "write what you read": JSON does not round-trip map[string][]string keys
// and time.Time zero values identically enough to trust for reconstruction,
// so gob is the authoritative format and JSON is a read-only mirror.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/graph"
)

const (
	graphJSONName  = "graph.json"
	graphBinName   = "graph.bin"
	memoryBinName  = "memory.bin"
	articleName    = "article.txt"
	doneMarkerName = "done.marker"
)

// graphDump is the gob-encoded payload of graph.bin: everything Restore
// needs to rebuild a *graph.Graph, plus the run configuration so a resumed
// run sees the same model/scheduler/retry/cache settings the original did
// (spec §4.7's byte-identical-suffix contract would otherwise be undermined
// by a resumed run silently reverting to config.Default()).
type graphDump struct {
	RootID string
	Nodes  map[string]graph.Node
	Config config.Config
}

// memoryDump is the gob-encoded payload of memory.bin: the global
// configuration map a memory.Collector was constructed with (spec §4.4
// part 5). The Collector's per-node cache is intentionally not persisted;
// it is a pure function of graph state and recomputes lazily on first use.
type memoryDump struct {
	GlobalConfig map[string]string
}

// graphView mirrors graph.Node for the graph.json read-only mirror, in a
// shape that marshals predictably (JSON field names, not Go identifiers,
// and a node list rather than a map so the file reads in NID order).
type graphView struct {
	RootID string          `json:"root_id"`
	Nodes  []nodeViewEntry `json:"nodes"`
}

type nodeViewEntry struct {
	ID     string       `json:"id"`
	NID    string       `json:"nid"`
	Kind   string       `json:"kind"`
	Task   string       `json:"task_type"`
	Goal   string       `json:"goal"`
	Status string       `json:"status"`
	Layer  int          `json:"layer"`
	Result graph.Result `json:"result"`
}

// Save atomically writes a run's state to dir (spec §4.7: temp file then
// rename for each file, so a crash mid-write never leaves a corrupt
// snapshot for a later Load to trip over). done marks the run complete;
// when true, done.marker is written last, after every other file has
// landed, so its presence is a reliable signal to external observers.
func Save(dir string, g *graph.Graph, globalConfig map[string]string, cfg config.Config, article string, done bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	rootID, nodes := g.Dump()

	gd := graphDump{RootID: rootID, Nodes: nodes, Config: cfg}
	var gbuf bytes.Buffer
	if err := gob.NewEncoder(&gbuf).Encode(gd); err != nil {
		return fmt.Errorf("snapshot: encode graph.bin: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, graphBinName), gbuf.Bytes()); err != nil {
		return err
	}

	md := memoryDump{GlobalConfig: globalConfig}
	var mbuf bytes.Buffer
	if err := gob.NewEncoder(&mbuf).Encode(md); err != nil {
		return fmt.Errorf("snapshot: encode memory.bin: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, memoryBinName), mbuf.Bytes()); err != nil {
		return err
	}

	view := toGraphView(rootID, nodes)
	jraw, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode graph.json: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, graphJSONName), jraw); err != nil {
		return err
	}

	if err := writeAtomic(filepath.Join(dir, articleName), []byte(article)); err != nil {
		return err
	}

	if done {
		if err := writeAtomic(filepath.Join(dir, doneMarkerName), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}
	}
	return nil
}

// State is everything Load reconstructs from a snapshot directory. The
// caller (api.Engine.Resume) still owns constructing a fresh memory.Collector
// and scheduler.Scheduler from these pieces, since those also need live
// dependencies (an event Bus, a capability Registry) a snapshot never
// carries.
type State struct {
	Graph        *graph.Graph
	GlobalConfig map[string]string
	Config       config.Config
	Article      string
	Done         bool
}

// Load reconstructs a State from dir. It is the inverse of Save, except
// that nodes saved as DOING come back READY. An immediately following
// Save(dir, ...) of the reconstructed state, with no intervening run
// progress, reproduces article.txt, and graph.json apart from those reset
// nodes; graph.bin's bytes can differ, since gob encodes a Go map's
// entries in no stable order.
func Load(dir string) (State, error) {
	graw, err := os.ReadFile(filepath.Join(dir, graphBinName))
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read graph.bin: %w", err)
	}
	var gd graphDump
	if err := gob.NewDecoder(bytes.NewReader(graw)).Decode(&gd); err != nil {
		return State{}, fmt.Errorf("snapshot: decode graph.bin: %w", err)
	}

	mraw, err := os.ReadFile(filepath.Join(dir, memoryBinName))
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read memory.bin: %w", err)
	}
	var md memoryDump
	if err := gob.NewDecoder(bytes.NewReader(mraw)).Decode(&md); err != nil {
		return State{}, fmt.Errorf("snapshot: decode memory.bin: %w", err)
	}

	araw, err := os.ReadFile(filepath.Join(dir, articleName))
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read article.txt: %w", err)
	}

	done := false
	if _, err := os.Stat(filepath.Join(dir, doneMarkerName)); err == nil {
		done = true
	} else if !os.IsNotExist(err) {
		return State{}, fmt.Errorf("snapshot: stat done.marker: %w", err)
	}

	g := graph.Restore(gd.RootID, gd.Nodes)
	g.ResetInFlight()

	return State{
		Graph:        g,
		GlobalConfig: md.GlobalConfig,
		Config:       gd.Config,
		Article:      string(araw),
		Done:         done,
	}, nil
}

// Exists reports whether dir holds a loadable snapshot (its graph.bin is
// present), the check api.Engine.Resume uses to distinguish "resume this
// run" from "no prior snapshot, nothing to resume".
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, graphBinName))
	return err == nil
}

func toGraphView(rootID string, nodes map[string]graph.Node) graphView {
	entries := make([]nodeViewEntry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, nodeViewEntry{
			ID: n.ID, NID: n.NID, Kind: string(n.Kind), Task: string(n.Task),
			Goal: n.Goal, Status: string(n.Status), Layer: n.Layer, Result: n.Result,
		})
	}
	sortByNID(entries)
	return graphView{RootID: rootID, Nodes: entries}
}

func sortByNID(entries []nodeViewEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].NID < entries[j-1].NID; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// writeAtomic writes data to dest via a temp file in the same directory
// plus rename, the pattern cache.DiskStore.Save uses for the same reason:
// a crash between write and rename can never leave a half-written file
// where a reader expects a complete one.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write temp %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close temp %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename into %s: %w", dest, err)
	}
	return nil
}
