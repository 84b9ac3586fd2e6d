package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/graph"
)

func buildTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	rootID, err := g.AddRoot(graph.TaskComposition, "write a story", 0, graph.KindPlan)
	require.NoError(t, err)
	_, err = g.BuildInnerGraph(rootID, []graph.ChildDescriptor{
		{Task: graph.TaskComposition, Goal: "chapter one"},
	})
	require.NoError(t, err)
	return g
}

func TestSaveThenLoadRoundTripsGraphShape(t *testing.T) {
	dir := t.TempDir()
	g := buildTestGraph(t)
	cfg := config.Default()
	globalCfg := map[string]string{"tone": "formal"}

	require.NoError(t, Save(dir, g, globalCfg, cfg, "Once upon a time.", false))

	state, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, g.RootID, state.Graph.RootID)
	require.Equal(t, "Once upon a time.", state.Article)
	require.Equal(t, globalCfg, state.GlobalConfig)
	require.Equal(t, cfg, state.Config)
	require.False(t, state.Done)

	origRootID, origNodes := g.Dump()
	_, restoredNodes := state.Graph.Dump()
	require.Equal(t, len(origNodes), len(restoredNodes))
	for id, n := range origNodes {
		rn, ok := restoredNodes[id]
		require.True(t, ok)
		require.Equal(t, n.NID, rn.NID)
		require.Equal(t, n.Status, rn.Status)
		require.Equal(t, n.Goal, rn.Goal)
	}
	require.Equal(t, origRootID, state.Graph.RootID)
}

func TestLoadResetsInFlightNodesToReady(t *testing.T) {
	dir := t.TempDir()
	g := buildTestGraph(t)
	root, _ := g.Get(g.RootID)
	_, err := g.SetStatus(g.RootID, graph.StatusDoing)
	require.NoError(t, err)
	require.NoError(t, Save(dir, g, nil, config.Default(), "", false))

	state, err := Load(dir)
	require.NoError(t, err)
	restoredRoot, ok := state.Graph.Get(g.RootID)
	require.True(t, ok)
	require.Equal(t, graph.StatusReady, restoredRoot.Status, "a DOING node at snapshot time has no live capability call to resume; it must be re-offered")
	require.NotEqual(t, root.Status, restoredRoot.Status)
}

func TestDoneMarkerOnlyWrittenWhenRequested(t *testing.T) {
	dir := t.TempDir()
	g := buildTestGraph(t)

	require.False(t, Exists(filepath.Join(dir, "missing")))

	require.NoError(t, Save(dir, g, nil, config.Default(), "", false))
	state, err := Load(dir)
	require.NoError(t, err)
	require.False(t, state.Done)
	require.True(t, Exists(dir))

	require.NoError(t, Save(dir, g, nil, config.Default(), "", true))
	state, err = Load(dir)
	require.NoError(t, err)
	require.True(t, state.Done)
}
