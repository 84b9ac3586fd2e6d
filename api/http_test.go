package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/memory"
	"github.com/stretchr/testify/require"
)

// stubCapability finishes whatever node it is invoked on immediately,
// regardless of the requested action, so a run reaches a terminal state in
// one scheduler tick without needing a real model or search backend.
type stubCapability struct{ name string }

func (c *stubCapability) Name() string { return c.name }
func (c *stubCapability) Invoke(ctx context.Context, action capability.Action, n capability.NodeView, memCtx memory.Context, cfg capability.Config) (capability.ActionResult, error) {
	return capability.ActionResult{Kind: capability.ActionWrite, Text: "done"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := capability.NewRegistry()
	reg.Register(&stubCapability{name: "stub-model"})
	e := NewEngine(reg)
	return NewServer(e)
}

func startRun(t *testing.T, s *Server) string {
	t.Helper()
	body, err := json.Marshal(generateRequest{Prompt: "a quiet harbor town", Model: "stub-model"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-story", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func waitTerminal(t *testing.T, s *Server, runID string) statusResponseWire {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/status/"+runID, nil)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp statusResponseWire
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		if resp.Status != "running" {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return statusResponseWire{}
}

func TestGenerateStoryThenStatusReachesCompleted(t *testing.T) {
	s := newTestServer(t)
	runID := startRun(t, s)
	resp := waitTerminal(t, s, runID)
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, 100, resp.Progress.Percent)
}

func TestResultReturnsRootArtifactAfterCompletion(t *testing.T) {
	s := newTestServer(t)
	runID := startRun(t, s)
	waitTerminal(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/result/"+runID, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, "done", result["text"])
}

func TestTaskGraphListsRootNode(t *testing.T) {
	s := newTestServer(t)
	runID := startRun(t, s)
	waitTerminal(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/task-graph/"+runID, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var snap GraphSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Nodes, 1)
	require.Equal(t, snap.RootID, snap.Nodes[0].ID)
}

func TestHistoryListsStartedRun(t *testing.T) {
	s := newTestServer(t)
	runID := startRun(t, s)
	waitTerminal(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []historyEntryWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, runID, entries[0].RunID)
}

func TestDeleteTaskRemovesRunFromHistory(t *testing.T) {
	s := newTestServer(t)
	runID := startRun(t, s)
	waitTerminal(t, s, runID)

	req := httptest.NewRequest(http.MethodDelete, "/api/delete-task/"+runID, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status/"+runID, nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	s := newTestServer(t)
	body, err := json.Marshal(generateRequest{Prompt: ""})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-story", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownRunReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
