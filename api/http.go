package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/hooks"
)

// Server exposes an Engine over the HTTP surface of spec §6. Go 1.22's
// http.ServeMux method+path patterns are used for routing rather than a
// third-party router: no router package appears anywhere in the example
// pack, so the standard library's own pattern matching is the grounded
// choice here (documented in DESIGN.md).
type Server struct {
	engine *Engine
	mux    *http.ServeMux
}

// NewServer wires every endpoint in spec §6's HTTP surface table onto e.
func NewServer(e *Engine) *Server {
	s := &Server{engine: e, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/generate-story", s.handleGenerate(config.ModeStory))
	s.mux.HandleFunc("POST /api/generate-report", s.handleGenerate(config.ModeReport))
	s.mux.HandleFunc("GET /api/status/{run_id}", s.handleStatus)
	s.mux.HandleFunc("GET /api/result/{run_id}", s.handleResult)
	s.mux.HandleFunc("GET /api/task-graph/{run_id}", s.handleTaskGraph)
	s.mux.HandleFunc("GET /api/workspace/{run_id}", s.handleWorkspace)
	s.mux.HandleFunc("POST /api/stop-task/{run_id}", s.handleStopTask)
	s.mux.HandleFunc("DELETE /api/delete-task/{run_id}", s.handleDeleteTask)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/events/{run_id}", s.handleEvents)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// generateRequest is spec §6's start-request body. APIKeys/EnableSearch/
// SearchBackend feed provider selection the caller's cmd wiring is
// responsible for resolving into actual Backend/Searcher instances before
// this layer ever sees a request; the fields are accepted here so the
// wire contract matches spec §6 even though this package does not itself
// construct capabilities from them.
type generateRequest struct {
	Prompt        string            `json:"prompt"`
	Model         string            `json:"model"`
	APIKeys       map[string]string `json:"api_keys,omitempty"`
	EnableSearch  bool              `json:"enable_search,omitempty"`
	SearchBackend string            `json:"search_backend,omitempty"`
}

type generateResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleGenerate(mode config.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Prompt == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("prompt is required"))
			return
		}

		cfg := config.Default()
		cfg.Mode = mode
		if req.Model != "" {
			cfg.Model.Plan = req.Model
			cfg.Model.Execute = req.Model
			cfg.Model.Aggregate = req.Model
		}
		if mode == config.ModeReport {
			cfg.Scheduler.InFlightLimit = max(cfg.Scheduler.InFlightLimit, 3)
		}

		runID, err := s.engine.Start(r.Context(), StartRequest{Goal: req.Prompt, Mode: mode, Config: cfg})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, generateResponse{RunID: runID})
	}
}

// statusResponseWire is spec §6's literal status response shape:
// { status, progress.percent, root_status, started_at, updated_at }.
type statusResponseWire struct {
	Status     string    `json:"status"`
	Progress   progWire  `json:"progress"`
	RootStatus string    `json:"root_status"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type progWire struct {
	Percent  int `json:"percent"`
	Total    int `json:"total"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
	InFlight int `json:"in_flight"`
}

// wireStatus maps RunState onto spec §6's {running, completed, error}
// vocabulary; RunCancelled is surfaced as "completed" there (a cancelled
// run is terminal, not an error) with root_status distinguishing it for
// callers that care.
func wireStatus(s RunState) string {
	switch s {
	case RunRunning:
		return "running"
	case RunError:
		return "error"
	default:
		return "completed"
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	resp, err := s.engine.Status(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponseWire{
		Status: wireStatus(resp.State),
		Progress: progWire{
			Percent:  resp.Progress.ProgressPercent(),
			Total:    resp.Progress.TotalNodes,
			Finished: resp.Progress.FinishedNodes,
			Failed:   resp.Progress.FailedNodes,
			InFlight: resp.Progress.InFlightNodes,
		},
		RootStatus: string(resp.RootStatus),
		StartedAt:  resp.StartedAt,
		UpdatedAt:  resp.UpdatedAt,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	resp, err := s.engine.Result(runID)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

func (s *Server) handleTaskGraph(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	g, err := s.engine.Graph(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	re, err := s.engine.get(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(re.g.RunningArticle()))
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.engine.Cancel(runID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.engine.DeleteRun(runID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyEntryWire struct {
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs := s.engine.ListRuns()
	out := make([]historyEntryWire, len(runs))
	for i, rs := range runs {
		out[i] = historyEntryWire{RunID: rs.RunID, Goal: rs.Goal, Mode: string(rs.Mode), Status: wireStatus(rs.State), StartedAt: rs.StartedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEvents serves the event stream of spec §6 over SSE: no third-party
// SSE/WebSocket server library appears anywhere in the example pack (only
// client-side SSE parsing, in runtime/mcp/ssecaller.go), so this handler
// is hand-written against net/http's http.Flusher, the documented stdlib
// escape hatch for exactly this case (justified in DESIGN.md).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	fromSeq := uint64(0)
	if v := r.URL.Query().Get("from_sequence"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &fromSeq); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from_sequence: %w", err))
			return
		}
	}

	stream, err := s.engine.Subscribe(runID, fromSeq)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	defer stream.Unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: subscribed\ndata: {\"from_sequence\":%d}\n\n", fromSeq)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Overflow:
			fmt.Fprintf(w, "event: overflow\ndata: {}\n\n")
			flusher.Flush()
			return
		case ev, ok := <-stream.Events:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev hooks.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq(), ev.Type(), payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorWire struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorWire{Error: err.Error()})
}
