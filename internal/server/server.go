// Package server exposes the dashboard HTTP API: target discovery, job
// submission and inspection, run history, and live output streaming
// over websockets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/omx-labs/simrun/internal/history"
	"github.com/omx-labs/simrun/internal/jobs"
	"github.com/omx-labs/simrun/internal/run"
	"github.com/omx-labs/simrun/internal/target"
)

// RunFunc launches one run, writing progress lines to out. It is
// injectable so the handlers can be tested without a simulator.
type RunFunc func(ctx context.Context, req run.Request, out *jobs.JobWriter) (run.Outcome, error)

// Server wires the API handlers to their collaborators.
type Server struct {
	Log      *slog.Logger
	Registry *jobs.Registry
	History  *history.Store // optional
	Run      RunFunc
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-host tooling; cross-origin pages are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/targets", s.handleTargets)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/stream", s.handleStreamJob)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	return mux
}

// ListenAndServe runs the API on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.Log.Info("dashboard API listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type targetInfo struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	ISA      string   `json:"isa"`
	Cores    int      `json:"cores"`
	Consoles int      `json:"consoles"`
	Modes    []string `json:"modes"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	var out []targetInfo
	for _, spec := range target.All() {
		out = append(out, targetInfo{
			ID:       string(spec.ID),
			Label:    spec.Label,
			ISA:      spec.ISA,
			Cores:    spec.Cores,
			Consoles: spec.Consoles,
			Modes:    []string{string(target.ModeSimple), string(target.ModeComplex)},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type submitRequest struct {
	Target      string `json:"target"`
	Mode        string `json:"mode"`
	DryRun      bool   `json:"dry_run"`
	CPUType     string `json:"cpu_type,omitempty"`
	CommandLine string `json:"command_line,omitempty"`
	IPCCase     string `json:"ipc_case,omitempty"`
	AllowNoDisk bool   `json:"allow_no_disk,omitempty"`
	TimeoutSec  int    `json:"timeout_sec,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	spec, err := target.Lookup(target.ID(body.Target))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := target.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := run.Request{
		Target:      spec.ID,
		Mode:        mode,
		DryRun:      body.DryRun,
		CPUType:     body.CPUType,
		CommandLine: body.CommandLine,
		IPCCase:     body.IPCCase,
		AllowNoDisk: body.AllowNoDisk,
		TimeoutSec:  body.TimeoutSec,
	}
	id := s.Registry.Submit(string(spec.ID), string(mode), body.DryRun,
		func(ctx context.Context, out *jobs.JobWriter) (int, string, error) {
			outcome, runErr := s.Run(ctx, req, out)
			if runErr != nil {
				return outcome.ExitCode, outcome.ManifestPath, runErr
			}
			return outcome.ExitCode, outcome.ManifestPath, nil
		})

	s.Log.Info("job submitted", "id", id, "target", spec.ID, "mode", mode, "dry_run", body.DryRun)
	snap, _ := s.Registry.Get(id)
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStreamJob upgrades to a websocket and relays the job's output:
// the full backlog first, then live lines until the job finishes.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	backlog, live, cancel, ok := s.Registry.Subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", "job", id, "error", err)
		return
	}
	defer conn.Close()

	for _, line := range backlog {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	for line := range live {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusOK, []history.Record{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	recs, err := s.History.Recent(r.Context(), r.URL.Query().Get("target"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
