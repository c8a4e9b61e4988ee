package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omx-labs/simrun/internal/jobs"
	"github.com/omx-labs/simrun/internal/run"
)

func newTestServer(runFn RunFunc) *Server {
	return &Server{
		Log:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Registry: jobs.NewRegistry(0),
		Run:      runFn,
	}
}

func instantRun(code int) RunFunc {
	return func(ctx context.Context, req run.Request, out *jobs.JobWriter) (run.Outcome, error) {
		fmt.Fprintf(out, "[INFO] Run %s/%s at ts\n", req.Target, req.Mode)
		fmt.Fprintln(out, "[OK] Manifest: results/m.json")
		return run.Outcome{ExitCode: code, ManifestPath: "results/m.json"}, nil
	}
}

func TestTargetsEndpoint(t *testing.T) {
	s := newTestServer(instantRun(0))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/targets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var targets []targetInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &targets); err != nil {
		t.Fatal(err)
	}
	if len(targets) != 4 {
		t.Fatalf("got %d targets, want 4", len(targets))
	}
	seen := map[string]bool{}
	for _, ti := range targets {
		seen[ti.ID] = true
		if len(ti.Modes) != 2 {
			t.Errorf("target %s modes = %v", ti.ID, ti.Modes)
		}
	}
	for _, id := range []string{"riscv32_simple", "riscv32_mixed", "riscv64_smp", "riscv_hybrid"} {
		if !seen[id] {
			t.Errorf("target %s missing from listing", id)
		}
	}
}

func submitJob(t *testing.T, s *Server, body string) jobs.Snapshot {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/jobs", bytes.NewBufferString(body))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snap jobs.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func waitForJob(t *testing.T, s *Server, id string) jobs.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("get job status = %d", rec.Code)
		}
		var snap jobs.Snapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap.FinishedAt != nil {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return jobs.Snapshot{}
}

func TestSubmitAndTrackJob(t *testing.T) {
	s := newTestServer(instantRun(0))
	snap := submitJob(t, s, `{"target":"riscv32_simple","mode":"simple"}`)
	if snap.ID == "" {
		t.Fatal("submit should return a job id")
	}

	final := waitForJob(t, s, snap.ID)
	if final.Status != jobs.StatusSucceeded {
		t.Errorf("status = %s", final.Status)
	}
	if final.ManifestPath != "results/m.json" {
		t.Errorf("manifest path = %s", final.ManifestPath)
	}
	if len(final.Output) == 0 {
		t.Error("job output should be retained")
	}
}

func TestSubmitFailedRun(t *testing.T) {
	s := newTestServer(instantRun(2))
	snap := submitJob(t, s, `{"target":"riscv64_smp","mode":"complex"}`)
	final := waitForJob(t, s, snap.ID)
	if final.Status != jobs.StatusFailed || final.ExitCode != 2 {
		t.Errorf("snapshot = %+v, want failed with exit 2", final)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	s := newTestServer(instantRun(0))
	cases := []string{
		`{"target":"riscv128_mega","mode":"simple"}`,
		`{"target":"riscv32_simple","mode":"extreme"}`,
		`not json`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/jobs", bytes.NewBufferString(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := newTestServer(instantRun(0))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/job-999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	s := newTestServer(instantRun(0))
	snap := submitJob(t, s, `{"target":"riscv32_simple","mode":"simple","dry_run":true}`)
	waitForJob(t, s, snap.ID)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	var list []jobs.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].DryRun {
		t.Errorf("list = %+v", list)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	s := newTestServer(instantRun(0))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s, want empty list", rec.Body.String())
	}
}

func TestStreamJobOverWebsocket(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := newTestServer(func(ctx context.Context, req run.Request, out *jobs.JobWriter) (run.Outcome, error) {
		fmt.Fprintln(out, "backlog line")
		close(started)
		<-release
		fmt.Fprintln(out, "live line")
		return run.Outcome{ExitCode: 0}, nil
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	snap := submitJob(t, s, `{"target":"riscv32_simple","mode":"simple"}`)
	<-started

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/" + snap.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading backlog: %v", err)
	}
	if string(msg) != "backlog line" {
		t.Errorf("backlog = %q", msg)
	}

	close(release)
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading live line: %v", err)
	}
	if string(msg) != "live line" {
		t.Errorf("live = %q", msg)
	}
}

func TestStreamUnknownJob(t *testing.T) {
	s := newTestServer(instantRun(0))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/job-404/stream", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
