// Package jobs tracks asynchronous simulator runs launched from the
// dashboard API. Each job captures the orchestrator's progress lines,
// maps them to a coarse stage and percentage, and fans live output out
// to stream subscribers.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultMaxOutput bounds the retained output lines per job.
const DefaultMaxOutput = 800

// Snapshot is an immutable copy of a job's state.
type Snapshot struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	Mode   string `json:"mode"`
	DryRun bool   `json:"dry_run"`

	Status   Status `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`

	ExitCode     int    `json:"exit_code"`
	ManifestPath string `json:"manifest_path,omitempty"`
	Error        string `json:"error,omitempty"`

	Output []string `json:"output,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Runner performs the actual run, writing progress lines to the job.
type Runner func(ctx context.Context, out *JobWriter) (exitCode int, manifestPath string, err error)

// progressStages maps output tokens to coarse progress. Later stages
// never move progress backwards.
var progressStages = []struct {
	token string
	stage string
	pct   int
}{
	{"[INFO] Run ", "preparing", 5},
	{"trampoline", "building boot trampoline", 15},
	{"[WARN] Missing artifact", "resolving artifacts", 20},
	{"[INFO] Executing:", "simulating", 40},
	{"[INFO] All completion markers observed", "finishing", 80},
	{"[INFO] check ", "validating", 90},
	{"[OK] Manifest:", "finalizing", 95},
}

type job struct {
	mu sync.Mutex

	id        string
	target    string
	mode      string
	dryRun    bool
	status    Status
	stage     string
	progress  int
	exitCode  int
	manifest  string
	errText   string
	output    []string
	maxOutput int
	createdAt time.Time
	finished  *time.Time

	subscribers map[chan string]struct{}
}

// JobWriter is the io.Writer handed to the runner; it splits writes
// into lines and feeds them to the job.
type JobWriter struct {
	j   *job
	buf strings.Builder
}

// Write implements io.Writer. Partial lines are buffered until their
// newline arrives.
func (w *JobWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		s := w.buf.String()
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			break
		}
		w.j.appendLine(s[:idx])
		w.buf.Reset()
		w.buf.WriteString(s[idx+1:])
	}
	return len(p), nil
}

func (j *job) appendLine(line string) {
	j.mu.Lock()
	j.output = append(j.output, line)
	if len(j.output) > j.maxOutput {
		j.output = j.output[len(j.output)-j.maxOutput:]
	}
	for _, ps := range progressStages {
		if strings.Contains(line, ps.token) && ps.pct > j.progress {
			j.progress = ps.pct
			j.stage = ps.stage
		}
	}
	// Fan out under the lock; sends are non-blocking so a closed-channel
	// race with cancel() cannot occur and slow subscribers just drop.
	for ch := range j.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	j.mu.Unlock()
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.output))
	copy(out, j.output)
	return Snapshot{
		ID:           j.id,
		Target:       j.target,
		Mode:         j.mode,
		DryRun:       j.dryRun,
		Status:       j.status,
		Stage:        j.stage,
		Progress:     j.progress,
		ExitCode:     j.exitCode,
		ManifestPath: j.manifest,
		Error:        j.errText,
		Output:       out,
		CreatedAt:    j.createdAt,
		FinishedAt:   j.finished,
	}
}

// Registry owns all jobs for one server process.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*job
	nextID    int
	maxOutput int
}

// NewRegistry creates an empty registry retaining up to maxOutput
// output lines per job (DefaultMaxOutput when zero).
func NewRegistry(maxOutput int) *Registry {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Registry{jobs: make(map[string]*job), maxOutput: maxOutput}
}

// Submit registers a job and starts its runner in a goroutine.
// The returned ID is immediately queryable.
func (r *Registry) Submit(target, mode string, dryRun bool, run Runner) string {
	r.mu.Lock()
	r.nextID++
	id := fmt.Sprintf("job-%d", r.nextID)
	j := &job{
		id:          id,
		target:      target,
		mode:        mode,
		dryRun:      dryRun,
		status:      StatusQueued,
		stage:       "queued",
		maxOutput:   r.maxOutput,
		createdAt:   time.Now().UTC(),
		subscribers: make(map[chan string]struct{}),
	}
	r.jobs[id] = j
	r.mu.Unlock()

	go func() {
		j.mu.Lock()
		j.status = StatusRunning
		j.stage = "starting"
		j.mu.Unlock()

		code, manifestPath, err := run(context.Background(), &JobWriter{j: j})

		now := time.Now().UTC()
		j.mu.Lock()
		j.exitCode = code
		j.manifest = manifestPath
		j.finished = &now
		j.progress = 100
		if err != nil {
			j.status = StatusFailed
			j.stage = "error"
			j.errText = err.Error()
		} else if code == 0 {
			j.status = StatusSucceeded
			j.stage = "done"
		} else {
			j.status = StatusFailed
			j.stage = "done"
		}
		subs := make([]chan string, 0, len(j.subscribers))
		for ch := range j.subscribers {
			subs = append(subs, ch)
			delete(j.subscribers, ch)
		}
		j.mu.Unlock()
		for _, ch := range subs {
			close(ch)
		}
	}()

	return id
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// List returns snapshots of all jobs, newest first, without output
// bodies (they can be large; fetch a single job for the full tail).
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	all := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, j := range all {
		s := j.snapshot()
		s.Output = nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Subscribe returns the lines already produced plus a channel carrying
// subsequent ones. The channel closes when the job finishes. The cancel
// function must be called when the consumer goes away.
func (r *Registry) Subscribe(id string) (backlog []string, live <-chan string, cancel func(), ok bool) {
	r.mu.Lock()
	j, exists := r.jobs[id]
	r.mu.Unlock()
	if !exists {
		return nil, nil, nil, false
	}

	ch := make(chan string, 64)
	j.mu.Lock()
	backlog = make([]string, len(j.output))
	copy(backlog, j.output)
	done := j.finished != nil
	if !done {
		j.subscribers[ch] = struct{}{}
	}
	j.mu.Unlock()

	if done {
		close(ch)
		return backlog, ch, func() {}, true
	}

	cancel = func() {
		j.mu.Lock()
		if _, still := j.subscribers[ch]; still {
			delete(j.subscribers, ch)
			close(ch)
		}
		j.mu.Unlock()
	}
	return backlog, ch, cancel, true
}
