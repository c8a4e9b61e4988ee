// Package supervise launches the simulator process and supervises it to
// completion under one of two strategies: a bounded wait with a hard
// timeout, or a marker-gated wait that terminates the child early once
// every required completion marker has appeared in its console files.
package supervise

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/omx-labs/simrun/internal/command"
	"github.com/omx-labs/simrun/internal/markers"
)

// Result is the typed outcome of one supervised run. Timeouts are a
// result, never an error.
type Result struct {
	Returncode         int  `json:"returncode"`
	Timeout            bool `json:"timeout"`
	TerminatedOnMarker bool `json:"terminated_on_marker"`

	// RawReturncode holds the child's pre-termination exit code when a
	// marker-gated run was force-stopped (usually a signal status).
	RawReturncode *int `json:"raw_returncode,omitempty"`
}

// ExitTimeout is the conventional exit code for a run that hit its
// deadline, matching the coreutils timeout(1) convention.
const ExitTimeout = 124

// Clock abstracts time for the polling loop so tests can run the
// supervisor without wall-clock sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Options configure one supervised run.
type Options struct {
	// Timeout bounds the whole run. Zero means no deadline, which is
	// only sensible in tests.
	Timeout time.Duration

	// PollInterval is the sleep between marker re-checks (default 2s).
	PollInterval time.Duration

	// GracePeriod is how long to wait between the graceful terminate
	// signal and the forceful kill (default 10s).
	GracePeriod time.Duration

	// RequiredMarkers, when non-empty, selects the marker-gated
	// strategy; MarkerLogs are then re-read in full on every poll.
	RequiredMarkers []string
	MarkerLogs      []string

	// AllowInterleaved selects the permissive matching tier.
	AllowInterleaved bool

	// ExtraEnv entries are appended to the child's environment.
	ExtraEnv []string

	// Clock defaults to the wall clock.
	Clock Clock
}

func (o *Options) clock() Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return RealClock
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 10 * time.Second
	}
}

// Run executes cmd with combined output redirected to logPath and
// supervises it per opts. The only errors are spawn-level failures;
// everything the child does, including timing out, is a Result.
// No return path leaves the child running.
func Run(cmd command.Command, logPath string, opts Options) (Result, error) {
	opts.defaults()
	clock := opts.clock()

	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating run log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	child.Stdout = logFile
	child.Stderr = logFile
	if len(opts.ExtraEnv) > 0 {
		child.Env = append(os.Environ(), opts.ExtraEnv...)
	}

	if err := child.Start(); err != nil {
		return Result{}, fmt.Errorf("spawning simulator: %w", err)
	}

	waitCh := make(chan int, 1)
	go func() {
		_ = child.Wait()
		waitCh <- child.ProcessState.ExitCode()
	}()

	// The deadline is absolute and computed once; every iteration
	// re-checks against it, so variable poll latency cannot stretch
	// the budget.
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = clock.Now().Add(opts.Timeout)
	}

	for {
		select {
		case code := <-waitCh:
			return Result{Returncode: code}, nil
		default:
		}

		if len(opts.RequiredMarkers) > 0 && markersSatisfied(opts) {
			raw := stop(child, waitCh, clock, opts.GracePeriod)
			return Result{Returncode: 0, TerminatedOnMarker: true, RawReturncode: &raw}, nil
		}

		if !deadline.IsZero() && !clock.Now().Before(deadline) {
			stop(child, waitCh, clock, opts.GracePeriod)
			return Result{Returncode: ExitTimeout, Timeout: true}, nil
		}

		clock.Sleep(opts.PollInterval)
	}
}

// markersSatisfied re-reads the marker logs in full and tests every
// required marker. The files grow independently and asynchronously;
// concatenating their current contents lets a combined readiness
// condition spanning several consoles be detected.
func markersSatisfied(opts Options) bool {
	text := markers.ReadAll(opts.MarkerLogs)
	return markers.AllPresent(text, opts.RequiredMarkers, opts.AllowInterleaved)
}

// stop terminates the child in two phases: a graceful signal, a bounded
// grace wait, then a forceful kill. It returns the child's raw exit
// status (a signal status shows up as -1).
func stop(child *exec.Cmd, waitCh chan int, clock Clock, grace time.Duration) int {
	_ = child.Process.Signal(syscall.SIGTERM)

	graceDeadline := clock.Now().Add(grace)
	for clock.Now().Before(graceDeadline) {
		select {
		case code := <-waitCh:
			return code
		default:
		}
		clock.Sleep(50 * time.Millisecond)
	}

	_ = child.Process.Kill()
	return <-waitCh
}
