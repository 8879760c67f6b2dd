// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotejob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remote/remotetest"
	"github.com/bureau-foundation/buildrelay/lib/terminal"
	"github.com/bureau-foundation/buildrelay/lib/testutil"
)

const (
	testJobID   = "0123abcd"
	pollPrefix  = "sh -c if [ -f /scratch/build_complete_0123abcd ]"
	drainPrefix = "sh -c if [ -f /scratch/build_output_0123abcd ]"
	exitPrefix  = "cat /scratch/build_exit_0123abcd"
	cleanPrefix = "rm -f /scratch/build_complete_0123abcd"
	closePrefix = `osascript -e tell application "Terminal" to close`
	launchPfx   = `osascript -e tell application "Terminal" -e activate`
)

type harness struct {
	fake       *remotetest.Fake
	clock      *clock.FakeClock
	supervisor *Supervisor

	mu    sync.Mutex
	lines []string
}

func newHarness(t *testing.T, budget int, journal *Journal) *harness {
	t.Helper()
	h := &harness{
		fake:  remotetest.New(),
		clock: clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.supervisor = NewSupervisor(Config{
		Launcher:   terminal.TerminalApp{},
		ScratchDir: "/scratch",
		TickBudget: budget,
		Journal:    journal,
		Clock:      h.clock,
		Logger:     testutil.Logger(t),
		NewID:      func() string { return testJobID },
	})
	return h
}

func (h *harness) progress(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
}

func (h *harness) progressLines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

type runResult struct {
	outcome Outcome
	err     error
}

// start runs the job in a goroutine and returns the channel carrying
// its result.
func (h *harness) start(ctx context.Context) <-chan runResult {
	results := make(chan runResult, 1)
	go func() {
		outcome, err := h.supervisor.Run(ctx, h.fake, Job{Title: "Mac Build", Dir: "/src", Script: "./build.sh"}, h.progress)
		results <- runResult{outcome, err}
	}()
	return results
}

// tick waits for the supervisor to block on its poll interval and
// advances past it.
func (h *harness) tick(n int) {
	for range n {
		h.clock.WaitForTimers(1)
		h.clock.Advance(DefaultPollInterval)
	}
}

func pollResult(status, output string) remote.Result {
	return remote.Result{Stdout: status + "\n" + output}
}

func TestRunSucceeded(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnSequence(pollPrefix,
		pollResult(statusRunning, "compiling\npart"),
		pollResult(statusRunning, "ial line\n"),
		pollResult(statusComplete, "linking\n"),
	)
	h.fake.OnResult(exitPrefix, remote.Result{Stdout: "0\n"})
	h.fake.OnResult(drainPrefix, remote.Result{Stdout: "done"})

	results := h.start(context.Background())
	h.tick(2)
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for Run")

	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	outcome := result.outcome
	if outcome.State != Succeeded || outcome.ExitCode != 0 || !outcome.Succeeded() {
		t.Errorf("outcome = %s exit %d, want succeeded exit 0", outcome.State, outcome.ExitCode)
	}
	if outcome.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", outcome.Ticks)
	}
	if want := "compiling\npartial line\nlinking\ndone"; outcome.Output != want {
		t.Errorf("Output = %q, want %q", outcome.Output, want)
	}
	wantLines := []string{"compiling", "partial line", "linking", "done"}
	if got := h.progressLines(); strings.Join(got, "|") != strings.Join(wantLines, "|") {
		t.Errorf("progress lines = %q, want %q", got, wantLines)
	}
	if h.fake.Count(cleanPrefix) != 1 {
		t.Errorf("scratch files removed %d times, want 1; calls: %q", h.fake.Count(cleanPrefix), h.fake.Lines())
	}
	if waits := h.clock.Waits(); len(waits) != 2 || waits[0] != time.Second {
		t.Errorf("waits = %v, want two 1s polls", waits)
	}
}

func TestRunFailedExitCode(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnResult(pollPrefix, pollResult(statusComplete, "error: signing failed\n"))
	h.fake.OnResult(exitPrefix, remote.Result{Stdout: "1\n"})

	result := testutil.RequireReceive(t, h.start(context.Background()), 5*time.Second, "waiting for Run")
	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	if result.outcome.State != Failed || result.outcome.ExitCode != 1 {
		t.Errorf("outcome = %s exit %d, want failed exit 1", result.outcome.State, result.outcome.ExitCode)
	}
	if !strings.Contains(result.outcome.Output, "signing failed") {
		t.Errorf("Output = %q", result.outcome.Output)
	}
}

func TestRunUnparsableExitCode(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnResult(pollPrefix, pollResult(statusComplete, ""))
	h.fake.OnResult(exitPrefix, remote.Result{Stdout: "not-a-number\n"})

	result := testutil.RequireReceive(t, h.start(context.Background()), 5*time.Second, "waiting for Run")
	if result.outcome.State != Failed || result.outcome.ExitCode != -1 {
		t.Errorf("outcome = %s exit %d, want failed exit -1", result.outcome.State, result.outcome.ExitCode)
	}
}

func TestRunMarkerWithoutExitCodeKeepsPolling(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnSequence(pollPrefix,
		pollResult(statusMarkerOnly, ""),
		pollResult(statusMarkerOnly, ""),
		pollResult(statusComplete, ""),
	)
	h.fake.OnResult(exitPrefix, remote.Result{Stdout: "0\n"})

	results := h.start(context.Background())
	h.tick(2)
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for Run")

	if result.outcome.State != Succeeded {
		t.Errorf("State = %s, want succeeded", result.outcome.State)
	}
	if result.outcome.Ticks != 3 {
		t.Errorf("Ticks = %d, want 3", result.outcome.Ticks)
	}
	if h.fake.Count(exitPrefix) != 1 {
		t.Errorf("exit code read %d times, want once after the exit file appeared", h.fake.Count(exitPrefix))
	}
}

func TestRunTimedOut(t *testing.T) {
	const budget = 4
	h := newHarness(t, budget, nil)
	// Output keeps arriving but the marker never does.
	h.fake.OnResult(pollPrefix, pollResult(statusRunning, "still working\n"))

	results := h.start(context.Background())
	h.tick(budget)
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for Run")

	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	if result.outcome.State != TimedOut {
		t.Fatalf("State = %s, want timed_out", result.outcome.State)
	}
	if result.outcome.Ticks != budget {
		t.Errorf("Ticks = %d, want %d", result.outcome.Ticks, budget)
	}
	if h.fake.Count(exitPrefix) != 0 {
		t.Error("exit code read after timeout")
	}
	if h.fake.Count(closePrefix) != 1 {
		t.Errorf("session closed %d times, want 1", h.fake.Count(closePrefix))
	}
	if h.fake.Count(cleanPrefix) != 1 {
		t.Errorf("scratch files removed %d times, want 1", h.fake.Count(cleanPrefix))
	}
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnResult(pollPrefix, pollResult(statusRunning, ""))

	ctx, cancel := context.WithCancel(context.Background())
	results := h.start(ctx)
	h.clock.WaitForTimers(1)
	cancel()
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for Run")

	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", result.err)
	}
	if h.fake.Count(cleanPrefix) != 1 {
		t.Errorf("scratch files removed %d times after cancellation, want 1", h.fake.Count(cleanPrefix))
	}
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness(t, 10, nil)
	h.fake.OnResult(launchPfx, remote.Result{ExitCode: 1, Stderr: "Not authorized to send Apple events"})

	result := testutil.RequireReceive(t, h.start(context.Background()), 5*time.Second, "waiting for Run")
	if result.err == nil {
		t.Fatal("Run succeeded despite launch failure")
	}
	if result.outcome.State != Failed {
		t.Errorf("State = %s, want failed", result.outcome.State)
	}
	if h.fake.Count(pollPrefix) != 0 {
		t.Error("polled a job that never launched")
	}
}

func TestRunJournal(t *testing.T) {
	journal := OpenJournal(filepath.Join(t.TempDir(), "jobs.cbor"))
	h := newHarness(t, 10, journal)

	var duringLaunch []Entry
	h.fake.On(launchPfx, func(remote.Command) (remote.Result, error) {
		entries, err := journal.Entries()
		if err != nil {
			return remote.Result{}, err
		}
		duringLaunch = entries
		return remote.Result{}, nil
	})
	h.fake.OnResult(pollPrefix, pollResult(statusComplete, ""))
	h.fake.OnResult(exitPrefix, remote.Result{Stdout: "0\n"})

	result := testutil.RequireReceive(t, h.start(context.Background()), 5*time.Second, "waiting for Run")
	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	if len(duringLaunch) != 1 || duringLaunch[0].Handle.ID != testJobID || duringLaunch[0].Title != "Mac Build" {
		t.Errorf("journal during launch = %+v, want the launched job", duringLaunch)
	}
	remaining, err := journal.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("journal after cleanup = %+v, want empty", remaining)
	}
}

func TestWrapperScriptOrdering(t *testing.T) {
	handle := NewHandle("/tmp", "abc")
	script := handle.wrapperScript("/Users/build/My Project", "./build.sh")

	mv := strings.Index(script, "mv -f /tmp/build_exit_abc.tmp /tmp/build_exit_abc")
	touch := strings.Index(script, "touch /tmp/build_complete_abc")
	if mv < 0 || touch < 0 {
		t.Fatalf("script missing exit rename or marker: %s", script)
	}
	if mv > touch {
		t.Errorf("marker created before exit code file: %s", script)
	}
	if !strings.Contains(script, "&& touch") {
		t.Errorf("marker not conditional on the exit file rename: %s", script)
	}
	if !strings.HasPrefix(script, ": > /tmp/build_output_abc; ( cd '/Users/build/My Project' || exit 1; ./build.sh ) >> /tmp/build_output_abc 2>&1") {
		t.Errorf("unexpected script prefix: %s", script)
	}
}

func TestNewID(t *testing.T) {
	first, second := NewID(), NewID()
	if len(first) != 32 || first == second {
		t.Errorf("NewID() = %q, %q; want distinct 32-character ids", first, second)
	}
	if remote.Quote(first) != first {
		t.Errorf("job id %q needs shell quoting", first)
	}
}

func TestRunLocalDetached(t *testing.T) {
	scratch := t.TempDir()
	supervisor := NewSupervisor(Config{
		Launcher:     terminal.Detached{},
		ScratchDir:   scratch,
		PollInterval: 20 * time.Millisecond,
		TickBudget:   500,
		Logger:       testutil.Logger(t),
	})

	var lines []string
	outcome, err := supervisor.Run(context.Background(), remote.NewLocal(nil),
		Job{Title: "local", Dir: scratch, Script: "echo hello; echo world >&2; exit 3"},
		func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != Failed || outcome.ExitCode != 3 {
		t.Errorf("outcome = %s exit %d, want failed exit 3", outcome.State, outcome.ExitCode)
	}
	if !strings.Contains(outcome.Output, "hello") || !strings.Contains(outcome.Output, "world") {
		t.Errorf("Output = %q, want both streams", outcome.Output)
	}
	if len(lines) != 2 {
		t.Errorf("progress lines = %q, want 2", lines)
	}
	for _, path := range outcome.Handle.Paths() {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("scratch file %s still present (stat error %v)", path, err)
		}
	}
}

func TestRunLocalDetachedAcrossPolls(t *testing.T) {
	scratch := t.TempDir()
	supervisor := NewSupervisor(Config{
		Launcher:     terminal.Detached{},
		ScratchDir:   scratch,
		PollInterval: 50 * time.Millisecond,
		TickBudget:   400,
		Logger:       testutil.Logger(t),
	})

	var lines []string
	outcome, err := supervisor.Run(context.Background(), remote.NewLocal(nil),
		Job{Title: "local", Dir: scratch, Script: "printf 'first line of output\\n'; sleep 1; printf 'second\\n'; sleep 1; printf 'third\\n'"},
		func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != Succeeded {
		t.Fatalf("outcome = %s exit %d, want succeeded", outcome.State, outcome.ExitCode)
	}
	if outcome.Ticks < 3 {
		t.Fatalf("Ticks = %d, want output read over several polls", outcome.Ticks)
	}
	if strings.ContainsRune(outcome.Output, 0) {
		t.Errorf("Output contains NUL bytes: %q", outcome.Output)
	}
	if want := "first line of output\nsecond\nthird\n"; outcome.Output != want {
		t.Errorf("Output = %q, want %q", outcome.Output, want)
	}
	if want := []string{"first line of output", "second", "third"}; strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("progress lines = %q, want %q", lines, want)
	}
}
