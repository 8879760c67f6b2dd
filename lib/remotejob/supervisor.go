// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotejob

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/terminal"
)

// cleanupTimeout bounds best-effort cleanup that runs after the
// caller's context is already done.
const cleanupTimeout = 15 * time.Second

// Poll status words printed by the poll script.
const (
	statusComplete   = "complete"
	statusMarkerOnly = "marker-only"
	statusRunning    = "running"
)

// ProgressFunc receives each complete line of job output as it is
// read.
type ProgressFunc func(line string)

// Config configures a Supervisor.
type Config struct {
	// Launcher starts the interactive session. Required.
	Launcher terminal.Launcher

	// ScratchDir holds the scratch files. Default DefaultScratchDir.
	ScratchDir string

	// PollInterval is the time between polls. Default
	// DefaultPollInterval.
	PollInterval time.Duration

	// TickBudget is the number of polls before the job is declared
	// TimedOut. Default DefaultTickBudget.
	TickBudget int

	// Host is recorded in journal entries so a sweep knows where the
	// scratch files live.
	Host string

	// Journal records launched jobs until cleanup. Optional.
	Journal *Journal

	Clock  clock.Clock
	Logger *slog.Logger

	// NewID generates job ids. Default NewID.
	NewID func() string
}

// Supervisor launches and supervises remote jobs. A Supervisor holds
// no per-job state; concurrent Run calls are independent.
type Supervisor struct {
	config Config
}

// NewSupervisor fills defaults into config.
func NewSupervisor(config Config) *Supervisor {
	if config.ScratchDir == "" {
		config.ScratchDir = DefaultScratchDir
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.TickBudget <= 0 {
		config.TickBudget = DefaultTickBudget
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.NewID == nil {
		config.NewID = NewID
	}
	return &Supervisor{config: config}
}

// Run launches job through the configured launcher and polls until it
// completes or the tick budget runs out.
//
// The returned error is non-nil only when the job could not be
// launched or ctx ended; script failures and timeouts are reported in
// the Outcome. On every return path after launch the scratch files
// are removed (best-effort) and the journal entry is dropped.
func (s *Supervisor) Run(ctx context.Context, executor remote.Executor, job Job, progress ProgressFunc) (Outcome, error) {
	if s.config.Launcher == nil {
		return Outcome{State: Failed, ExitCode: -1}, failure.New(failure.Configuration, "remote job", "no session launcher configured")
	}
	started := s.config.Clock.Now()
	handle := NewHandle(s.config.ScratchDir, s.config.NewID())
	logger := s.config.Logger.With("job_id", handle.ID, "title", job.Title, "launcher", s.config.Launcher.Kind())
	lines := newLineSplitter(progress, logger)

	outcome := Outcome{Handle: handle, State: Launching, ExitCode: -1}

	if s.config.Journal != nil {
		entry := Entry{
			Handle:   handle,
			Host:     s.config.Host,
			Title:    job.Title,
			Launcher: s.config.Launcher.Kind(),
			Launched: started,
		}
		if err := s.config.Journal.Record(entry); err != nil {
			logger.Warn("recording remote job in journal failed", "error", err)
		}
	}

	logger.Info("launching remote job", "dir", job.Dir, "script", job.Script)
	session := terminal.Session{Title: job.Title, Script: handle.wrapperScript(job.Dir, job.Script)}
	if err := s.config.Launcher.Launch(ctx, executor, session); err != nil {
		s.cleanup(ctx, executor, handle, logger)
		outcome.State = Failed
		outcome.Duration = s.config.Clock.Now().Sub(started)
		return outcome, fmt.Errorf("launching remote job %s: %w", handle.ID, err)
	}

	outcome.State = Running
	markerOnlyLogged := false
	for outcome.Ticks < s.config.TickBudget {
		status, output, err := s.poll(ctx, executor, handle)
		outcome.Ticks++
		outcome.Output += output
		lines.write(output)

		if err != nil {
			if ctx.Err() != nil {
				return s.abandon(ctx, executor, job, outcome, lines, logger, started)
			}
			logger.Warn("polling remote job failed", "tick", outcome.Ticks, "error", err)
		}

		switch status {
		case statusComplete:
			return s.finish(ctx, executor, job, outcome, lines, logger, started)
		case statusMarkerOnly:
			if !markerOnlyLogged {
				logger.Warn("completion marker present without exit code file, continuing to poll")
				markerOnlyLogged = true
			}
		}

		if err := clock.Wait(ctx, s.config.Clock, s.config.PollInterval); err != nil {
			return s.abandon(ctx, executor, job, outcome, lines, logger, started)
		}
	}

	logger.Error("remote job timed out", "ticks", outcome.Ticks)
	if err := s.config.Launcher.Close(ctx, executor, job.Title); err != nil {
		logger.Warn("closing session after timeout failed", "error", err)
	}
	lines.flush()
	s.cleanup(ctx, executor, handle, logger)
	outcome.State = TimedOut
	outcome.Duration = s.config.Clock.Now().Sub(started)
	return outcome, nil
}

// pollScript prints one status word on the first line, then any output
// accumulated since the previous poll, truncating the output file.
func pollScript(handle Handle) string {
	marker, exitCode, output := remote.Quote(handle.MarkerPath), remote.Quote(handle.ExitCodePath), remote.Quote(handle.OutputPath)
	return "if [ -f " + marker + " ]; then " +
		"if [ -f " + exitCode + " ]; then echo " + statusComplete + "; else echo " + statusMarkerOnly + "; fi; " +
		"else echo " + statusRunning + "; fi; " +
		"if [ -f " + output + " ]; then cat " + output + " && : > " + output + "; fi"
}

func (s *Supervisor) poll(ctx context.Context, executor remote.Executor, handle Handle) (status, output string, err error) {
	result, err := executor.Execute(ctx, remote.Shell(pollScript(handle)))
	if err != nil {
		return statusRunning, "", err
	}
	if result.TimedOut || result.ExitCode != 0 {
		return statusRunning, "", failure.New(failure.CommandExecution, "poll",
			fmt.Sprintf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}
	status, output, _ = strings.Cut(result.Stdout, "\n")
	switch status {
	case statusComplete, statusMarkerOnly, statusRunning:
		return status, output, nil
	default:
		return statusRunning, "", fmt.Errorf("unexpected poll status %q", status)
	}
}

// finish reads the exit code, drains residual output, closes the
// session, and removes the scratch files.
func (s *Supervisor) finish(ctx context.Context, executor remote.Executor, job Job, outcome Outcome, lines *lineSplitter, logger *slog.Logger, started time.Time) (Outcome, error) {
	handle := outcome.Handle

	outcome.State = Failed
	result, err := executor.Execute(ctx, remote.Command{Name: "cat", Args: []string{handle.ExitCodePath}})
	switch {
	case err != nil:
		logger.Warn("reading exit code file failed", "error", err)
	case !result.Succeeded():
		logger.Warn("reading exit code file failed", "exit_code", result.ExitCode, "stderr", strings.TrimSpace(result.Stderr))
	default:
		code, parseErr := strconv.Atoi(strings.TrimSpace(result.Stdout))
		if parseErr != nil {
			logger.Warn("unparsable exit code", "content", result.Stdout)
		} else {
			outcome.ExitCode = code
			if code == 0 {
				outcome.State = Succeeded
			}
		}
	}

	drain := "if [ -f " + remote.Quote(handle.OutputPath) + " ]; then cat " + remote.Quote(handle.OutputPath) + "; fi"
	if residual, err := executor.Execute(ctx, remote.Shell(drain)); err == nil && residual.Succeeded() {
		outcome.Output += residual.Stdout
		lines.write(residual.Stdout)
	}
	lines.flush()

	if err := s.config.Launcher.Close(ctx, executor, job.Title); err != nil {
		logger.Debug("closing session after completion failed", "error", err)
	}
	s.cleanup(ctx, executor, handle, logger)

	outcome.Duration = s.config.Clock.Now().Sub(started)
	logger.Info("remote job finished", "state", outcome.State.String(), "exit_code", outcome.ExitCode, "ticks", outcome.Ticks)
	return outcome, nil
}

// abandon handles cancellation of the caller's context while the job
// is running. The scratch files and session are cleaned up with a
// fresh, bounded context; the script may still be running.
func (s *Supervisor) abandon(ctx context.Context, executor remote.Executor, job Job, outcome Outcome, lines *lineSplitter, logger *slog.Logger, started time.Time) (Outcome, error) {
	lines.flush()
	logger.Warn("remote job supervision cancelled", "ticks", outcome.Ticks, "error", ctx.Err())
	cleanupContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.config.Launcher.Close(cleanupContext, executor, job.Title); err != nil {
		logger.Debug("closing session after cancellation failed", "error", err)
	}
	s.cleanup(cleanupContext, executor, outcome.Handle, logger)
	outcome.State = Failed
	outcome.Duration = s.config.Clock.Now().Sub(started)
	return outcome, ctx.Err()
}

// cleanup removes the scratch files and the journal entry. The
// journal entry is kept when removal fails so a later sweep retries.
func (s *Supervisor) cleanup(ctx context.Context, executor remote.Executor, handle Handle, logger *slog.Logger) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
	}
	result, err := executor.Execute(ctx, handle.cleanupCommand())
	if err != nil || !result.Succeeded() {
		logger.Warn("removing scratch files failed", "error", err, "exit_code", result.ExitCode)
		return
	}
	if s.config.Journal != nil {
		if err := s.config.Journal.Remove(handle.ID); err != nil {
			logger.Warn("removing journal entry failed", "error", err)
		}
	}
}

// lineSplitter turns output chunks into complete lines for the
// progress sink, holding back a trailing partial line until the next
// chunk or flush.
type lineSplitter struct {
	sink    ProgressFunc
	pending string
}

func newLineSplitter(sink ProgressFunc, logger *slog.Logger) *lineSplitter {
	if sink == nil {
		sink = func(line string) { logger.Debug("job output", "line", line) }
	}
	return &lineSplitter{sink: sink}
}

func (l *lineSplitter) write(chunk string) {
	if chunk == "" {
		return
	}
	text := l.pending + chunk
	lines := strings.Split(text, "\n")
	l.pending = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		l.emit(line)
	}
}

func (l *lineSplitter) flush() {
	if l.pending != "" {
		l.emit(l.pending)
		l.pending = ""
	}
}

func (l *lineSplitter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.sink(line)
}
