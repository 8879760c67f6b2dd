// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/artifact"
	"github.com/bureau-foundation/buildrelay/lib/buildversion"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/gitsync"
	"github.com/bureau-foundation/buildrelay/lib/notify"
	"github.com/bureau-foundation/buildrelay/lib/pipelinedef"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remotejob"
)

// run is the state of one pipeline execution.
type run struct {
	coordinator *Coordinator
	target      *pipelinedef.Target
	host        Host
	branch      string
	variables   map[string]string
	logger      *slog.Logger
	report      Report

	// packaged is false once a package stage ran and did not succeed.
	packaged bool
}

// outcome is what a stage function reports back. err nil means the
// stage succeeded; skipped overrides both.
type outcome struct {
	message string
	output  string
	err     error
	skipped bool
}

func (r *run) execute(ctx context.Context) {
	r.packaged = true
	r.notify(ctx, notify.Start, "", fmt.Sprintf("Starting %s build...", r.label()))

	steps := []struct {
		stage Stage
		run   func(context.Context) outcome
		when  bool
	}{
		{StageSync, r.sync, true},
		{StageVersion, r.version, r.target.Version != nil},
		{StageBuild, r.build, true},
		{StagePackage, r.pack, r.target.Package != nil},
		{StageDistribute, r.distribute, r.target.Distribute != nil},
	}

	for _, step := range steps {
		if !step.when {
			continue
		}
		if ctx.Err() != nil {
			r.cancelled(ctx, step.stage)
			return
		}

		started := r.coordinator.clock.Now()
		result := r.conclude(step.stage, step.run(ctx))
		if ctx.Err() != nil && (result.Status == Failed || result.Status == Warned) {
			// A stage cut short by cancellation fails the run whatever its
			// policy says.
			result.Status = Failed
			r.report.Cancelled = true
		}
		result.Duration = r.coordinator.clock.Now().Sub(started)
		r.report.Stages = append(r.report.Stages, result)
		r.coordinator.metrics.ObserveStage(r.target.Name, string(step.stage), result.Status.String(), result.Duration.Seconds())
		r.announce(ctx, result)

		if result.Status == Failed {
			return
		}
	}

	if r.report.Succeeded() {
		r.notify(ctx, notify.Success, "", fmt.Sprintf("%s build completed successfully!", r.label()))
	}
}

// cancelled records that ctx ended before stage could start. The
// message goes out on a context that outlives the cancellation.
func (r *run) cancelled(ctx context.Context, stage Stage) {
	r.report.Cancelled = true
	r.logger.Info("pipeline cancelled", "before_stage", stage, "error", ctx.Err())
	r.notify(context.WithoutCancel(ctx), notify.Failure, stage,
		fmt.Sprintf("%s build cancelled before %s", r.label(), stage))
}

// conclude applies the stage's failure policy to its outcome.
func (r *run) conclude(stage Stage, result outcome) StageResult {
	stageResult := StageResult{
		Stage:   stage,
		Message: result.message,
		output:  result.output,
	}
	switch {
	case result.skipped:
		stageResult.Status = Skipped
	case result.err == nil:
		stageResult.Status = Succeeded
	default:
		stageResult.Status = Failed
		if Policies[stage] == Warn {
			stageResult.Status = Warned
		}
		if stageResult.Message == "" {
			stageResult.Message = result.err.Error()
		}
		stageResult.OutputTail = Tail(result.output, r.coordinator.tailSize)
		hints := r.target.Hints
		if len(hints) == 0 {
			hints = pipelinedef.DefaultHints
		}
		stageResult.Hints = pipelinedef.MatchHints(hints, result.output)
		r.logger.Warn("stage did not succeed",
			"stage", stage,
			"status", stageResult.Status,
			"kind", failure.KindOf(result.err),
			"error", result.err,
		)
	}
	return stageResult
}

// announce reports a stage result to the operator channel.
func (r *run) announce(ctx context.Context, result StageResult) {
	level := notify.Success
	switch result.Status {
	case Failed:
		level = notify.Failure
	case Warned:
		level = notify.Warning
	case Skipped:
		level = notify.Info
	}

	text := result.Message
	if result.OutputTail != "" && result.Status == Failed {
		text += "\n```\n" + result.OutputTail + "\n```"
	}
	r.notify(ctx, level, result.Stage, text)
	for _, hint := range result.Hints {
		r.notify(ctx, notify.Warning, result.Stage, hint)
	}
}

func (r *run) notify(ctx context.Context, level notify.Level, stage Stage, text string) {
	r.coordinator.notify(ctx, notify.Message{
		Level:  level,
		Target: r.target.Name,
		Stage:  string(stage),
		Text:   text,
	})
}

// label names the target in messages: its platform when set.
func (r *run) label() string {
	if r.target.Platform != "" {
		return r.target.Platform
	}
	return r.target.Name
}

func (r *run) sync(ctx context.Context) outcome {
	synchronizer := gitsync.New(gitsync.Config{
		Executor:       r.host.Executor,
		Files:          r.host.Files,
		Remote:         r.target.Repository.Remote,
		RemoteMap:      r.coordinator.remoteMap,
		MaxAttempts:    r.coordinator.syncAttempts,
		InitialBackoff: r.coordinator.syncBackoff,
		Clock:          r.coordinator.clock,
		Logger:         r.logger,
	})
	result := synchronizer.Sync(ctx, r.target.Repository.Path, r.branch, r.host.SSH)

	kind := "none"
	if !result.Success {
		kind = result.Kind.String()
	}
	r.coordinator.metrics.ObserveSync(kind, max(result.Attempts, 1))

	if !result.Success {
		err := result.Err
		if err == nil {
			err = failure.New(result.Kind, "sync", result.Message)
		}
		return outcome{
			message: "Build aborted: Git pull failed: " + result.Message,
			err:     err,
		}
	}
	return outcome{message: "Git pull successful: " + result.Message}
}

func (r *run) version(ctx context.Context) outcome {
	step := r.target.Version
	store := r.coordinator.versions

	source, err := buildversion.NewSource(r.repoPath(step.File), step.Pattern)
	if err != nil {
		return outcome{message: "Version update warning: " + err.Error(), err: err}
	}

	var message string
	if step.StampToday {
		update, err := store.StampToday(ctx, source, r.coordinator.clock.Now())
		if err != nil {
			return r.versionFallback(source, err)
		}
		r.setVersion(update.Version)
		message = update.Message()
	} else {
		version, err := store.Read(source)
		if err != nil {
			return outcome{message: "Version update warning: " + err.Error(), err: err}
		}
		r.setVersion(version)
		message = "Build version " + version
	}

	if step.InstallerProject != "" {
		update, err := store.SyncInstaller(ctx, r.repoPath(step.InstallerProject), r.report.Version)
		if err != nil {
			return outcome{message: "Version sync warning: " + err.Error(), err: err}
		}
		if update.Changed {
			message += "; installer project set to " + update.Version
		}
	}
	return outcome{message: message}
}

// versionFallback keeps the version already in the file when stamping
// fails, so later stages still have one.
func (r *run) versionFallback(source buildversion.Source, stampErr error) outcome {
	if version, err := source.Read(); err == nil {
		r.setVersion(version)
	}
	return outcome{message: "Version update warning: " + stampErr.Error(), err: stampErr}
}

func (r *run) setVersion(version string) {
	r.report.Version = version
	r.variables[pipelinedef.VariableVersion] = version
}

func (r *run) build(ctx context.Context) outcome {
	output, err := r.runStep(ctx, StageBuild, r.target.Build)
	if err != nil {
		return outcome{
			message: fmt.Sprintf("%s build failed: %s", r.label(), describe(err)),
			output:  output,
			err:     err,
		}
	}
	return outcome{message: fmt.Sprintf("%s build step completed", r.label()), output: output}
}

func (r *run) pack(ctx context.Context) outcome {
	step := r.target.Package
	var cleanWarnings []string
	for _, dir := range step.Clean {
		dir, err := pipelinedef.Expand(dir, r.variables)
		if err == nil {
			err = r.clean(ctx, r.repoPath(dir))
		}
		if err != nil {
			cleanWarnings = append(cleanWarnings, err.Error())
		}
	}
	if len(cleanWarnings) > 0 {
		r.notify(ctx, notify.Warning, StagePackage,
			"Failed to clean up previous build output. This might cause issues with the build: "+strings.Join(cleanWarnings, "; "))
	}

	output, err := r.runStep(ctx, StagePackage, step.Step)
	if err != nil {
		r.packaged = false
		return outcome{
			message: fmt.Sprintf("%s installer build failed: %s", r.label(), describe(err)),
			output:  output,
			err:     err,
		}
	}
	return outcome{message: fmt.Sprintf("%s installer built successfully!", r.label()), output: output}
}

// clean empties dir on the host, keeping dir itself.
func (r *run) clean(ctx context.Context, dir string) error {
	quoted := remote.Quote(dir)
	command := remote.Shell(fmt.Sprintf("[ ! -d %s ] || find %s -mindepth 1 -delete", quoted, quoted))
	result, err := r.host.Executor.Execute(ctx, command)
	if err != nil {
		return fmt.Errorf("cleaning %s: %w", dir, err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("cleaning %s: exit code %d: %s", dir, result.ExitCode, result.Output())
	}
	return nil
}

func (r *run) distribute(ctx context.Context) outcome {
	if !r.packaged {
		return outcome{message: "Distribution skipped: no installer was built", skipped: true}
	}
	step := r.target.Distribute

	var output strings.Builder
	for _, download := range step.Downloads {
		remotePath, err := pipelinedef.Expand(download.RemotePath, r.variables)
		if err != nil {
			return outcome{err: failure.Wrap(failure.Configuration, "distribute", err)}
		}
		localPath, err := pipelinedef.Expand(download.LocalPath, r.variables)
		if err != nil {
			return outcome{err: failure.Wrap(failure.Configuration, "distribute", err)}
		}
		size, err := r.download(ctx, remotePath, localPath)
		if err != nil {
			return outcome{
				message: fmt.Sprintf("Failed to download installer. File may be on %s at: %s", r.target.Host, remotePath),
				err:     err,
			}
		}
		fmt.Fprintf(&output, "downloaded %s (%d bytes) to %s\n", remotePath, size, localPath)
	}

	dirs, err := r.artifactDirs()
	if err != nil {
		return outcome{err: err}
	}
	descriptor, found, err := artifact.Locate(dirs, step.Extensions)
	if err != nil {
		return outcome{message: "Failed to locate installer: " + err.Error(), err: err}
	}
	if !found {
		return outcome{
			message: fmt.Sprintf("No installer (%s) found in %s", strings.Join(step.Extensions, ", "), strings.Join(dirs, ", ")),
			err:     failure.New(failure.ArtifactNotFound, "distribute", "no artifact in "+strings.Join(dirs, ", ")),
		}
	}
	fmt.Fprintf(&output, "located %s (%.1f MB)\n", descriptor.Path, descriptor.SizeMB())

	share, err := pipelinedef.Expand(step.Share, r.variables)
	if err != nil {
		return outcome{err: failure.Wrap(failure.Configuration, "distribute", err)}
	}
	distribution, err := artifact.Distribute(descriptor, share, r.report.Version)
	if err != nil {
		return outcome{
			message: "Failed to copy installer to network path: " + err.Error(),
			output:  output.String(),
			err:     err,
		}
	}
	fmt.Fprintf(&output, "copied to %s (blake3 %s)\n", distribution.Destination, distribution.Digest)
	r.report.Artifact = distribution.Destination

	if step.Link != "" {
		variables := make(map[string]string, len(r.variables)+1)
		for name, value := range r.variables {
			variables[name] = value
		}
		variables[pipelinedef.VariableFile] = url.PathEscape(filepath.Base(distribution.Destination))
		link, err := pipelinedef.Expand(step.Link, variables)
		if err != nil {
			r.logger.Warn("download link not expanded", "error", err)
		} else {
			r.report.Link = link
			r.notify(ctx, notify.Link, StageDistribute, "Download: "+link)
		}
	}

	return outcome{
		message: fmt.Sprintf("Installer copied to %s (%.1f MB)", distribution.Destination, descriptor.SizeMB()),
		output:  output.String(),
	}
}

// artifactDirs returns the directories searched for the artifact,
// highest priority first.
func (r *run) artifactDirs() ([]string, error) {
	step := r.target.Distribute
	dirs, err := pipelinedef.ExpandAll(step.Dirs, r.variables)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "distribute", err)
	}
	if len(dirs) > 0 {
		return dirs, nil
	}
	project, err := pipelinedef.Expand(step.Project, r.variables)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "distribute", err)
	}
	return artifact.CandidateDirs(r.repoPath(project)), nil
}

// download copies a file from the target's host to a local path,
// replacing the destination only once the whole file has arrived.
func (r *run) download(ctx context.Context, remotePath, localPath string) (int64, error) {
	if r.host.Downloader == nil {
		return 0, failure.New(failure.Configuration, "download", "host has no downloader")
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(localPath), err)
	}
	file, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}
	temporaryPath := file.Name()
	size, err := r.host.Downloader.Download(ctx, remotePath, file)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(temporaryPath, localPath)
	}
	if err != nil {
		os.Remove(temporaryPath)
		return size, err
	}
	return size, nil
}

// runStep runs each command of step in order and returns the combined
// output. The first command that does not exit 0 ends the step.
func (r *run) runStep(ctx context.Context, stage Stage, step pipelinedef.Step) (string, error) {
	expanded, err := pipelinedef.ExpandStep(step, r.variables)
	if err != nil {
		return "", failure.Wrap(failure.Configuration, string(stage), err)
	}
	dir := expanded.Dir
	if dir == "" {
		dir = r.target.Repository.Path
	} else {
		dir = r.repoPath(dir)
	}

	var output strings.Builder
	for index, script := range expanded.Commands {
		logger := r.logger.With("stage", stage, "command", index)
		var commandOutput string
		if expanded.Interactive {
			commandOutput, err = r.runInteractive(ctx, stage, expanded, dir, script, logger)
		} else {
			commandOutput, err = r.runPiped(ctx, expanded, dir, script, logger)
		}
		output.WriteString(commandOutput)
		if commandOutput != "" && !strings.HasSuffix(commandOutput, "\n") {
			output.WriteByte('\n')
		}
		if err != nil {
			return output.String(), err
		}
	}
	return output.String(), nil
}

func (r *run) runPiped(ctx context.Context, step pipelinedef.Step, dir, script string, logger *slog.Logger) (string, error) {
	command := remote.Shell(script).InDir(dir)
	command.Env = step.Env
	if timeout := step.TimeoutDuration(); timeout > 0 {
		command.Timeout = timeout
	} else {
		command.Timeout = -1
	}

	logger.Debug("running command", "script", script)
	result, err := r.host.Executor.Execute(ctx, command)
	output := result.Output()
	if err != nil {
		return output, err
	}
	if result.TimedOut {
		return output, failure.New(failure.Timeout, "command", fmt.Sprintf("timed out after %s", step.TimeoutDuration()))
	}
	if result.ExitCode != 0 {
		return output, exitError(result.ExitCode)
	}
	return output, nil
}

func (r *run) runInteractive(ctx context.Context, stage Stage, step pipelinedef.Step, dir, script string, logger *slog.Logger) (string, error) {
	if r.host.Jobs == nil {
		return "", failure.New(failure.Configuration, string(stage), "host cannot run interactive steps")
	}
	title := step.Title
	if title == "" {
		title = fmt.Sprintf("%s %s", r.target.Name, stage)
	}
	if len(step.Env) > 0 {
		wrapped := remote.Shell(script)
		wrapped.Env = step.Env
		script = wrapped.Line()
	}

	jobOutcome, err := r.host.Jobs.Run(ctx, r.host.Executor, remotejob.Job{
		Title:  title,
		Dir:    dir,
		Script: script,
	}, func(line string) {
		logger.Info("job output", "line", line)
	})
	if err != nil {
		return jobOutcome.Output, err
	}
	r.coordinator.metrics.ObserveRemoteJob(jobOutcome.State.String(), jobOutcome.Ticks)

	switch jobOutcome.State {
	case remotejob.Succeeded:
		return jobOutcome.Output, nil
	case remotejob.TimedOut:
		return jobOutcome.Output, failure.New(failure.Timeout, "remote job",
			fmt.Sprintf("no completion after %d polls; the job may still be running", jobOutcome.Ticks))
	default:
		return jobOutcome.Output, exitError(jobOutcome.ExitCode)
	}
}

// repoPath resolves path against the repository root unless it is
// absolute.
func (r *run) repoPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.target.Repository.Path, path)
}

// exitError is a command that ran and exited non-zero.
func exitError(code int) error {
	return failure.New(failure.CommandExecution, "", fmt.Sprintf("exit code %d", code))
}

// describe renders a stage error for a report message.
func describe(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}
