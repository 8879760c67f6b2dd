// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/artifact"
	"github.com/bureau-foundation/buildrelay/lib/buildlog"
	"github.com/bureau-foundation/buildrelay/lib/buildversion"
	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/metrics"
	"github.com/bureau-foundation/buildrelay/lib/notify"
	"github.com/bureau-foundation/buildrelay/lib/pipelinedef"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remotejob"
)

// Config configures a Coordinator.
type Config struct {
	// Targets are the validated target definitions.
	Targets []*pipelinedef.Target

	// Hosts maps Target.Host to the host it names. The entry for ""
	// is this machine.
	Hosts map[string]Host

	// Versions serializes version file writes. Required when any
	// target has a version step.
	Versions *buildversion.Store

	// Notifier receives progress and outcome messages. Default
	// notify.Discard.
	Notifier notify.Notifier

	// Ledger and Archive record finished runs. Optional.
	Ledger  *buildlog.Ledger
	Archive *buildlog.Archive

	// Journal is the pending remote job journal swept by Recover.
	// Optional.
	Journal *remotejob.Journal

	Metrics *metrics.Metrics

	// RemoteMap rewrites http(s) git remotes to SSH URLs during sync.
	RemoteMap map[string]string

	// SyncAttempts and SyncBackoff override the synchronizer's retry
	// policy (3 attempts, 1s doubling).
	SyncAttempts int
	SyncBackoff  time.Duration

	// TailSize bounds the output excerpt in reports. Default
	// DefaultTailSize.
	TailSize int

	// Environ looks up declared target variables. Default os.Getenv.
	Environ func(string) string

	// NewRunID generates run ids. Default remotejob.NewID.
	NewRunID func() string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Coordinator runs pipelines. Safe for concurrent use; each Run works
// on its own state.
type Coordinator struct {
	targets  map[string]*pipelinedef.Target
	hosts    map[string]Host
	versions *buildversion.Store
	notifier notify.Notifier
	ledger   *buildlog.Ledger
	archive  *buildlog.Archive
	journal  *remotejob.Journal
	metrics  *metrics.Metrics

	remoteMap    map[string]string
	syncAttempts int
	syncBackoff  time.Duration
	tailSize     int
	environ      func(string) string
	newRunID     func() string
	clock        clock.Clock
	logger       *slog.Logger
}

// New returns a Coordinator. Targets referring to a host missing from
// Hosts, or with a version step but no Versions store, are a
// configuration error.
func New(config Config) (*Coordinator, error) {
	c := &Coordinator{
		targets:      make(map[string]*pipelinedef.Target, len(config.Targets)),
		hosts:        config.Hosts,
		versions:     config.Versions,
		notifier:     config.Notifier,
		ledger:       config.Ledger,
		archive:      config.Archive,
		journal:      config.Journal,
		metrics:      config.Metrics,
		remoteMap:    config.RemoteMap,
		syncAttempts: config.SyncAttempts,
		syncBackoff:  config.SyncBackoff,
		tailSize:     config.TailSize,
		environ:      config.Environ,
		newRunID:     config.NewRunID,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if c.notifier == nil {
		c.notifier = notify.Discard
	}
	if c.tailSize <= 0 {
		c.tailSize = DefaultTailSize
	}
	if c.environ == nil {
		c.environ = os.Getenv
	}
	if c.newRunID == nil {
		c.newRunID = remotejob.NewID
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	var problems []error
	for _, target := range config.Targets {
		if _, exists := c.targets[target.Name]; exists {
			problems = append(problems, fmt.Errorf("target %q defined twice", target.Name))
			continue
		}
		c.targets[target.Name] = target
		if _, exists := c.hosts[target.Host]; !exists {
			problems = append(problems, fmt.Errorf("target %q: unknown host %q", target.Name, target.Host))
		}
		if target.Version != nil && c.versions == nil {
			problems = append(problems, fmt.Errorf("target %q has a version step but no version store is configured", target.Name))
		}
	}
	if len(problems) > 0 {
		return nil, failure.Wrap(failure.Configuration, "pipeline", errors.Join(problems...))
	}
	return c, nil
}

// Target returns the definition of the named target.
func (c *Coordinator) Target(name string) (*pipelinedef.Target, bool) {
	target, ok := c.targets[name]
	return target, ok
}

// Run executes the pipeline for one target. Stages run strictly in
// order. The returned error is non-nil only when the pipeline could not
// start (unknown target, unresolvable variables); stage failures are in
// the Report.
func (c *Coordinator) Run(ctx context.Context, request Request) (Report, error) {
	run, err := c.prepare(request)
	if err != nil {
		return Report{}, err
	}
	run.execute(ctx)
	run.report.Duration = c.clock.Now().Sub(run.report.Started)

	c.metrics.ObservePipeline(run.target.Name, run.report.Outcome(), run.report.Duration.Seconds())
	c.record(run.report)
	run.logger.Info("pipeline finished",
		"run_id", run.report.ID,
		"outcome", run.report.Outcome(),
		"stages", run.report.Summary(),
		"duration", run.report.Duration,
	)
	return run.report, nil
}

// prepare resolves the target and its variables for request.
func (c *Coordinator) prepare(request Request) (*run, error) {
	target, ok := c.targets[request.Target]
	if !ok {
		return nil, failure.New(failure.Configuration, "pipeline", fmt.Sprintf("unknown target %q", request.Target))
	}
	host := c.hosts[target.Host]

	branch := target.Repository.Branch
	if request.Branch != "" {
		branch = request.Branch
	}
	variables, err := pipelinedef.ResolveVariables(target.Variables, map[string]string{
		pipelinedef.VariableVersion:  "",
		pipelinedef.VariableTarget:   target.Name,
		pipelinedef.VariableBranch:   branch,
		pipelinedef.VariableRepo:     target.Repository.Path,
		pipelinedef.VariablePlatform: target.Platform,
	}, c.environ)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "target "+target.Name, err)
	}

	return &run{
		coordinator: c,
		target:      target,
		host:        host,
		branch:      branch,
		variables:   variables,
		logger:      c.logger.With("target", target.Name),
		report: Report{
			ID:       c.newRunID(),
			Request:  request,
			Target:   target.Name,
			Platform: target.Platform,
			Branch:   branch,
			Started:  c.clock.Now(),
		},
	}, nil
}

// Locate finds the artifact the named target's distribute stage would
// publish, without building. It returns the directories searched.
// Remote targets are searched at their download destinations, so the
// result reflects the last completed download.
func (c *Coordinator) Locate(name string) (descriptor artifact.Descriptor, dirs []string, found bool, err error) {
	run, err := c.prepare(Request{Target: name, Origin: "locate"})
	if err != nil {
		return artifact.Descriptor{}, nil, false, err
	}
	if run.target.Distribute == nil {
		return artifact.Descriptor{}, nil, false, failure.New(failure.Configuration, "locate",
			fmt.Sprintf("target %q has no distribute step", name))
	}
	dirs, err = run.artifactDirs()
	if err != nil {
		return artifact.Descriptor{}, nil, false, err
	}
	descriptor, found, err = artifact.Locate(dirs, run.target.Distribute.Extensions)
	return descriptor, dirs, found, err
}

// RunAll runs every request concurrently and returns when all have
// finished, reports in request order. When more than one request ran,
// a final message announces that all of them completed; it is sent
// only after the slowest pipeline finishes. Requests that could not
// start are skipped in the reports and their errors joined.
func (c *Coordinator) RunAll(ctx context.Context, requests []Request) ([]Report, error) {
	reports := make([]Report, len(requests))
	errs := make([]error, len(requests))

	var wg sync.WaitGroup
	for index, request := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[index], errs[index] = c.Run(ctx, request)
		}()
	}
	wg.Wait()

	var completed []Report
	for index, report := range reports {
		if errs[index] == nil {
			completed = append(completed, report)
		}
	}
	if len(requests) > 1 {
		c.notify(ctx, notify.Message{
			Level: notify.Finished,
			Text:  allCompletedText(completed),
		})
	}
	return completed, errors.Join(errs...)
}

func allCompletedText(reports []Report) string {
	failed := 0
	for _, report := range reports {
		if !report.Succeeded() {
			failed++
		}
	}
	text := fmt.Sprintf("All %d build processes have completed", len(reports))
	if len(reports) == 2 {
		text = "Both build processes have completed"
	}
	if failed > 0 {
		text += fmt.Sprintf(" (%d failed)", failed)
	}
	return text
}

// Recover sweeps the pending job journal: scratch files of remote jobs
// abandoned by an earlier process are removed, best-effort. Call once
// before serving requests.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	return c.journal.Sweep(ctx, func(name string) (remote.Executor, error) {
		host, ok := c.hosts[name]
		if !ok {
			return nil, fmt.Errorf("host %q is no longer configured", name)
		}
		return host.Executor, nil
	}, c.logger)
}

// notify delivers a message. Delivery failures are logged, never
// propagated: a chat outage must not fail a build.
func (c *Coordinator) notify(ctx context.Context, message notify.Message) {
	err := c.notifier.Notify(ctx, message)
	c.metrics.ObserveNotification(err)
	if err != nil {
		c.logger.Warn("notification failed", "text", message.Text, "error", err)
	}
}

// record archives stage output and appends the run to the ledger.
func (c *Coordinator) record(report Report) {
	if c.ledger == nil {
		return
	}
	entry := buildlog.Run{
		ID:       report.ID,
		Target:   report.Target,
		Platform: report.Platform,
		Trigger:  report.Request.Origin,
		Branch:   report.Branch,
		Version:  report.Version,
		Outcome:  report.Outcome(),
		Started:  report.Started,
		Duration: report.Duration,
	}
	for _, stage := range report.Stages {
		record := buildlog.Stage{
			Name:     string(stage.Stage),
			Status:   stage.Status.String(),
			Message:  stage.Message,
			Duration: stage.Duration,
		}
		if c.archive != nil && stage.output != "" {
			path, err := c.archive.Store(report.ID, report.Target, string(stage.Stage), stage.output)
			if err != nil {
				c.logger.Warn("archiving stage output failed", "target", report.Target, "stage", stage.Stage, "error", err)
			} else {
				record.OutputPath = path
			}
		}
		entry.Stages = append(entry.Stages, record)
	}
	if err := c.ledger.Append(entry); err != nil {
		c.logger.Warn("recording run failed", "run_id", report.ID, "error", err)
	}
}
