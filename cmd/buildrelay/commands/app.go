// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/buildlog"
	"github.com/bureau-foundation/buildrelay/lib/buildversion"
	"github.com/bureau-foundation/buildrelay/lib/config"
	"github.com/bureau-foundation/buildrelay/lib/gitsync"
	"github.com/bureau-foundation/buildrelay/lib/metrics"
	"github.com/bureau-foundation/buildrelay/lib/notify"
	"github.com/bureau-foundation/buildrelay/lib/pipeline"
	"github.com/bureau-foundation/buildrelay/lib/pipelinedef"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remotejob"
	"github.com/bureau-foundation/buildrelay/lib/terminal"
	"github.com/bureau-foundation/buildrelay/lib/trigger"
)

// app is everything a command needs, built from one configuration
// file.
type app struct {
	config *config.Config
	logger *slog.Logger

	targets     []*pipelinedef.Target
	hosts       map[string]pipeline.Host
	table       *trigger.Table
	notifier    notify.Notifier
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	versions    *buildversion.Store
	ledger      *buildlog.Ledger
	archive     *buildlog.Archive
	journal     *remotejob.Journal
	coordinator *pipeline.Coordinator
}

// loadConfig reads and validates the configuration named by the
// --config flag or BUILDRELAY_CONFIG.
func loadConfig(options commonOptions) (*config.Config, *slog.Logger, error) {
	level, err := cli.ParseLevel(options.logLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := cli.NewLogger(level)

	var cfg *config.Config
	if options.configPath != "" {
		cfg, err = config.LoadFile(options.configPath, os.Environ())
	} else {
		cfg, err = config.Load(os.Environ())
	}
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger.With("environment", string(cfg.Environment)), nil
}

// openApp loads configuration and target definitions and builds the
// coordinator. Close releases the version store.
func openApp(options commonOptions) (*app, error) {
	cfg, logger, err := loadConfig(options)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	targets, err := pipelinedef.ReadDir(cfg.Paths.Definitions)
	if err != nil {
		return nil, fmt.Errorf("loading target definitions: %w", err)
	}
	table, err := cfg.TriggerTable()
	if err != nil {
		return nil, fmt.Errorf("trigger table: %w", err)
	}
	codec, err := buildlog.ParseCodec(cfg.Archive.Codec)
	if err != nil {
		return nil, err
	}

	a := &app{
		config:  cfg,
		logger:  logger,
		targets: targets,
		table:   table,
		ledger:  buildlog.OpenLedger(cfg.Paths.LedgerPath()),
		archive: &buildlog.Archive{Dir: cfg.Paths.Logs, Codec: codec},
		journal: remotejob.OpenJournal(cfg.Paths.JournalPath()),
	}
	a.registry, a.metrics = metrics.NewRegistry()

	if a.notifier, err = newNotifier(cfg.Notify, logger); err != nil {
		return nil, err
	}
	if a.hosts, err = buildHosts(cfg, a.journal, logger); err != nil {
		return nil, err
	}

	a.versions = buildversion.NewStore(buildversion.StoreConfig{Logger: logger})
	a.coordinator, err = pipeline.New(pipeline.Config{
		Targets:      targets,
		Hosts:        a.hosts,
		Versions:     a.versions,
		Notifier:     a.notifier,
		Ledger:       a.ledger,
		Archive:      a.archive,
		Journal:      a.journal,
		Metrics:      a.metrics,
		RemoteMap:    cfg.Git.RemoteMap,
		SyncAttempts: cfg.Git.SyncAttempts,
		SyncBackoff:  cfg.Git.Backoff(),
		TailSize:     cfg.Archive.TailSize,
		Logger:       logger,
	})
	if err != nil {
		a.versions.Close()
		return nil, err
	}
	return a, nil
}

// Close stops the version store.
func (a *app) Close() {
	a.versions.Close()
}

// targetNames returns the defined target names, sorted.
func (a *app) targetNames() []string {
	names := make([]string, len(a.targets))
	for index, target := range a.targets {
		names[index] = target.Name
	}
	sort.Strings(names)
	return names
}

// newNotifier posts to the webhook when one is configured and always
// logs.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	logNotifier := notify.Log{Logger: logger.With("component", "notify")}
	if cfg.WebhookURL == "" {
		return logNotifier, nil
	}
	webhook, err := notify.NewWebhook(notify.WebhookConfig{
		URL:       cfg.WebhookURL,
		Channel:   cfg.Channel,
		Username:  cfg.Username,
		IconEmoji: cfg.IconEmoji,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return notify.Multi{webhook, logNotifier}, nil
}

// buildHosts returns this machine under "" plus every configured
// build host. Each host gets its own job supervisor so that journal
// entries name the host whose scratch files they describe.
func buildHosts(cfg *config.Config, journal *remotejob.Journal, logger *slog.Logger) (map[string]pipeline.Host, error) {
	hosts := make(map[string]pipeline.Host, len(cfg.Hosts)+1)

	localJobs, err := newSupervisor(cfg, "", cfg.Jobs.Launcher, journal, logger)
	if err != nil {
		return nil, err
	}
	localSSH := gitSSH(cfg.Git, cfg.Git.KeyPath, cfg.Git.KnownHostsPath)
	localSSH.ServiceContext = gitsync.DetectServiceContext()
	hosts[""] = pipeline.LocalHost(localSSH, localJobs, logger)

	for name, hostConfig := range cfg.Hosts {
		launcher := hostConfig.Launcher
		if launcher == "" {
			launcher = cfg.Jobs.Launcher
		}
		jobs, err := newSupervisor(cfg, name, launcher, journal, logger)
		if err != nil {
			return nil, fmt.Errorf("host %q: %w", name, err)
		}
		dialer := remote.NewDialer(dialConfig(hostConfig), logger.With("host", name))
		hosts[name] = pipeline.RemoteHost(name, dialer,
			gitSSH(cfg.Git, hostConfig.GitKeyPath, hostConfig.GitKnownHostsPath), jobs)
	}
	return hosts, nil
}

func newSupervisor(cfg *config.Config, host, launcherKind string, journal *remotejob.Journal, logger *slog.Logger) (*remotejob.Supervisor, error) {
	launcher, err := terminal.New(launcherKind, terminal.Options{TmuxSocket: cfg.Jobs.TmuxSocket})
	if err != nil {
		return nil, err
	}
	return remotejob.NewSupervisor(remotejob.Config{
		Launcher:     launcher,
		ScratchDir:   cfg.Jobs.ScratchDir,
		PollInterval: cfg.Jobs.Interval(),
		TickBudget:   cfg.Jobs.TickBudget,
		Host:         host,
		Journal:      journal,
		Logger:       logger,
	}), nil
}

// dialConfig converts a configured build host into dialer settings.
func dialConfig(host config.HostConfig) remote.HostConfig {
	return remote.HostConfig{
		Address:        host.Address,
		User:           host.User,
		KeyPath:        host.KeyPath,
		KnownHostsPath: host.KnownHostsPath,
		ConnectTimeout: host.Timeout(),
	}
}

// gitSSH is the git host identity as seen from one build host, with
// key paths on that host.
func gitSSH(git config.GitConfig, keyPath, knownHostsPath string) gitsync.SSHEnvironment {
	return gitsync.SSHEnvironment{
		KeyPath:         keyPath,
		KnownHostsPath:  knownHostsPath,
		Host:            git.Host,
		User:            git.User,
		HostKeyEntry:    git.HostKeyEntry,
		FallbackKeyPath: git.FallbackKeyPath,
	}
}
