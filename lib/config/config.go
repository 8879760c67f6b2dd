// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"filippo.io/age"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/buildrelay/lib/buildlog"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/sealed"
	"github.com/bureau-foundation/buildrelay/lib/terminal"
	"github.com/bureau-foundation/buildrelay/lib/trigger"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is an operator's own machine.
	Development Environment = "development"
	// Staging is for trying configuration changes against real hosts.
	Staging Environment = "staging"
	// Production is the build machine that serves the team.
	Production Environment = "production"
)

// Config is the master configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Git     GitConfig     `yaml:"git"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Notify  NotifyConfig  `yaml:"notify"`
	Archive ArchiveConfig `yaml:"archive"`
	Serve   ServeConfig   `yaml:"serve"`
	Secrets SecretsConfig `yaml:"secrets"`

	// Hosts are the remote build machines, by the name target
	// definitions use in their host field.
	Hosts map[string]HostConfig `yaml:"hosts"`

	// Triggers replaces the built-in command table when non-empty.
	Triggers []trigger.Entry `yaml:"triggers"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Jobs   *JobsConfig   `yaml:"jobs,omitempty"`
	Notify *NotifyConfig `yaml:"notify,omitempty"`
	Serve  *ServeConfig  `yaml:"serve,omitempty"`
}

// PathsConfig configures directory locations on this machine.
type PathsConfig struct {
	// Root is the base directory for buildrelay data.
	Root string `yaml:"root"`

	// Definitions holds the target definition files (*.jsonc).
	Definitions string `yaml:"definitions"`

	// State holds the run ledger and the pending job journal.
	State string `yaml:"state"`

	// Logs holds archived stage output.
	Logs string `yaml:"logs"`
}

// LedgerPath is the run ledger file.
func (p PathsConfig) LedgerPath() string { return filepath.Join(p.State, "runs.cbor") }

// JournalPath is the pending remote job journal file.
func (p PathsConfig) JournalPath() string { return filepath.Join(p.State, "jobs.cbor") }

// GitConfig describes the git host every repository is synchronized
// from, as seen from this machine.
type GitConfig struct {
	// Host is the git host name, e.g. "bitbucket.org".
	Host string `yaml:"host"`

	// User is the SSH login on the git host. Default "git".
	User string `yaml:"user"`

	// KeyPath and KnownHostsPath are this machine's git SSH files.
	KeyPath        string `yaml:"key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`

	// HostKeyEntry is written to a missing known_hosts file.
	HostKeyEntry string `yaml:"host_key_entry"`

	// FallbackKeyPath is copied to KeyPath for service accounts.
	FallbackKeyPath string `yaml:"fallback_key_path"`

	// RemoteMap rewrites https remotes to their SSH form.
	RemoteMap map[string]string `yaml:"remote_map"`

	// SyncAttempts and SyncBackoff set the fetch/pull retry policy.
	SyncAttempts int    `yaml:"sync_attempts"`
	SyncBackoff  string `yaml:"sync_backoff"`
}

// Backoff returns SyncBackoff parsed, or zero when unset or invalid
// (Validate reports invalid values).
func (g GitConfig) Backoff() time.Duration {
	return parseDuration(g.SyncBackoff)
}

// HostConfig describes one remote build machine.
type HostConfig struct {
	// Address is "host" or "host:port"; bare names get ".local".
	Address string `yaml:"address"`

	// User is the SSH login on the host.
	User string `yaml:"user"`

	// KeyPath and KnownHostsPath authenticate this machine to the host.
	KeyPath        string `yaml:"key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`

	ConnectTimeout string `yaml:"connect_timeout"`

	// GitKeyPath and GitKnownHostsPath are the host's own git SSH
	// files, as absolute paths on the host.
	GitKeyPath        string `yaml:"git_key_path"`
	GitKnownHostsPath string `yaml:"git_known_hosts_path"`

	// Launcher overrides jobs.launcher for this host.
	Launcher string `yaml:"launcher,omitempty"`
}

// Timeout returns ConnectTimeout parsed; zero selects the dialer's
// default.
func (h HostConfig) Timeout() time.Duration {
	return parseDuration(h.ConnectTimeout)
}

// JobsConfig configures supervision of interactive remote jobs.
type JobsConfig struct {
	// Launcher is the session launcher kind (terminal-app, tmux,
	// detached).
	Launcher string `yaml:"launcher"`

	// TmuxSocket selects a dedicated tmux server for the tmux launcher.
	TmuxSocket string `yaml:"tmux_socket"`

	// ScratchDir holds job scratch files on the executing host.
	ScratchDir string `yaml:"scratch_dir"`

	PollInterval string `yaml:"poll_interval"`

	// TickBudget is the number of polls before a job times out.
	TickBudget int `yaml:"tick_budget"`
}

// Interval returns PollInterval parsed.
func (j JobsConfig) Interval() time.Duration {
	return parseDuration(j.PollInterval)
}

// NotifyConfig configures the chat webhook.
type NotifyConfig struct {
	// WebhookURL is the incoming webhook. May be sealed. Empty logs
	// messages instead of posting them.
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	IconEmoji  string `yaml:"icon_emoji"`
}

// ArchiveConfig configures stage output retention.
type ArchiveConfig struct {
	// Codec is "zstd", "lz4", or "none".
	Codec string `yaml:"codec"`

	// TailSize is the number of output characters quoted in reports.
	TailSize int `yaml:"tail_size"`
}

// ServeConfig configures the HTTP trigger endpoint.
type ServeConfig struct {
	// Listen is the TCP address, e.g. "127.0.0.1:8480".
	Listen string `yaml:"listen"`

	// SigningSecret verifies request signatures. May be sealed.
	SigningSecret string `yaml:"signing_secret"`

	// MaxSkew bounds the age of a signed request. Default 5m.
	MaxSkew string `yaml:"max_skew"`
}

// Skew returns MaxSkew parsed.
func (s ServeConfig) Skew() time.Duration {
	return parseDuration(s.MaxSkew)
}

// SecretsConfig configures opening sealed values.
type SecretsConfig struct {
	// IdentityFile holds the age identity for sealed values.
	IdentityFile string `yaml:"identity_file"`
}

// secretEnvironment is the environment overlay for secrets.
type secretEnvironment struct {
	WebhookURL    string `env:"BUILDRELAY_WEBHOOK_URL"`
	SigningSecret string `env:"BUILDRELAY_SIGNING_SECRET"`
	IdentityFile  string `env:"BUILDRELAY_IDENTITY_FILE"`
}

// Default returns the base configuration the file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".buildrelay")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:        defaultRoot,
			Definitions: filepath.Join(defaultRoot, "targets"),
			State:       filepath.Join(defaultRoot, "state"),
			Logs:        filepath.Join(defaultRoot, "logs"),
		},
		Git: GitConfig{
			User:           "git",
			KeyPath:        filepath.Join(homeDir, ".ssh", "id_ed25519"),
			KnownHostsPath: filepath.Join(homeDir, ".ssh", "known_hosts"),
			SyncAttempts:   3,
			SyncBackoff:    "1s",
		},
		Jobs: JobsConfig{
			Launcher:     terminal.KindTmux,
			ScratchDir:   "/tmp",
			PollInterval: "1s",
			TickBudget:   1000,
		},
		Notify: NotifyConfig{
			Username:  "buildrelay",
			IconEmoji: ":robot_face:",
		},
		Archive: ArchiveConfig{
			Codec:    "zstd",
			TailSize: 1000,
		},
		Serve: ServeConfig{
			Listen:  "127.0.0.1:8480",
			MaxSkew: "5m",
		},
	}
}

// Load loads the file named by BUILDRELAY_CONFIG in environ. There is
// no fallback when the variable is unset.
func Load(environ []string) (*Config, error) {
	configPath := env.ToMap(environ)["BUILDRELAY_CONFIG"]
	if configPath == "" {
		return nil, failure.New(failure.Configuration, "config",
			"BUILDRELAY_CONFIG environment variable not set; set it to the path of your buildrelay.yaml, or use --config")
	}
	return LoadFile(configPath, environ)
}

// LoadFile loads configuration from path. environ supplies path
// expansion variables and the BUILDRELAY_* secret overlay; sealed
// secrets are opened last.
func LoadFile(path string, environ []string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, failure.Wrap(failure.Configuration, "config "+path, err)
	}
	cfg.applyEnvironmentOverrides()

	variables := env.ToMap(environ)
	cfg.expandVariables(variables)

	if err := cfg.applySecretEnvironment(variables); err != nil {
		return nil, err
	}
	if err := cfg.openSealed(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		override(&c.Paths.Root, overrides.Paths.Root)
		override(&c.Paths.Definitions, overrides.Paths.Definitions)
		override(&c.Paths.State, overrides.Paths.State)
		override(&c.Paths.Logs, overrides.Paths.Logs)
	}

	if overrides.Jobs != nil {
		override(&c.Jobs.Launcher, overrides.Jobs.Launcher)
		override(&c.Jobs.TmuxSocket, overrides.Jobs.TmuxSocket)
		override(&c.Jobs.ScratchDir, overrides.Jobs.ScratchDir)
		override(&c.Jobs.PollInterval, overrides.Jobs.PollInterval)
		if overrides.Jobs.TickBudget != 0 {
			c.Jobs.TickBudget = overrides.Jobs.TickBudget
		}
	}

	if overrides.Notify != nil {
		override(&c.Notify.WebhookURL, overrides.Notify.WebhookURL)
		override(&c.Notify.Channel, overrides.Notify.Channel)
		override(&c.Notify.Username, overrides.Notify.Username)
		override(&c.Notify.IconEmoji, overrides.Notify.IconEmoji)
	}

	if overrides.Serve != nil {
		override(&c.Serve.Listen, overrides.Serve.Listen)
		override(&c.Serve.SigningSecret, overrides.Serve.SigningSecret)
		override(&c.Serve.MaxSkew, overrides.Serve.MaxSkew)
	}
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables(environ map[string]string) {
	vars := map[string]string{
		"BUILDRELAY_ROOT": c.Paths.Root,
		"HOME":            environ["HOME"],
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars, environ)
	vars["BUILDRELAY_ROOT"] = c.Paths.Root

	c.Paths.Definitions = expandVars(c.Paths.Definitions, vars, environ)
	c.Paths.State = expandVars(c.Paths.State, vars, environ)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars, environ)
	c.Git.KeyPath = expandVars(c.Git.KeyPath, vars, environ)
	c.Git.KnownHostsPath = expandVars(c.Git.KnownHostsPath, vars, environ)
	c.Git.FallbackKeyPath = expandVars(c.Git.FallbackKeyPath, vars, environ)
	c.Secrets.IdentityFile = expandVars(c.Secrets.IdentityFile, vars, environ)
	for name, host := range c.Hosts {
		host.KeyPath = expandVars(host.KeyPath, vars, environ)
		host.KnownHostsPath = expandVars(host.KnownHostsPath, vars, environ)
		c.Hosts[name] = host
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from vars,
// then environ, then the default.
func expandVars(s string, vars, environ map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := environ[name]; value != "" {
			return value
		}
		return defaultValue
	})
}

func (c *Config) applySecretEnvironment(environ map[string]string) error {
	var overlay secretEnvironment
	if err := env.ParseWithOptions(&overlay, env.Options{Environment: environ}); err != nil {
		return failure.Wrap(failure.Configuration, "config environment", err)
	}
	override(&c.Notify.WebhookURL, overlay.WebhookURL)
	override(&c.Serve.SigningSecret, overlay.SigningSecret)
	override(&c.Secrets.IdentityFile, overlay.IdentityFile)
	return nil
}

// openSealed decrypts sealed secret fields. The identity file is read
// only when some field is sealed.
func (c *Config) openSealed() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"notify.webhook_url", &c.Notify.WebhookURL},
		{"serve.signing_secret", &c.Serve.SigningSecret},
	}

	var identityLoaded bool
	var identities []age.Identity
	for _, field := range fields {
		if !sealed.IsSealed(*field.value) {
			continue
		}
		if !identityLoaded {
			if c.Secrets.IdentityFile == "" {
				return failure.New(failure.Configuration, "config",
					field.name+" is sealed but secrets.identity_file is not set")
			}
			loaded, err := sealed.ReadIdentityFile(c.Secrets.IdentityFile)
			if err != nil {
				return err
			}
			identities = loaded
			identityLoaded = true
		}
		plaintext, err := sealed.Open(*field.value, identities)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = plaintext
	}
	return nil
}

// Validate checks the configuration and returns every problem found,
// joined. Each problem is a configuration error.
func (c *Config) Validate() error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, failure.New(failure.Configuration, "config", fmt.Sprintf(format, args...)))
	}

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		problem("invalid environment: %s", c.Environment)
	}

	if c.Paths.Root == "" {
		problem("paths.root is required")
	}
	if c.Paths.Definitions == "" {
		problem("paths.definitions is required")
	}
	if c.Paths.State == "" {
		problem("paths.state is required")
	}

	if c.Git.Host == "" {
		problem("git.host is required")
	}
	if c.Git.SyncAttempts < 1 {
		problem("git.sync_attempts must be at least 1")
	}
	checkDuration(problem, "git.sync_backoff", c.Git.SyncBackoff)

	if _, err := terminal.New(c.Jobs.Launcher, terminal.Options{}); err != nil {
		problem("jobs.launcher: %v", err)
	}
	checkDuration(problem, "jobs.poll_interval", c.Jobs.PollInterval)
	if c.Jobs.TickBudget < 1 {
		problem("jobs.tick_budget must be at least 1")
	}

	for name, host := range c.Hosts {
		if name == "" {
			problem("hosts: empty host name")
		}
		if host.Address == "" {
			problem("hosts.%s.address is required", name)
		}
		if host.User == "" {
			problem("hosts.%s.user is required", name)
		}
		if host.KeyPath == "" || host.KnownHostsPath == "" {
			problem("hosts.%s: key_path and known_hosts_path are required", name)
		}
		if !filepath.IsAbs(host.GitKeyPath) || !filepath.IsAbs(host.GitKnownHostsPath) {
			problem("hosts.%s: git_key_path and git_known_hosts_path must be absolute paths on the host", name)
		}
		if host.ConnectTimeout != "" {
			checkDuration(problem, "hosts."+name+".connect_timeout", host.ConnectTimeout)
		}
		if host.Launcher != "" {
			if _, err := terminal.New(host.Launcher, terminal.Options{}); err != nil {
				problem("hosts.%s.launcher: %v", name, err)
			}
		}
	}

	if _, err := buildlog.ParseCodec(c.Archive.Codec); err != nil {
		problem("archive.codec: %v", err)
	}
	if c.Archive.TailSize < 0 {
		problem("archive.tail_size must not be negative")
	}

	checkDuration(problem, "serve.max_skew", c.Serve.MaxSkew)

	if len(c.Triggers) > 0 {
		if _, err := trigger.NewTable(c.Triggers); err != nil {
			problem("triggers: %v", err)
		}
	}

	if c.Environment == Production && c.Notify.WebhookURL == "" {
		problem("notify.webhook_url is required in production")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TriggerTable returns the configured trigger table, or the built-in
// one when none is configured.
func (c *Config) TriggerTable() (*trigger.Table, error) {
	if len(c.Triggers) == 0 {
		return trigger.Default(), nil
	}
	return trigger.NewTable(c.Triggers)
}

// EnsurePaths creates the local directories buildrelay writes to.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.State, c.Paths.Logs} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func checkDuration(problem func(string, ...any), field, value string) {
	if value == "" {
		return
	}
	if duration, err := time.ParseDuration(value); err != nil || duration <= 0 {
		problem("%s: %q is not a positive duration", field, value)
	}
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}
