// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// DefaultConnectTimeout bounds TCP connect plus SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

// HostConfig identifies an SSH host and the credentials used to reach
// it.
type HostConfig struct {
	// Address is "host" or "host:port". Bare single-label host names
	// get the ".local" mDNS suffix (see NormalizeAddress).
	Address string

	// User is the login name.
	User string

	// KeyPath is the private key file used for public-key auth.
	KeyPath string

	// KnownHostsPath is the known_hosts file used to verify the host
	// key. Required unless HostKeyCallback is set.
	KnownHostsPath string

	// HostKeyCallback overrides known_hosts verification. Tests use
	// it with in-process servers.
	HostKeyCallback ssh.HostKeyCallback

	// ConnectTimeout bounds dial plus handshake. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Dialer opens SSH sessions to one host.
type Dialer struct {
	config HostConfig
	logger *slog.Logger
}

// NewDialer returns a Dialer for config. The key and known_hosts
// files are read on every Dial so that a key repaired on disk is
// picked up by the next attempt.
func NewDialer(config HostConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{config: config, logger: logger}
}

// Address returns the normalized dial address.
func (d *Dialer) Address() string {
	return NormalizeAddress(d.config.Address)
}

// Dial connects and authenticates. The returned Session must be
// closed by the caller.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	clientConfig, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	address := d.Address()
	var netDialer net.Dialer
	connection, err := netDialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, failure.Wrap(failure.Classify(err), "ssh dial "+address, err)
	}

	// The handshake has no context parameter; a deadline on the raw
	// connection bounds it, and a watcher closes it on cancellation.
	deadline := time.Now().Add(clientConfig.Timeout) //nolint:realclock // kernel I/O deadline
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	connection.SetDeadline(deadline)
	stopWatch := context.AfterFunc(ctx, func() { connection.Close() })

	clientConnection, channels, requests, err := ssh.NewClientConn(connection, address, clientConfig)
	stopped := stopWatch()
	if err != nil {
		connection.Close()
		if !stopped {
			return nil, ctx.Err()
		}
		return nil, failure.Wrap(failure.Classify(err), "ssh handshake "+address, err)
	}
	connection.SetDeadline(time.Time{})

	d.logger.Debug("ssh session opened", "address", address, "user", d.config.User)
	return &Session{
		client:  ssh.NewClient(clientConnection, channels, requests),
		address: address,
		logger:  d.logger,
	}, nil
}

func (d *Dialer) clientConfig() (*ssh.ClientConfig, error) {
	if d.config.User == "" || d.config.Address == "" {
		return nil, failure.New(failure.Configuration, "ssh config", "host address and user are required")
	}

	keyData, err := os.ReadFile(d.config.KeyPath)
	if err != nil {
		return nil, failure.Wrap(failure.EnvironmentValidation, "reading ssh key "+d.config.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, failure.Wrap(failure.EnvironmentValidation, "parsing ssh key "+d.config.KeyPath, err)
	}

	hostKeyCallback := d.config.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback, err = knownhosts.New(d.config.KnownHostsPath)
		if err != nil {
			return nil, failure.Wrap(failure.EnvironmentValidation, "loading known_hosts "+d.config.KnownHostsPath, err)
		}
	}

	timeout := d.config.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	return &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Session is one authenticated SSH connection. Each Execute opens a
// new channel on it; commands may run concurrently on one Session.
type Session struct {
	client  *ssh.Client
	address string
	logger  *slog.Logger
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	err := s.client.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Execute runs cmd.Line() through the remote user's shell.
func (s *Session) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{ExitCode: -1}, failure.New(failure.Configuration, "execute", "command name is empty")
	}

	channel, err := s.client.NewSession()
	if err != nil {
		return Result{ExitCode: -1}, failure.Wrap(failure.Classify(err), "ssh new session "+s.address, err)
	}
	defer channel.Close()

	stdout, stderr := new(captureWriter), new(captureWriter)
	channel.Stdout = stdout
	channel.Stderr = stderr

	line := cmd.Line()
	if err := channel.Start(line); err != nil {
		return Result{ExitCode: -1}, failure.Wrap(failure.Classify(err), "ssh start "+s.address, err)
	}

	done := make(chan error, 1)
	go func() { done <- channel.Wait() }()

	var timer <-chan time.Time
	if timeout := cmd.effectiveTimeout(); timeout > 0 {
		stopTimer := time.NewTimer(timeout) //nolint:realclock // remote command deadline
		defer stopTimer.Stop()
		timer = stopTimer.C
	}

	select {
	case waitErr := <-done:
		return s.finish(cmd, stdout.String(), stderr.String(), waitErr)
	case <-timer:
		s.kill(channel, done, stdout, stderr)
		return Result{ExitCode: -1, TimedOut: true, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	case <-ctx.Done():
		s.kill(channel, done, stdout, stderr)
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}
}

func (s *Session) finish(cmd Command, stdout, stderr string, waitErr error) (Result, error) {
	result := Result{Stdout: stdout, Stderr: stderr}
	if waitErr == nil {
		return result, nil
	}
	var exitError *ssh.ExitError
	if errors.As(waitErr, &exitError) {
		result.ExitCode = exitError.ExitStatus()
		return result, nil
	}
	var missingError *ssh.ExitMissingError
	if errors.As(waitErr, &missingError) {
		result.ExitCode = -1
		return result, failure.Wrap(failure.TransientNetwork, "ssh "+cmd.Name+" on "+s.address, waitErr)
	}
	result.ExitCode = -1
	return result, failure.Wrap(failure.Classify(waitErr), "ssh "+cmd.Name+" on "+s.address, waitErr)
}

// kill signals the remote command and closes its channel, then waits
// briefly for the Wait goroutine. The writers are sealed afterwards so
// a copy still running past the drain delay cannot touch them.
func (s *Session) kill(channel *ssh.Session, done <-chan error, writers ...io.Closer) {
	if err := channel.Signal(ssh.SIGKILL); err != nil {
		s.logger.Debug("ssh signal failed", "address", s.address, "error", err)
	}
	channel.Close()
	select {
	case <-done:
	case <-time.After(pipeDrainDelay): //nolint:realclock // bounded drain after kill
	}
	for _, writer := range writers {
		writer.Close()
	}
}

// Download streams the remote file at path into w.
func (s *Session) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	channel, err := s.client.NewSession()
	if err != nil {
		return 0, failure.Wrap(failure.Classify(err), "ssh new session "+s.address, err)
	}
	defer channel.Close()

	counter := &countingWriter{writer: w}
	stderr := new(captureWriter)
	channel.Stdout = counter
	channel.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- channel.Run("cat -- " + Quote(path)) }()

	select {
	case err := <-done:
		if err != nil {
			detail := strings.TrimSpace(stderr.String())
			if strings.Contains(detail, "No such file") {
				return counter.Written(), failure.New(failure.ArtifactNotFound, "download "+path, detail)
			}
			return counter.Written(), fmt.Errorf("downloading %s from %s: %w (stderr: %s)",
				path, s.address, err, detail)
		}
		return counter.Written(), nil
	case <-ctx.Done():
		s.kill(channel, done, counter, stderr)
		return counter.Written(), ctx.Err()
	}
}

// errWriterClosed is returned to the SSH copy goroutine once the
// command it feeds has been abandoned.
var errWriterClosed = errors.New("remote output writer closed")

// countingWriter forwards to writer and counts bytes. After Close it
// rejects every write, so the caller owns writer again once Download
// returns.
type countingWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	written int64
	closed  bool
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errWriterClosed
	}
	n, err := c.writer.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *countingWriter) Written() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

func (c *countingWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// captureWriter buffers a remote stream. Reads and writes may come
// from different goroutines.
type captureWriter struct {
	mu     sync.Mutex
	buffer bytes.Buffer
	closed bool
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errWriterClosed
	}
	return c.buffer.Write(p)
}

func (c *captureWriter) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

func (c *captureWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// WithSession dials, runs fn with the session, and closes the session
// on every return path.
func WithSession(ctx context.Context, dialer *Dialer, fn func(*Session) error) error {
	session, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// Host is an Executor that dials a new session for every command.
type Host struct {
	Dialer *Dialer
}

// Execute dials, runs cmd, and closes the session.
func (h Host) Execute(ctx context.Context, cmd Command) (Result, error) {
	session, err := h.Dialer.Dial(ctx)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	defer session.Close()
	return session.Execute(ctx, cmd)
}

// Download dials, streams the file at path into w, and closes the
// session.
func (h Host) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	var written int64
	err := WithSession(ctx, h.Dialer, func(session *Session) error {
		var err error
		written, err = session.Download(ctx, path, w)
		return err
	})
	return written, err
}

// NormalizeAddress appends ".local" to bare single-label host names
// and ":22" when no port is given. IP addresses and "localhost" are
// left alone.
func NormalizeAddress(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, "22"
	}
	if host != "localhost" && net.ParseIP(host) == nil && !strings.Contains(host, ".") {
		host += ".local"
	}
	return net.JoinHostPort(host, port)
}
