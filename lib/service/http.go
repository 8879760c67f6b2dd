// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPServer serves HTTP on a TCP listener. Signed trigger requests
// and metrics scrapes arrive through it. The server manages the
// listener lifecycle and graceful shutdown; the caller provides the
// http.Handler (routing, signature verification, dispatch).
//
// Serve(ctx) blocks until the context is cancelled and active
// requests drain.
type HTTPServer struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	// shutdownTimeout is the maximum time to wait for active
	// requests to complete after the context is cancelled.
	shutdownTimeout time.Duration

	// ready is closed after the listener is bound.
	ready chan struct{}

	// addr is the resolved listen address, valid once ready is closed.
	addr net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address (e.g., ":8480",
	// "127.0.0.1:0"). Required.
	Address string

	// Handler is the HTTP handler for incoming requests. Required.
	Handler http.Handler

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewHTTPServer creates a server that will listen on the configured
// TCP address. Call Serve to start accepting connections.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("service.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("service.HTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("service.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPServer{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound
// and accepting connections.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed. With a port-0 address it carries the port the OS chose.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits up to the shutdown timeout for active requests.
func (s *HTTPServer) Serve(ctx context.Context) error {
	// Bind the listener early so the resolved address is known and
	// readiness is signalled before entering the serve loop.
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Timeouts keep slow clients from holding connections open.
		// Trigger requests are a few hundred bytes, so these bounds
		// are generous.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	// Serve in a goroutine so we can wait for the context.
	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	// Wait for context cancellation or a serve error. A nil from
	// serveDone means the server closed without either, which only
	// happens if something else shut it down.
	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	// Stop accepting new connections and let in-flight requests
	// finish, including a build acknowledgement still being written.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// --- Request signatures ---

// Signature header names.
const (
	TimestampHeader = "X-Buildrelay-Timestamp"
	SignatureHeader = "X-Buildrelay-Signature"
)

// signatureVersion prefixes both the signed base string and the header
// value.
const signatureVersion = "v0"

// DefaultMaxSkew is the largest accepted difference between a request's
// timestamp and the server clock.
const DefaultMaxSkew = 5 * time.Minute

// Sign returns the signature header value for body sent at timestamp
// (unix seconds).
func Sign(secret []byte, timestamp int64, body []byte) string {
	return signatureVersion + "=" + hex.EncodeToString(computeSignature(secret, strconv.FormatInt(timestamp, 10), body))
}

func computeSignature(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return mac.Sum(nil)
}

// VerifySignature checks a request signature. timestamp and signature
// are the raw header values; now and maxSkew bound the timestamp.
//
// The returned error is safe to log: it never includes the expected
// signature.
func VerifySignature(secret, body []byte, timestamp, signature string, now time.Time, maxSkew time.Duration) error {
	if len(secret) == 0 {
		return errors.New("request signature: secret is empty")
	}
	if timestamp == "" {
		return errors.New("request signature: timestamp is missing")
	}
	if signature == "" {
		return errors.New("request signature: signature is missing")
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("request signature: invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	skew := now.Sub(time.Unix(seconds, 0))
	if skew > maxSkew || skew < -maxSkew {
		return fmt.Errorf("request signature: timestamp is %s away from server time", skew.Round(time.Second))
	}

	hexSignature, ok := strings.CutPrefix(signature, signatureVersion+"=")
	if !ok {
		return fmt.Errorf("request signature: unsupported version (want %s=)", signatureVersion)
	}
	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("request signature: invalid hex signature: %w", err)
	}

	expected := computeSignature(secret, timestamp, body)
	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return errors.New("request signature: signature mismatch")
	}
	return nil
}
