// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

// --- VerifySignature ---

func TestVerifySignature(t *testing.T) {
	secret := []byte("signing-secret-for-testing")
	body := []byte("text=build+bh-pc")
	now := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	valid := Sign(secret, now.Unix(), body)

	t.Run("valid", func(t *testing.T) {
		if err := VerifySignature(secret, body, timestamp, valid, now, 0); err != nil {
			t.Errorf("VerifySignature() = %v, want nil", err)
		}
	})

	t.Run("within_skew", func(t *testing.T) {
		if err := VerifySignature(secret, body, timestamp, valid, now.Add(4*time.Minute), 0); err != nil {
			t.Errorf("VerifySignature() = %v, want nil", err)
		}
	})

	tests := []struct {
		name      string
		secret    []byte
		body      []byte
		timestamp string
		signature string
		now       time.Time
		want      string
	}{
		{"wrong_secret", []byte("other"), body, timestamp, valid, now, "signature mismatch"},
		{"different_body", secret, []byte("text=build+lls"), timestamp, valid, now, "signature mismatch"},
		{"wrong_signature", secret, body, timestamp, "v0=" + strings.Repeat("ab", 32), now, "signature mismatch"},
		{"stale", secret, body, timestamp, valid, now.Add(6 * time.Minute), "away from server time"},
		{"future", secret, body, timestamp, valid, now.Add(-6 * time.Minute), "away from server time"},
		{"empty_secret", nil, body, timestamp, valid, now, "secret is empty"},
		{"missing_timestamp", secret, body, "", valid, now, "timestamp is missing"},
		{"missing_signature", secret, body, timestamp, "", now, "signature is missing"},
		{"bad_timestamp", secret, body, "yesterday", valid, now, "invalid timestamp"},
		{"unversioned", secret, body, timestamp, strings.TrimPrefix(valid, "v0="), now, "unsupported version"},
		{"invalid_hex", secret, body, timestamp, "v0=zzzz", now, "invalid hex"},
		{"truncated", secret, body, timestamp, valid[:21], now, "signature mismatch"},
		{"odd_length", secret, body, timestamp, valid[:20], now, "invalid hex"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := VerifySignature(test.secret, test.body, test.timestamp, test.signature, test.now, 0)
			if err == nil {
				t.Fatal("VerifySignature() = nil, want error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want %q", err, test.want)
			}
		})
	}
}

func TestSignFormat(t *testing.T) {
	signature := Sign([]byte("k"), 1700000000, []byte("text=1"))
	if !strings.HasPrefix(signature, "v0=") || len(signature) != 3+64 {
		t.Errorf("Sign = %q, want v0= and 64 hex characters", signature)
	}
}

// --- HTTPServer lifecycle ---

func TestHTTPServerLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		fmt.Fprintf(writer, "ok")
	})

	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 2 * time.Second,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
	case <-t.Context().Done():
		t.Fatal("server did not become ready before test deadline")
	}

	response, err := http.Get("http://" + server.Addr().String() + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("GET /test status = %d, want 200", response.StatusCode)
	}
	responseBody, _ := io.ReadAll(response.Body)
	if string(responseBody) != "ok" {
		t.Errorf("GET /test body = %q, want %q", responseBody, "ok")
	}

	cancel()

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-t.Context().Done():
		t.Fatal("server did not shut down before test deadline")
	}
}

func TestHTTPServerDrainsInFlightRequest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		close(entered)
		<-release
		fmt.Fprintf(writer, "queued bh-pc")
	})

	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	<-server.Ready()

	type reply struct {
		body string
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		response, err := http.Post("http://"+server.Addr().String()+"/trigger", "text/plain", strings.NewReader("build bh-pc"))
		if err != nil {
			replies <- reply{err: err}
			return
		}
		defer response.Body.Close()
		body, err := io.ReadAll(response.Body)
		replies <- reply{body: string(body), err: err}
	}()

	<-entered
	cancel()
	close(release)

	got := <-replies
	if got.err != nil {
		t.Fatalf("in-flight request failed during shutdown: %v", got.err)
	}
	if got.body != "queued bh-pc" {
		t.Errorf("body = %q, want %q", got.body, "queued bh-pc")
	}
	if err := <-serveDone; err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}
}

func TestHTTPServerPanicsOnMissingConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name   string
		config HTTPServerConfig
	}{
		{"missing_address", HTTPServerConfig{Handler: handler, Logger: logger}},
		{"missing_handler", HTTPServerConfig{Address: ":0", Logger: logger}},
		{"missing_logger", HTTPServerConfig{Address: ":0", Handler: handler}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewHTTPServer did not panic")
				}
			}()
			NewHTTPServer(test.config)
		})
	}
}
