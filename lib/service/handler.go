// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/metrics"
	"github.com/bureau-foundation/buildrelay/lib/notify"
	"github.com/bureau-foundation/buildrelay/lib/pipeline"
	"github.com/bureau-foundation/buildrelay/lib/trigger"
)

// maxRequestBody bounds a trigger request body.
const maxRequestBody = 64 << 10

// Runner runs pipelines. *pipeline.Coordinator implements it.
type Runner interface {
	RunAll(ctx context.Context, requests []pipeline.Request) ([]pipeline.Report, error)
}

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	// Table maps trigger text to targets. Required.
	Table *trigger.Table

	// Runner starts pipelines for known commands. Required.
	Runner Runner

	// Secret verifies request signatures. Required.
	Secret []byte

	// MaxSkew bounds signed request timestamps. Default
	// DefaultMaxSkew.
	MaxSkew time.Duration

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	// Notifier receives unknown-command replies. Default
	// notify.Discard.
	Notifier notify.Notifier

	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Handler routes trigger, health, and metrics requests. Pipelines
// started by triggers outlive their request; Wait blocks until they
// finish.
type Handler struct {
	config HandlerConfig
	mux    *http.ServeMux

	// ctx bounds background pipelines.
	ctx context.Context

	mu      sync.Mutex
	running map[string]bool
	active  sync.WaitGroup
}

// NewHandler returns a Handler whose background pipelines run under
// ctx.
func NewHandler(ctx context.Context, config HandlerConfig) *Handler {
	if config.Table == nil || config.Runner == nil {
		panic("service.Handler: Table and Runner are required")
	}
	if len(config.Secret) == 0 {
		panic("service.Handler: Secret is required")
	}
	if config.MaxSkew <= 0 {
		config.MaxSkew = DefaultMaxSkew
	}
	if config.Notifier == nil {
		config.Notifier = notify.Discard
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	h := &Handler{
		config:  config,
		mux:     http.NewServeMux(),
		ctx:     ctx,
		running: make(map[string]bool),
	}
	h.mux.HandleFunc("POST /trigger", h.handleTrigger)
	h.mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		io.WriteString(writer, "ok\n")
	})
	if config.Gatherer != nil {
		h.mux.Handle("GET /metrics", metrics.Handler(config.Gatherer))
	}
	return h
}

func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

// Wait blocks until every pipeline started by a trigger has finished.
func (h *Handler) Wait() {
	h.active.Wait()
}

// TriggerResponse is the JSON body of a /trigger response.
type TriggerResponse struct {
	Known      bool     `json:"known"`
	Command    string   `json:"command,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Reply      string   `json:"reply,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (h *Handler) handleTrigger(writer http.ResponseWriter, request *http.Request) {
	logger := h.config.Logger.With("remote_address", request.RemoteAddr)

	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxRequestBody))
	if err != nil {
		http.Error(writer, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	err = VerifySignature(h.config.Secret, body,
		request.Header.Get(TimestampHeader), request.Header.Get(SignatureHeader),
		h.config.Clock.Now(), h.config.MaxSkew)
	if err != nil {
		logger.Warn("rejected trigger request", "error", err)
		http.Error(writer, "invalid signature", http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(writer, "malformed form body", http.StatusBadRequest)
		return
	}
	text := form.Get("text")
	result := h.config.Table.Match(text)
	h.config.Metrics.ObserveTrigger(result.Known)

	if result.Blank {
		http.Error(writer, "text is required", http.StatusBadRequest)
		return
	}
	if !result.Known {
		logger.Info("unknown command", "text", text, "suggestion", result.Suggestion)
		if err := h.config.Notifier.Notify(request.Context(), notify.Message{Level: notify.Unknown, Text: result.Reply()}); err != nil {
			logger.Warn("notification failed", "error", err)
		}
		writeJSON(writer, http.StatusOK, TriggerResponse{
			Reply:      result.Reply(),
			Suggestion: result.Suggestion,
		})
		return
	}

	if busy := h.claim(result.Entry.Targets); busy != "" {
		writeJSON(writer, http.StatusConflict, TriggerResponse{
			Known:   true,
			Command: result.Entry.Command,
			Targets: result.Entry.Targets,
			Reply:   "A build of " + busy + " is already running",
		})
		return
	}

	now := h.config.Clock.Now()
	requests := make([]pipeline.Request, len(result.Entry.Targets))
	for index, target := range result.Entry.Targets {
		requests[index] = pipeline.Request{
			Target: target,
			Origin: "http",
			Branch: strings.TrimSpace(form.Get("branch")),
			Time:   now,
		}
	}

	h.active.Add(1)
	go func() {
		defer h.active.Done()
		defer h.release(result.Entry.Targets)
		if _, err := h.config.Runner.RunAll(h.ctx, requests); err != nil {
			h.config.Logger.Error("pipelines did not start", "command", result.Entry.Command, "error", err)
		}
	}()

	logger.Info("trigger accepted", "command", result.Entry.Command, "targets", result.Entry.Targets)
	writeJSON(writer, http.StatusAccepted, TriggerResponse{
		Known:   true,
		Command: result.Entry.Command,
		Targets: result.Entry.Targets,
	})
}

// claim marks targets running. It returns the first target already
// running, claiming nothing, or "" on success.
func (h *Handler) claim(targets []string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, target := range targets {
		if h.running[target] {
			return target
		}
	}
	for _, target := range targets {
		h.running[target] = true
	}
	return ""
}

func (h *Handler) release(targets []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, target := range targets {
		delete(h.running, target)
	}
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}
