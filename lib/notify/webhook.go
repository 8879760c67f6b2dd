// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// DefaultUsername is the display name of webhook messages.
const DefaultUsername = "buildrelay"

// DefaultIconEmoji is the avatar of webhook messages.
const DefaultIconEmoji = ":robot_face:"

// maxErrorBody bounds how much of a failed response is kept for the
// error message.
const maxErrorBody = 4 << 10

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	// URL is the incoming-webhook endpoint. Required.
	URL string

	Channel   string
	Username  string
	IconEmoji string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Webhook posts messages to a chat incoming webhook.
type Webhook struct {
	url        string
	channel    string
	username   string
	iconEmoji  string
	httpClient *http.Client
	logger     *slog.Logger
}

// webhookPayload is the incoming-webhook message body.
type webhookPayload struct {
	Text      string `json:"text"`
	Channel   string `json:"channel,omitempty"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// NewWebhook returns a Webhook. The URL must be https, except for
// loopback addresses (local relays and tests).
func NewWebhook(config WebhookConfig) (*Webhook, error) {
	if config.URL == "" {
		return nil, failure.New(failure.Configuration, "webhook", "no URL configured")
	}
	if !strings.HasPrefix(config.URL, "https://") &&
		!strings.HasPrefix(config.URL, "http://127.0.0.1") &&
		!strings.HasPrefix(config.URL, "http://localhost") {
		return nil, failure.New(failure.Configuration, "webhook", "URL must use https")
	}
	if config.Username == "" {
		config.Username = DefaultUsername
	}
	if config.IconEmoji == "" {
		config.IconEmoji = DefaultIconEmoji
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Webhook{
		url:        config.URL,
		channel:    config.Channel,
		username:   config.Username,
		iconEmoji:  config.IconEmoji,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}, nil
}

// Notify posts message. A 5xx or 429 response is a transient failure;
// any other non-2xx response is not.
func (w *Webhook) Notify(ctx context.Context, message Message) error {
	body, err := json.Marshal(webhookPayload{
		Text:      message.String(),
		Channel:   w.channel,
		Username:  w.username,
		IconEmoji: w.iconEmoji,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return failure.Wrap(failure.Configuration, "webhook", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := w.httpClient.Do(request)
	if err != nil {
		return failure.Wrap(failure.Classify(err), "webhook post", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBody))
		w.logger.Debug("sent webhook message", "text", message.Text)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	kind := failure.CommandExecution
	switch {
	case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
		kind = failure.TransientNetwork
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		kind = failure.Authorization
	}
	return failure.New(kind, "webhook post",
		fmt.Sprintf("HTTP %d: %s", response.StatusCode, strings.TrimSpace(string(detail))))
}
