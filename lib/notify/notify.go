// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers pipeline progress and outcome messages to the
// operator channel. The coordinator decides what to say; a [Notifier]
// only delivers it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Level is the outcome a message reports. It picks the status emoji.
type Level int

const (
	Info Level = iota
	Start
	Success
	Warning
	Failure
	Finished
	Unknown
	Link
)

var levelNames = map[Level]string{
	Info:     "info",
	Start:    "start",
	Success:  "success",
	Warning:  "warning",
	Failure:  "failure",
	Finished: "finished",
	Unknown:  "unknown",
	Link:     "link",
}

var levelEmoji = map[Level]string{
	Info:     ":information_source:",
	Start:    ":rocket:",
	Success:  ":white_check_mark:",
	Warning:  ":warning:",
	Failure:  ":x:",
	Finished: ":checkered_flag:",
	Unknown:  ":question:",
	Link:     ":link:",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Emoji returns the chat emoji shortcode for the level.
func (l Level) Emoji() string {
	return levelEmoji[l]
}

// Message is one status line. Target and Stage are empty for messages
// about a whole trigger.
type Message struct {
	Level  Level
	Target string
	Stage  string
	Text   string
}

// String renders the message as chat text: the status emoji, then the
// text.
func (m Message) String() string {
	emoji := m.Level.Emoji()
	if emoji == "" {
		return m.Text
	}
	return emoji + " " + m.Text
}

// Notifier delivers messages. Implementations must be safe for
// concurrent use: pipelines for different targets report in parallel.
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, message Message) error

func (f Func) Notify(ctx context.Context, message Message) error {
	return f(ctx, message)
}

// Discard drops every message.
var Discard Notifier = Func(func(context.Context, Message) error { return nil })

// Log writes messages to a structured logger. Failures and warnings log
// at the matching level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, message Message) error {
	level := slog.LevelInfo
	switch message.Level {
	case Warning:
		level = slog.LevelWarn
	case Failure:
		level = slog.LevelError
	}
	attributes := []any{"level_name", message.Level.String()}
	if message.Target != "" {
		attributes = append(attributes, "target", message.Target)
	}
	if message.Stage != "" {
		attributes = append(attributes, "stage", message.Stage)
	}
	l.Logger.Log(ctx, level, message.Text, attributes...)
	return nil
}

// Multi delivers each message to every notifier, in order. One
// notifier's failure does not stop delivery to the others; the errors
// are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message Message) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every message it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of the messages received so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns the rendered form of every message received so far.
func (r *Recorder) Texts() []string {
	messages := r.Messages()
	texts := make([]string, len(messages))
	for index, message := range messages {
		texts[index] = message.String()
	}
	return texts
}
