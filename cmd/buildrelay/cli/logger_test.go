// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) succeeded")
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buffer bytes.Buffer
	newLogger(&buffer, false, slog.LevelInfo).Info("pipeline finished", "target", "bh-pc")
	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("non-terminal output is not JSON: %q", buffer.String())
	}
	if record["target"] != "bh-pc" {
		t.Errorf("record = %v", record)
	}

	buffer.Reset()
	logger := newLogger(&buffer, true, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "target", "lls")
	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), "target=lls") {
		t.Errorf("terminal output = %q", buffer.String())
	}
}
