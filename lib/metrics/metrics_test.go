// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservations(t *testing.T) {
	t.Parallel()

	_, metrics := NewRegistry()

	metrics.ObserveTrigger(true)
	metrics.ObserveTrigger(false)
	metrics.ObserveTrigger(false)
	metrics.ObserveStage("bh-pc", "build", "succeeded", 12)
	metrics.ObserveSync("transient_network", 3)
	metrics.ObserveNotification(errors.New("down"))

	if got := testutil.ToFloat64(metrics.Triggers.WithLabelValues("false")); got != 2 {
		t.Errorf("unknown triggers = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.StageResults.WithLabelValues("bh-pc", "build", "succeeded")); got != 1 {
		t.Errorf("stage results = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SyncAttempts.WithLabelValues("transient_network")); got != 3 {
		t.Errorf("sync attempts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.Notifications.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.ObserveTrigger(true)
	metrics.ObservePipeline("x", "succeeded", 1)
	metrics.ObserveStage("x", "build", "failed", 1)
	metrics.ObserveSync("none", 1)
	metrics.ObserveRemoteJob("succeeded", 3)
	metrics.ObserveNotification(nil)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	registry, metrics := NewRegistry()
	metrics.ObservePipeline("bh-mac", "succeeded", 321)

	server := httptest.NewServer(Handler(registry))
	defer server.Close()

	response, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), `buildrelay_pipeline_runs_total{outcome="succeeded",target="bh-mac"} 1`) {
		t.Errorf("exposition missing pipeline counter:\n%s", body)
	}
}
