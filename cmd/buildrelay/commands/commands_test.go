// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/buildlog"
	"github.com/bureau-foundation/buildrelay/lib/config"
	"github.com/bureau-foundation/buildrelay/lib/notify"
	"github.com/bureau-foundation/buildrelay/lib/pipeline"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remote/remotetest"
	"github.com/bureau-foundation/buildrelay/lib/sealed"
	"github.com/bureau-foundation/buildrelay/lib/testutil"
	"github.com/bureau-foundation/buildrelay/lib/trigger"
)

// writeSetup writes a configuration file whose paths all live under a
// temporary root, plus one local target definition.
func writeSetup(t *testing.T) (configPath, root string) {
	t.Helper()
	root = t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "targets", "lls.jsonc"), `{
	// LLS on this machine.
	"platform": "LLS",
	"repository": {"path": "`+filepath.Join(root, "src")+`", "branch": "main"},
	"build": {"commands": ["make"]},
}`)
	configPath = filepath.Join(root, "buildrelay.yaml")
	testutil.WriteFile(t, configPath, `
environment: development
paths:
  root: `+root+`
  definitions: `+filepath.Join(root, "targets")+`
  state: `+filepath.Join(root, "state")+`
  logs: `+filepath.Join(root, "logs")+`
git:
  host: bitbucket.org
hosts:
  mac:
    address: build-mac
    user: dev
    key_path: `+filepath.Join(root, "id_mac")+`
    known_hosts_path: `+filepath.Join(root, "known_hosts")+`
    git_key_path: /Users/dev/.ssh/id_ed25519
    git_known_hosts_path: /Users/dev/.ssh/known_hosts
    launcher: terminal-app
`)
	return configPath, root
}

func TestResolveRequests(t *testing.T) {
	table := trigger.Default()
	now := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	requests, err := resolveRequests(table, []string{"build", "BH"}, nil, "release", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 2 || requests[0].Target != "bh-pc" || requests[1].Target != "bh-mac" {
		t.Errorf("requests = %+v", requests)
	}
	for _, request := range requests {
		if request.Origin != "cli" || request.Branch != "release" || !request.Time.Equal(now) {
			t.Errorf("request = %+v", request)
		}
	}

	requests, err = resolveRequests(table, nil, []string{"lls"}, "", now)
	if err != nil || len(requests) != 1 || requests[0].Target != "lls" {
		t.Errorf("explicit targets = %+v, %v", requests, err)
	}

	if _, err := resolveRequests(table, []string{"build", "bh-pcc"}, nil, "", now); err == nil ||
		!strings.Contains(err.Error(), `did you mean "build bh-pc"`) {
		t.Errorf("unknown command error = %v", err)
	}
	if _, err := resolveRequests(table, nil, nil, "", now); err == nil {
		t.Error("blank input accepted")
	}
	if _, err := resolveRequests(table, []string{"1"}, []string{"lls"}, "", now); err == nil {
		t.Error("trigger command and --target accepted together")
	}
}

func sampleReport() pipeline.Report {
	return pipeline.Report{
		ID:       "run-1",
		Target:   "bh-pc",
		Platform: "PC",
		Branch:   "main",
		Version:  "2026.03.04",
		Stages: []pipeline.StageResult{
			{Stage: pipeline.StageSync, Status: pipeline.Succeeded, Message: "Git pull successful"},
			{Stage: pipeline.StageBuild, Status: pipeline.Failed, Message: "PC build failed: exit code 2",
				OutputTail: "error CS1002: ; expected", Hints: []string{"Close the application"}},
		},
		Duration: 95 * time.Second,
	}
}

func TestRenderReports(t *testing.T) {
	var out bytes.Buffer
	renderReports(&out, []pipeline.Report{sampleReport()})
	text := out.String()
	for _, want := range []string{
		"bh-pc (PC) FAILED",
		"version 2026.03.04",
		"1m35s",
		"Git pull successful",
		"PC build failed: exit code 2",
		"error CS1002",
		"hint: Close the application",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\x1b[") {
		t.Errorf("colors written to a non-terminal:\n%q", text)
	}
}

func TestReportsJSON(t *testing.T) {
	var out bytes.Buffer
	if err := json.NewEncoder(&out).Encode(reportsJSON([]pipeline.Report{sampleReport()})); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0]["outcome"] != "failed" {
		t.Fatalf("decoded = %v", decoded)
	}
	stages := decoded[0]["stages"].([]any)
	build := stages[1].(map[string]any)
	if build["stage"] != "build" || build["status"] != "failed" || build["output"] != "error CS1002: ; expected" {
		t.Errorf("build stage = %v", build)
	}
}

func TestSealKeygenAndEncrypt(t *testing.T) {
	identityPath := filepath.Join(t.TempDir(), "identity.txt")
	var stdout bytes.Buffer
	root := newRoot(&stdout, &bytes.Buffer{})
	if err := root.Execute([]string{"seal", "keygen", "--identity", identityPath}); err != nil {
		t.Fatalf("seal keygen: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "age1") {
		t.Errorf("recipient = %q", stdout.String())
	}

	stdout.Reset()
	encrypt := sealEncryptCommand(strings.NewReader("https://hooks.example.com/T000/B000\n"), &stdout)
	if err := encrypt.Execute([]string{"--identity", identityPath}); err != nil {
		t.Fatalf("seal encrypt: %v", err)
	}
	value := strings.TrimSpace(stdout.String())
	if !sealed.IsSealed(value) {
		t.Fatalf("output %q is not sealed", value)
	}
	identities, err := sealed.ReadIdentityFile(identityPath)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := sealed.Open(value, identities)
	if err != nil {
		t.Fatal(err)
	}
	if plain != "https://hooks.example.com/T000/B000" {
		t.Errorf("opened = %q", plain)
	}

	if err := root.Execute([]string{"seal", "keygen", "--identity", identityPath}); err == nil {
		t.Error("seal keygen overwrote an existing identity")
	}
}

func TestSealEncryptRequiresRecipient(t *testing.T) {
	encrypt := sealEncryptCommand(strings.NewReader("secret"), &bytes.Buffer{})
	if err := encrypt.Execute(nil); err == nil {
		t.Error("encrypt without recipients succeeded")
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	if err := newRoot(&stdout, &bytes.Buffer{}).Execute([]string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout.String(), "buildrelay ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestNewApp(t *testing.T) {
	configPath, root := writeSetup(t)
	cfg, err := config.LoadFile(configPath, []string{"HOME=" + root})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(cfg, testutil.Logger(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, ok := a.coordinator.Target("lls"); !ok {
		t.Error("target lls not loaded")
	}
	if names := a.targetNames(); len(names) != 1 || names[0] != "lls" {
		t.Errorf("targetNames = %v", names)
	}
	if _, ok := a.hosts[""]; !ok {
		t.Error("no local host")
	}
	mac, ok := a.hosts["mac"]
	if !ok {
		t.Fatal("no mac host")
	}
	if mac.Name != "mac" || mac.SSH.KeyPath != "/Users/dev/.ssh/id_ed25519" || mac.SSH.Host != "bitbucket.org" {
		t.Errorf("mac host = %+v", mac)
	}
	if mac.Jobs == nil {
		t.Error("mac host has no job supervisor")
	}
	if _, isLog := a.notifier.(notify.Log); !isLog {
		t.Errorf("notifier = %T, want notify.Log without a webhook", a.notifier)
	}
	if a.ledger.Path() != filepath.Join(root, "state", "runs.cbor") {
		t.Errorf("ledger path = %q", a.ledger.Path())
	}
}

func TestNewNotifierWithWebhook(t *testing.T) {
	notifier, err := newNotifier(config.NotifyConfig{WebhookURL: "https://hooks.example.com/T000"}, testutil.Logger(t))
	if err != nil {
		t.Fatal(err)
	}
	multi, ok := notifier.(notify.Multi)
	if !ok || len(multi) != 2 {
		t.Errorf("notifier = %#v, want webhook and log", notifier)
	}

	if _, err := newNotifier(config.NotifyConfig{WebhookURL: "http://hooks.example.com"}, testutil.Logger(t)); err == nil {
		t.Error("plain http webhook accepted")
	}
}

func TestDialConfig(t *testing.T) {
	dial := dialConfig(config.HostConfig{
		Address:        "build-mac",
		User:           "dev",
		KeyPath:        "/keys/id_mac",
		KnownHostsPath: "/keys/known_hosts",
		ConnectTimeout: "5s",
	})
	if dial.Address != "build-mac" || dial.User != "dev" || dial.ConnectTimeout != 5*time.Second {
		t.Errorf("dial = %+v", dial)
	}
}

func TestHistoryListsRuns(t *testing.T) {
	configPath, root := writeSetup(t)
	ledger := buildlog.OpenLedger(filepath.Join(root, "state", "runs.cbor"))
	started := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	for _, run := range []buildlog.Run{
		{ID: "run-a", Target: "lls", Trigger: "cli", Outcome: "succeeded", Started: started, Duration: time.Minute,
			Stages: []buildlog.Stage{{Name: "build", Status: "succeeded", Message: "LLS build step completed"}}},
		{ID: "run-b", Target: "bh-pc", Trigger: "http", Outcome: "failed", Started: started.Add(time.Hour)},
	} {
		if err := ledger.Append(run); err != nil {
			t.Fatal(err)
		}
	}

	var stdout bytes.Buffer
	command := newRoot(&stdout, &bytes.Buffer{})
	if err := command.Execute([]string{"history", "--config", configPath, "--log-level", "error"}); err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "run-b") || !strings.Contains(lines[1], "run-a") {
		t.Errorf("history output:\n%s", stdout.String())
	}

	stdout.Reset()
	if err := command.Execute([]string{"history", "--config", configPath, "--log-level", "error", "run-a"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "LLS build step completed") {
		t.Errorf("run detail:\n%s", stdout.String())
	}

	if err := command.Execute([]string{"history", "--config", configPath, "run-z"}); err == nil {
		t.Error("unknown run id accepted")
	}
}

func TestRemoteHome(t *testing.T) {
	fake := remotetest.New()
	fake.OnResult("sh -c", remote.Result{Stdout: "/Users/dev"})
	home, err := remoteHome(context.Background(), fake)
	if err != nil || home != "/Users/dev" {
		t.Errorf("remoteHome = %q, %v", home, err)
	}

	broken := remotetest.New()
	broken.OnResult("sh -c", remote.Result{Stdout: ""})
	if _, err := remoteHome(context.Background(), broken); err == nil {
		t.Error("empty home accepted")
	}
}
