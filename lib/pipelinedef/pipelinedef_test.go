// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/testutil"
)

const macTarget = `{
	// Mac build over SSH.
	"platform": "Mac",
	"host": "mac",
	"repository": {"path": "/Users/build/src/app", "branch": "main"},
	"build": {
		"commands": ["./build.sh ${VERSION}"],
		"timeout": "30m",
	},
	"package": {
		"commands": ["./package.sh"],
		"interactive": true,
		"title": "Package ${TARGET}",
	},
	"distribute": {
		"downloads": [
			{"remote_path": "/Users/build/out/App ${VERSION}.pkg", "local_path": "/srv/stage/App.pkg"},
		],
		"dirs": ["/srv/stage"],
		"extensions": [".pkg"],
		"share": "/mnt/share/builds",
		"link": "https://downloads.example.com/${FILE}",
	},
}
`

func TestParseJSONC(t *testing.T) {
	t.Parallel()

	target, err := Parse([]byte(macTarget))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if target.Host != "mac" || target.Repository.Branch != "main" {
		t.Errorf("target = %+v", target)
	}
	if !target.Package.Interactive || target.Package.Title != "Package ${TARGET}" {
		t.Errorf("package = %+v", target.Package)
	}
	if len(target.Distribute.Downloads) != 1 {
		t.Fatalf("downloads = %+v", target.Distribute.Downloads)
	}
	if target.Build.TimeoutDuration().Minutes() != 30 {
		t.Errorf("build timeout = %v, want 30m", target.Build.TimeoutDuration())
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"name": "x", "biuld": {}}`))
	if err == nil || !strings.Contains(err.Error(), "biuld") {
		t.Errorf("Parse error = %v, want mention of the unknown field", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Target {
		return &Target{
			Name:       "app-windows",
			Repository: Repository{Path: `C:\src\app`, Branch: "main"},
			Build:      Step{Commands: []string{"dotnet publish"}},
		}
	}

	tests := []struct {
		name           string
		modify         func(*Target)
		wantSubstrings []string
	}{
		{name: "valid minimal", modify: func(*Target) {}},
		{
			name:           "missing name",
			modify:         func(target *Target) { target.Name = "" },
			wantSubstrings: []string{"name is required"},
		},
		{
			name:           "bad name",
			modify:         func(target *Target) { target.Name = "App Windows" },
			wantSubstrings: []string{"lower-case"},
		},
		{
			name: "missing repository",
			modify: func(target *Target) {
				target.Repository = Repository{}
			},
			wantSubstrings: []string{"repository.path is required", "repository.branch is required"},
		},
		{
			name:           "no build commands",
			modify:         func(target *Target) { target.Build.Commands = nil },
			wantSubstrings: []string{"build: at least one command"},
		},
		{
			name:           "bad timeout",
			modify:         func(target *Target) { target.Build.Timeout = "soon" },
			wantSubstrings: []string{`invalid timeout "soon"`},
		},
		{
			name: "version pattern without group",
			modify: func(target *Target) {
				target.Version = &VersionStep{File: "app.csproj", Pattern: "<Version>.*</Version>"}
			},
			wantSubstrings: []string{"capture group"},
		},
		{
			name: "distribute incomplete",
			modify: func(target *Target) {
				target.Distribute = &DistributeStep{Downloads: []Download{{RemotePath: "/x"}}}
			},
			wantSubstrings: []string{
				"distribute.extensions is required",
				"distribute.share is required",
				"set project or dirs",
				"requires a host",
				"remote_path and local_path are required",
			},
		},
		{
			name: "builtin variable redeclared",
			modify: func(target *Target) {
				target.Variables = map[string]Variable{"VERSION": {}}
			},
			wantSubstrings: []string{"VERSION is built in"},
		},
		{
			name: "clean root",
			modify: func(target *Target) {
				target.Package = &PackageStep{Step: Step{Commands: []string{"x"}}, Clean: []string{"/"}}
			},
			wantSubstrings: []string{"package.clean[0]"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			target := valid()
			test.modify(target)
			issues := Validate(target)
			if len(test.wantSubstrings) == 0 {
				if len(issues) != 0 {
					t.Fatalf("Validate = %v, want no issues", issues)
				}
				return
			}
			joined := strings.Join(issues, "\n")
			for _, want := range test.wantSubstrings {
				if !strings.Contains(joined, want) {
					t.Errorf("issues missing %q:\n%s", want, joined)
				}
			}
		})
	}
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "bh-mac.jsonc"), macTarget)
	testutil.WriteFile(t, filepath.Join(dir, "bh-pc.json"), `{
		"platform": "Windows",
		"repository": {"path": "C:/src/app", "branch": "main"},
		"build": {"commands": ["build.cmd"]}
	}`)
	testutil.WriteFile(t, filepath.Join(dir, "README.md"), "not a target")

	targets, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(targets) != 2 || targets[0].Name != "bh-mac" || targets[1].Name != "bh-pc" {
		t.Errorf("targets = %v", targetNames(targets))
	}
}

func TestReadDirReportsEveryProblem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "broken.jsonc"), `{"repository": `)
	testutil.WriteFile(t, filepath.Join(dir, "incomplete.jsonc"), `{"build": {"commands": ["x"]}}`)

	_, err := ReadDir(dir)
	if !failure.Is(err, failure.Configuration) {
		t.Fatalf("ReadDir error kind = %v, want configuration (%v)", failure.KindOf(err), err)
	}
	for _, want := range []string{"broken.jsonc", "incomplete.jsonc"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func targetNames(targets []*Target) []string {
	names := make([]string, len(targets))
	for index, target := range targets {
		names[index] = target.Name
	}
	return names
}

func TestNameFromPath(t *testing.T) {
	t.Parallel()

	if got := NameFromPath("targets/app-windows.jsonc"); got != "app-windows" {
		t.Errorf("NameFromPath = %q", got)
	}
}
