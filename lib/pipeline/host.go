// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"log/slog"

	"github.com/bureau-foundation/buildrelay/lib/gitsync"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remotejob"
)

// Host is where a target's repository lives and its commands run.
type Host struct {
	// Name matches Target.Host; empty for this machine.
	Name string

	// Executor runs commands on the host. Remote executors acquire a
	// session per command, so pipelines never share one.
	Executor remote.Executor

	// Files accesses the host's filesystem for SSH environment
	// validation.
	Files gitsync.Files

	// Downloader fetches files from the host for distribution.
	Downloader remote.Downloader

	// SSH is the git-host SSH environment as seen from this host.
	SSH gitsync.SSHEnvironment

	// Jobs supervises interactive steps. Nil means the host cannot run
	// interactive steps.
	Jobs *remotejob.Supervisor
}

// LocalHost returns a Host for this machine.
func LocalHost(ssh gitsync.SSHEnvironment, jobs *remotejob.Supervisor, logger *slog.Logger) Host {
	local := remote.NewLocal(logger)
	return Host{
		Executor:   local,
		Files:      gitsync.LocalFiles{},
		Downloader: local,
		SSH:        ssh,
		Jobs:       jobs,
	}
}

// RemoteHost returns a Host reached through dialer.
func RemoteHost(name string, dialer *remote.Dialer, ssh gitsync.SSHEnvironment, jobs *remotejob.Supervisor) Host {
	executor := remote.Host{Dialer: dialer}
	return Host{
		Name:       name,
		Executor:   executor,
		Files:      gitsync.RemoteFiles{Executor: executor},
		Downloader: executor,
		SSH:        ssh,
		Jobs:       jobs,
	}
}
