// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Detached starts the script in the background with nohup. There is
// no session to close; a detached script can only be stopped by the
// script itself.
type Detached struct{}

// Kind returns KindDetached.
func (Detached) Kind() string { return KindDetached }

// Launch backgrounds the script with its stdio detached from the
// executing shell so the launching command returns immediately.
func (Detached) Launch(ctx context.Context, executor remote.Executor, session Session) error {
	script := "nohup sh -c " + remote.Quote(session.Script) + " >/dev/null 2>&1 </dev/null &"
	_, err := run(ctx, executor, "starting detached job", remote.Shell(script))
	return err
}

// Close does nothing.
func (Detached) Close(context.Context, remote.Executor, string) error {
	return nil
}
