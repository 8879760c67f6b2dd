// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotejob supervises a long-running script started inside an
// interactive session on a remote host, where the only channel back is
// the host's filesystem.
//
// Each job gets three scratch files named by a fresh job id:
//
//	<scratch>/build_output_<id>    combined stdout+stderr of the script
//	<scratch>/build_exit_<id>      the script's exit status, one line
//	<scratch>/build_complete_<id>  empty marker created last
//
// The launched wrapper writes the exit status to a temporary name,
// renames it into place, and only then creates the marker, so a
// reader that sees the marker sees a complete exit file. The
// supervisor does not rely on that alone: a job counts as finished
// only when both the marker and the exit file exist, so a marker
// created out of order by a foreign wrapper just means "keep polling".
//
// The state machine is Launching → Running → Succeeded | Failed |
// TimedOut. Running polls once per interval; each poll also reads and
// truncates the output file and forwards new lines to the progress
// sink. A job that produces no marker within the tick budget is
// TimedOut. Timing out closes the interactive session and removes the
// scratch files, but the script itself may keep running on the host.
//
// Launched jobs are recorded in a [Journal] before polling starts and
// removed after cleanup. [Journal.Sweep] deletes the scratch files of
// jobs whose supervisor was killed mid-run.
package remotejob
