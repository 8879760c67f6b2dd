// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/buildrelay/lib/buildlog"
	"github.com/bureau-foundation/buildrelay/lib/pipeline"
)

// reportStyles colors report output. The renderer drops colors when
// the writer is not a terminal.
type reportStyles struct {
	title   lipgloss.Style
	stage   lipgloss.Style
	faint   lipgloss.Style
	status  map[string]lipgloss.Style
	message lipgloss.Style
}

func newReportStyles(w io.Writer) reportStyles {
	renderer := lipgloss.NewRenderer(w)
	return reportStyles{
		title:   renderer.NewStyle().Bold(true),
		stage:   renderer.NewStyle().Width(14),
		faint:   renderer.NewStyle().Faint(true),
		message: renderer.NewStyle().PaddingLeft(2),
		status: map[string]lipgloss.Style{
			"succeeded": renderer.NewStyle().Foreground(lipgloss.Color("2")).Width(10),
			"warned":    renderer.NewStyle().Foreground(lipgloss.Color("3")).Width(10),
			"failed":    renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true).Width(10),
			"skipped":   renderer.NewStyle().Faint(true).Width(10),
		},
	}
}

func (s reportStyles) statusText(status string) string {
	style, ok := s.status[status]
	if !ok {
		style = lipgloss.NewStyle().Width(10)
	}
	return style.Render(status)
}

// renderReports writes one block per pipeline report.
func renderReports(w io.Writer, reports []pipeline.Report) {
	styles := newReportStyles(w)
	for index, report := range reports {
		if index > 0 {
			fmt.Fprintln(w)
		}
		heading := fmt.Sprintf("%s %s", report.Target, strings.ToUpper(report.Outcome()))
		if report.Platform != "" && report.Platform != report.Target {
			heading = fmt.Sprintf("%s (%s) %s", report.Target, report.Platform, strings.ToUpper(report.Outcome()))
		}
		fmt.Fprintln(w, styles.title.Render(heading))

		details := []string{"run " + report.ID, "branch " + report.Branch}
		if report.Version != "" {
			details = append(details, "version "+report.Version)
		}
		details = append(details, report.Duration.Round(time.Second).String())
		fmt.Fprintln(w, styles.faint.Render(strings.Join(details, "  ")))

		for _, stage := range report.Stages {
			fmt.Fprintf(w, "%s%s %s\n",
				styles.stage.Render(string(stage.Stage)),
				styles.statusText(stage.Status.String()),
				stage.Message)
			if stage.Status == pipeline.Failed && stage.OutputTail != "" {
				fmt.Fprintln(w, styles.message.Render(stage.OutputTail))
			}
			for _, hint := range stage.Hints {
				fmt.Fprintln(w, styles.message.Render("hint: "+hint))
			}
		}
		if report.Artifact != "" {
			fmt.Fprintf(w, "artifact: %s\n", report.Artifact)
		}
		if report.Link != "" {
			fmt.Fprintf(w, "download: %s\n", report.Link)
		}
	}
}

// renderRuns writes one line per recorded run, newest first.
func renderRuns(w io.Writer, runs []buildlog.Run) {
	styles := newReportStyles(w)
	for _, run := range runs {
		version := run.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s  %s %-10s %-8s %-12s %s  %s\n",
			run.Started.Local().Format("2006-01-02 15:04"),
			styles.statusText(run.Outcome),
			run.Target,
			run.Trigger,
			version,
			run.Duration.Round(time.Second),
			styles.faint.Render(run.ID))
	}
}
