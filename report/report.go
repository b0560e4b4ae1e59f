/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report renders end-of-run session summaries as Markdown: a
// phase-by-phase progress table, story-point totals, and the failures that
// need attention.
package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/session"
)

// phaseProgress aggregates subtask outcomes for one phase.
type phaseProgress struct {
	id       string
	title    string
	points   int
	donePts  int
	total    int
	complete int
	failed   int
	obsolete int
}

// Summary renders the phase-by-phase progress of a backlog, returning the
// report and whether any subtask failed. The failures map supplies the
// messages shown in the failure section; subtasks in Failed status without a
// message are still counted.
func Summary(b *backlog.Backlog, failures map[string]string) (string, bool) {
	var report strings.Builder
	report.WriteString("## Progress\n\n")

	phases := collectProgress(b)
	totals := b.StoryPointTotals()

	var buf bytes.Buffer
	table := newMarkdownTable([]string{"Phase", "Points", "Complete", "Failed", "Pending", "Progress"}, &buf)
	grand := phaseProgress{title: "Total", points: totals[""]}
	for _, p := range phases {
		_ = table.Append(progressRow(p))
		grand.donePts += p.donePts
		grand.total += p.total
		grand.complete += p.complete
		grand.failed += p.failed
		grand.obsolete += p.obsolete
	}
	_ = table.Append(progressRow(&grand))
	_ = table.Render()
	report.WriteString(buf.String())

	hasFailure := grand.failed > 0 || len(failures) > 0
	if hasFailure {
		report.WriteString("\n## Failures\n\n")
		report.WriteString(failureTable(b, failures))
	}
	return report.String(), hasFailure
}

// Write renders the full report for a session, prefixed with its identity
// and delta provenance, to w.
func Write(w io.Writer, s *session.State, failures map[string]string) error {
	var header strings.Builder
	fmt.Fprintf(&header, "# Session %s\n\n", s.Metadata.ID)
	if s.Metadata.PRDTitle != "" {
		fmt.Fprintf(&header, "PRD: %s", s.Metadata.PRDTitle)
		if s.Metadata.PRDVersion != "" {
			fmt.Fprintf(&header, " (version %s)", s.Metadata.PRDVersion)
		}
		header.WriteString("\n")
	}
	if s.Metadata.ParentSession != "" {
		fmt.Fprintf(&header, "Parent session: %s\n", s.Metadata.ParentSession)
	}
	if s.Delta != nil {
		fmt.Fprintf(&header, "PRD delta: %s", s.Delta.DiffSummary)
	}
	header.WriteString("\n")

	body, _ := Summary(s.TaskRegistry, failures)
	if _, err := io.WriteString(w, header.String()+body); err != nil {
		return fmt.Errorf("writing session report: %w", err)
	}
	return nil
}

func collectProgress(b *backlog.Backlog) []*phaseProgress {
	var phases []*phaseProgress
	for _, p := range b.Backlog {
		pp := &phaseProgress{id: p.ID, title: p.Title}
		for _, m := range p.Milestones {
			for _, t := range m.Tasks {
				for _, s := range t.Subtasks {
					pp.total++
					pp.points += s.StoryPoints
					switch s.Status {
					case backlog.StatusComplete:
						pp.complete++
						pp.donePts += s.StoryPoints
					case backlog.StatusFailed:
						pp.failed++
					case backlog.StatusObsolete:
						pp.obsolete++
					}
				}
			}
		}
		phases = append(phases, pp)
	}
	return phases
}

func progressRow(p *phaseProgress) []string {
	name := p.title
	if p.id != "" {
		name = fmt.Sprintf("%s: %s", p.id, p.title)
	}
	pending := p.total - p.complete - p.failed - p.obsolete
	var pct float64
	if p.total > 0 {
		pct = float64(p.complete) / float64(p.total) * 100
	}
	return []string{
		name,
		fmt.Sprintf("%d/%d", p.donePts, p.points),
		fmt.Sprintf("%d", p.complete),
		fmt.Sprintf("%d", p.failed),
		fmt.Sprintf("%d", pending),
		fmt.Sprintf("%.1f%%", pct),
	}
}

// failureTable lists every failed subtask with its recorded message. Subtasks
// that are Failed on the registry but absent from the failures map (for
// example after resuming a session) appear with an empty message.
func failureTable(b *backlog.Backlog, failures map[string]string) string {
	messages := make(map[string]string, len(failures))
	for id, msg := range failures {
		messages[id] = msg
	}
	for _, s := range b.Subtasks() {
		if s.Status == backlog.StatusFailed {
			if _, ok := messages[s.ID]; !ok {
				messages[s.ID] = ""
			}
		}
	}

	ids := make([]string, 0, len(messages))
	for id := range messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	table := newMarkdownTable([]string{"Subtask", "Failure"}, &buf)
	for _, id := range ids {
		_ = table.Append([]string{id, messages[id]})
	}
	_ = table.Render()
	return buf.String()
}
