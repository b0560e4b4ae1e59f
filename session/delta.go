/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chainguard.dev/taskdriver/backlog"
	"github.com/chainguard-dev/clog"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffPreviewMaxLines = 40

// CreateDeltaSession starts a new session for a revised PRD, chained to the
// active one. The new session gets its own directory with a snapshot of the
// revised PRD, a parent_session.txt pointer, and a copy of the parent's task
// registry so completed work carries forward. The store swaps to the delta
// session; HasSessionChanged reports true afterwards because the initial hash
// is kept.
func (s *Store) CreateDeltaSession(ctx context.Context, newPRDPath string) (*State, error) {
	s.mu.Lock()
	parent := s.current
	s.mu.Unlock()
	if parent == nil {
		return nil, ErrNoSession
	}

	newPRD, err := os.ReadFile(newPRDPath)
	if err != nil {
		return nil, &FileError{Path: newPRDPath, Op: "read", Code: codeOf(err), Err: err}
	}
	hash, err := s.hasher.HashPRD(newPRDPath)
	if err != nil {
		return nil, fmt.Errorf("hashing revised PRD: %w", err)
	}
	if len(hash) < hashPrefixLen {
		return nil, fmt.Errorf("hasher returned %d characters, need at least %d", len(hash), hashPrefixLen)
	}
	if hash[:hashPrefixLen] == parent.Metadata.Hash {
		return nil, &FileError{Path: newPRDPath, Op: "delta", Err: fmt.Errorf("revised PRD is identical to session %s", parent.Metadata.ID)}
	}

	summary := diffSummary(parent.PRDSnapshot, string(newPRD))

	seq := s.nextSequence(ctx)
	id := formatSessionID(seq, hash)
	dir := filepath.Join(s.planDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FileError{Path: dir, Op: "mkdir", Code: codeOf(err), Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFileName), newPRD, 0o644); err != nil {
		return nil, &FileError{Path: filepath.Join(dir, snapshotFileName), Op: "write", Code: codeOf(err), Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, parentFileName), []byte(parent.Metadata.ID), 0o644); err != nil {
		return nil, &FileError{Path: filepath.Join(dir, parentFileName), Op: "write", Code: codeOf(err), Err: err}
	}

	// Carry the parent registry forward so items already Complete stay
	// Complete in the delta session.
	data, err := parent.TaskRegistry.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding parent registry: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, tasksFileName), data); err != nil {
		return nil, &FileError{Path: filepath.Join(dir, tasksFileName), Op: "write", Code: codeOf(err), Err: err}
	}
	registry, err := backlog.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("copying parent registry: %w", err)
	}

	fm := parseFrontMatter(string(newPRD))
	state := &State{
		Metadata: Metadata{
			ID:            id,
			Hash:          hash[:hashPrefixLen],
			Path:          dir,
			CreatedAt:     s.now(),
			ParentSession: parent.Metadata.ID,
			PRDTitle:      fm.Title,
			PRDVersion:    fm.Version,
		},
		PRDSnapshot:  string(newPRD),
		TaskRegistry: registry,
		Delta: &DeltaInfo{
			OldPRD:      s.prdPath,
			NewPRD:      newPRDPath,
			DiffSummary: summary,
		},
	}

	// Swap the active session but keep initHash: the store was initialized
	// against the old PRD, so HasSessionChanged now answers true.
	s.mu.Lock()
	s.current = state
	s.dirty = false
	s.pending = make(map[string]backlog.Status)
	s.mu.Unlock()

	clog.FromContext(ctx).With("session", id).
		With("parent", parent.Metadata.ID).
		Info("Created delta session")
	return state, nil
}

// diffSummary renders a line-oriented change summary between two PRD
// revisions: counts plus a capped preview of changed lines.
func diffSummary(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldRunes, newRunes, false), lines)

	var added, removed int
	var preview []string
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		marker := "+"
		if d.Type == diffmatchpatch.DiffDelete {
			marker = "-"
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				removed++
			}
			if len(preview) < diffPreviewMaxLines {
				preview = append(preview, marker+" "+line)
			}
		}
	}
	if added == 0 && removed == 0 {
		return "no changes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d line(s) added, %d line(s) removed\n", added, removed)
	b.WriteString(strings.Join(preview, "\n"))
	if added+removed > diffPreviewMaxLines {
		fmt.Fprintf(&b, "\n... (%d more)", added+removed-diffPreviewMaxLines)
	}
	return b.String()
}
