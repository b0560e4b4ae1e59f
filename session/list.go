/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/chainguard-dev/clog"
)

// ListSessions loads every session under planDir, sorted ascending by
// sequence number. Entries that do not match the session directory naming
// are ignored; sessions that fail to load are logged and skipped, never
// aborting the listing.
func ListSessions(ctx context.Context, planDir string) ([]*State, error) {
	entries, err := os.ReadDir(planDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &FileError{Path: planDir, Op: "readdir", Code: codeOf(err), Err: err}
	}

	log := clog.FromContext(ctx)
	type loaded struct {
		seq   int
		state *State
	}
	var sessions []loaded
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		seq, _, ok := parseSessionDir(e.Name())
		if !ok {
			continue
		}
		state, err := LoadSession(ctx, filepath.Join(planDir, e.Name()))
		if err != nil {
			log.With("session", e.Name()).With("error", err.Error()).
				Warn("Skipping unloadable session")
			continue
		}
		sessions = append(sessions, loaded{seq: seq, state: state})
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	out := make([]*State, 0, len(sessions))
	for _, l := range sessions {
		out = append(out, l.state)
	}
	return out, nil
}

// FindLatestSession returns the session with the highest sequence number, or
// nil when the plan directory holds none.
func FindLatestSession(ctx context.Context, planDir string) (*State, error) {
	sessions, err := ListSessions(ctx, planDir)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[len(sessions)-1], nil
}

// FindSessionByPRD hashes the given PRD and returns the session addressed by
// its hash prefix, or nil when none exists.
func FindSessionByPRD(ctx context.Context, planDir, prdPath string, hasher Hasher) (*State, error) {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	hash, err := hasher.HashPRD(prdPath)
	if err != nil {
		return nil, err
	}
	sessions, err := ListSessions(ctx, planDir)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Metadata.Hash == hash[:hashPrefixLen] {
			return s, nil
		}
	}
	return nil, nil
}
