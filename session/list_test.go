/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// seedSession creates a real session for content under planDir and returns
// its ID.
func seedSession(t *testing.T, planDir, content string) string {
	t.Helper()
	s, err := New(planDir, writePRD(t, content))
	if err != nil {
		t.Fatal(err)
	}
	state, err := s.Initialize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return state.Metadata.ID
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	planDir := t.TempDir()
	first := seedSession(t, planDir, "# PRD one\n")
	second := seedSession(t, planDir, "# PRD two\n")

	// Noise the listing must skip: a stray file, a non-session directory,
	// and a session directory whose registry is unreadable.
	if err := os.WriteFile(filepath.Join(planDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(planDir, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(planDir, "009_ffffffffffff")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}

	sessions, err := ListSessions(ctx, planDir)
	if err != nil {
		t.Fatalf("ListSessions() = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListSessions() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].Metadata.ID != first || sessions[1].Metadata.ID != second {
		t.Errorf("order = [%s %s], want [%s %s]",
			sessions[0].Metadata.ID, sessions[1].Metadata.ID, first, second)
	}
}

func TestListSessionsMissingDir(t *testing.T) {
	t.Parallel()

	sessions, err := ListSessions(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("ListSessions() = %v, want nil error for a missing plan directory", err)
	}
	if sessions != nil {
		t.Errorf("ListSessions() = %v, want nil", sessions)
	}
}

func TestFindLatestSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	planDir := t.TempDir()
	if latest, err := FindLatestSession(ctx, planDir); err != nil || latest != nil {
		t.Fatalf("empty dir: FindLatestSession() = (%v, %v), want (nil, nil)", latest, err)
	}

	seedSession(t, planDir, "# PRD one\n")
	want := seedSession(t, planDir, "# PRD two\n")
	latest, err := FindLatestSession(ctx, planDir)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Metadata.ID != want {
		t.Errorf("FindLatestSession() = %s, want %s", latest.Metadata.ID, want)
	}
}

func TestFindSessionByPRD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	planDir := t.TempDir()
	seedSession(t, planDir, "# PRD one\n")
	want := seedSession(t, planDir, "# PRD two\n")

	prdPath := writePRD(t, "# PRD two\n")
	found, err := FindSessionByPRD(ctx, planDir, prdPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.Metadata.ID != want {
		t.Fatalf("FindSessionByPRD() = %v, want session %s", found, want)
	}

	other := writePRD(t, "# PRD three\n")
	found, err = FindSessionByPRD(ctx, planDir, other, nil)
	if err != nil {
		t.Fatal(err)
	}
	if found != nil {
		t.Errorf("FindSessionByPRD() = %s for an unseen PRD, want nil", found.Metadata.ID)
	}
}
