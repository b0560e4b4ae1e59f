/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"chainguard.dev/taskdriver/backlog"
)

// flushFixture initializes a store with one pending update and instruments
// the write/sleep seams. writeErrs[i] is returned by attempt i+1; attempts
// past the slice succeed.
func flushFixture(t *testing.T, retries int, writeErrs ...error) (*Store, *flushProbe) {
	t.Helper()
	ctx := context.Background()

	s, _ := newTestStore(t, "# PRD\n", WithFlushRetries(retries))
	if _, err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBacklog(ctx, testRegistry()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateItemStatus("P1.M1.T1.S1", backlog.StatusComplete); err != nil {
		t.Fatal(err)
	}

	probe := &flushProbe{errs: writeErrs}
	s.writeTasks = probe.write
	s.sleep = probe.recordSleep
	s.jitter = func() float64 { return 1.0 }
	return s, probe
}

type flushProbe struct {
	errs   []error
	writes int
	slept  []time.Duration
}

func (p *flushProbe) write(path string, data []byte) error {
	p.writes++
	if p.writes <= len(p.errs) && p.errs[p.writes-1] != nil {
		return p.errs[p.writes-1]
	}
	return atomicWriteFile(path, data)
}

func (p *flushProbe) recordSleep(_ context.Context, d time.Duration) error {
	p.slept = append(p.slept, d)
	return nil
}

func pathErr(errno syscall.Errno) error {
	return &os.PathError{Op: "rename", Path: "tasks.json", Err: errno}
}

func recoveryPath(s *Store) string {
	return filepath.Join(s.Current().Metadata.Path, recoveryFileName)
}

func TestFlushRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	s, probe := flushFixture(t, 3, pathErr(syscall.EBUSY), pathErr(syscall.EBUSY))
	if err := s.FlushUpdates(context.Background()); err != nil {
		t.Fatalf("FlushUpdates() = %v, want success on third attempt", err)
	}
	if probe.writes != 3 {
		t.Errorf("writer called %d times, want 3", probe.writes)
	}
	if want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}; len(probe.slept) != 2 || probe.slept[0] != want[0] || probe.slept[1] != want[1] {
		t.Errorf("backoffs = %v, want %v", probe.slept, want)
	}
	if _, err := os.Stat(recoveryPath(s)); !os.IsNotExist(err) {
		t.Error("recovery file written on a successful flush")
	}
	if s.Dirty() {
		t.Error("store still dirty after a successful flush")
	}
}

func TestFlushNonRetryableWritesRecovery(t *testing.T) {
	t.Parallel()

	cause := pathErr(syscall.ENOSPC)
	s, probe := flushFixture(t, 3, cause, cause, cause, cause)
	err := s.FlushUpdates(context.Background())
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("FlushUpdates() = %v, want the ENOSPC cause", err)
	}
	if probe.writes != 1 {
		t.Errorf("writer called %d times, want exactly 1 for a non-retryable error", probe.writes)
	}
	if !s.Dirty() {
		t.Error("dirty state must survive a failed flush")
	}

	data, readErr := os.ReadFile(recoveryPath(s))
	if readErr != nil {
		t.Fatalf("reading recovery file: %v", readErr)
	}
	var artifact recoveryArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("recovery file is not valid JSON: %v", err)
	}
	if artifact.Error.Code != "ENOSPC" {
		t.Errorf("recovery code = %q, want ENOSPC", artifact.Error.Code)
	}
	if artifact.Error.Attempts != 1 {
		t.Errorf("recovery attempts = %d, want 1", artifact.Error.Attempts)
	}
	if artifact.PendingCount != 1 {
		t.Errorf("recovery pendingCount = %d, want 1", artifact.PendingCount)
	}
	if got := artifact.PendingUpdates["P1.M1.T1.S1"]; got != backlog.StatusComplete {
		t.Errorf("recovery pendingUpdates[S1] = %q, want Complete", got)
	}
}

func TestFlushExhaustsRetries(t *testing.T) {
	t.Parallel()

	busy := pathErr(syscall.EBUSY)
	s, probe := flushFixture(t, 2, busy, busy, busy, busy)
	err := s.FlushUpdates(context.Background())
	if !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("FlushUpdates() = %v, want the EBUSY cause", err)
	}
	if probe.writes != 3 {
		t.Errorf("writer called %d times, want 3 (retries+1)", probe.writes)
	}

	data, readErr := os.ReadFile(recoveryPath(s))
	if readErr != nil {
		t.Fatalf("reading recovery file: %v", readErr)
	}
	var artifact recoveryArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatal(err)
	}
	if artifact.Error.Code != "EBUSY" || artifact.Error.Attempts != 3 {
		t.Errorf("recovery = (%q, %d), want (EBUSY, 3)", artifact.Error.Code, artifact.Error.Attempts)
	}
}

func TestFlushZeroRetriesSingleAttempt(t *testing.T) {
	t.Parallel()

	s, probe := flushFixture(t, 0, pathErr(syscall.EAGAIN))
	if err := s.FlushUpdates(context.Background()); err == nil {
		t.Fatal("FlushUpdates() succeeded, want failure after a single attempt")
	}
	if probe.writes != 1 {
		t.Errorf("writer called %d times, want 1 with retries disabled", probe.writes)
	}
	if len(probe.slept) != 0 {
		t.Errorf("backoff slept %v with retries disabled", probe.slept)
	}
}

func TestFlushErrorWithoutCodeIsNotRetried(t *testing.T) {
	t.Parallel()

	s, probe := flushFixture(t, 3, errors.New("writer broke"))
	if err := s.FlushUpdates(context.Background()); err == nil {
		t.Fatal("FlushUpdates() succeeded, want failure")
	}
	if probe.writes != 1 {
		t.Errorf("writer called %d times, want 1 for an error with no OS code", probe.writes)
	}

	data, readErr := os.ReadFile(recoveryPath(s))
	if readErr != nil {
		t.Fatal(readErr)
	}
	var artifact recoveryArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatal(err)
	}
	if artifact.Error.Code != "" {
		t.Errorf("recovery code = %q, want empty for an error with no OS code", artifact.Error.Code)
	}
}

func TestFlushCleanStoreIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestStore(t, "# PRD\n")
	if _, err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	var writes int
	s.writeTasks = func(string, []byte) error {
		writes++
		return nil
	}
	if err := s.FlushUpdates(ctx); err != nil {
		t.Fatalf("FlushUpdates() = %v", err)
	}
	if writes != 0 {
		t.Errorf("writer called %d times on a clean store, want 0", writes)
	}
}

func TestFlushWithoutSessionFails(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, "# PRD\n")
	if err := s.FlushUpdates(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("FlushUpdates() = %v, want ErrNoSession", err)
	}
}

func TestFlushKeepsDirtyWhenUpdatedMidFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := flushFixture(t, 3)
	// The writer lands a concurrent update between snapshot and completion.
	inner := s.writeTasks
	s.writeTasks = func(path string, data []byte) error {
		if err := s.UpdateItemStatus("P1.M1.T1.S2", backlog.StatusFailed); err != nil {
			t.Errorf("mid-flush update: %v", err)
		}
		return inner(path, data)
	}

	if err := s.FlushUpdates(ctx); err != nil {
		t.Fatalf("FlushUpdates() = %v", err)
	}
	if !s.Dirty() {
		t.Error("update that raced the flush was lost: store should still be dirty")
	}
	if err := s.FlushUpdates(ctx); err != nil {
		t.Fatalf("second FlushUpdates() = %v", err)
	}
	if s.Dirty() {
		t.Error("store dirty after draining flush")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{pathErr(syscall.EBUSY), "EBUSY"},
		{pathErr(syscall.ENOSPC), "ENOSPC"},
		{pathErr(syscall.ENOENT), "ENOENT"},
		{pathErr(syscall.Errno(250)), "ERRNO_250"},
		{errors.New("plain"), ""},
	}
	for _, tc := range tests {
		if got := codeOf(tc.err); got != tc.want {
			t.Errorf("codeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
