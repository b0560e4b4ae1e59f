/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"chainguard.dev/taskdriver/backlog"
	"github.com/chainguard-dev/clog"
)

// retryableErrno reports whether a flush failure is worth retrying. Only a
// small set of transient conditions qualifies; everything else (including
// errors with no OS code at all) fails immediately.
func retryableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.EBUSY, syscall.EAGAIN, syscall.EIO, syscall.ENFILE:
		return true
	}
	return false
}

// errnoOf extracts the OS error code from an error chain.
func errnoOf(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// codeOf names the OS error code in an error chain, or "" when there is
// none.
func codeOf(err error) string {
	errno, ok := errnoOf(err)
	if !ok {
		return ""
	}
	switch errno {
	case syscall.EBUSY:
		return "EBUSY"
	case syscall.EAGAIN:
		return "EAGAIN"
	case syscall.EIO:
		return "EIO"
	case syscall.ENFILE:
		return "ENFILE"
	case syscall.ENOSPC:
		return "ENOSPC"
	case syscall.ENOENT:
		return "ENOENT"
	case syscall.EACCES:
		return "EACCES"
	}
	return fmt.Sprintf("ERRNO_%d", int(errno))
}

// recoveryArtifact is the schema of tasks.json.failed.
type recoveryArtifact struct {
	Version        string                    `json:"version"`
	Error          recoveryError             `json:"error"`
	PendingCount   int                       `json:"pendingCount"`
	PendingUpdates map[string]backlog.Status `json:"pendingUpdates"`
}

type recoveryError struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
}

// FlushUpdates persists batched status changes atomically. A clean store is
// a no-op. Transient filesystem errors are retried with exponential backoff
// and jitter; when retries are exhausted, or on any non-retryable error, a
// tasks.json.failed recovery artifact is written, dirty state is preserved
// for a later flush, and the original error surfaces.
//
// Flushes are serialized: a second concurrent call queues behind the first
// and observes its final state.
func (s *Store) FlushUpdates(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	path := filepath.Join(s.current.Metadata.Path, tasksFileName)
	data, err := s.current.TaskRegistry.Encode()
	gen := s.gen
	pendingSnapshot := make(map[string]backlog.Status, len(s.pending))
	for k, v := range s.pending {
		pendingSnapshot[k] = v
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	log := clog.FromContext(ctx)
	maxAttempts := s.flushRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = s.writeTasks(path, data)
		if lastErr == nil {
			s.mu.Lock()
			// Updates that arrived mid-flush keep the store dirty.
			if s.gen == gen {
				s.dirty = false
				s.pending = make(map[string]backlog.Status)
			}
			s.mu.Unlock()
			flushesTotal.Inc()
			return nil
		}

		errno, ok := errnoOf(lastErr)
		if !ok || !retryableErrno(errno) {
			return s.flushFailed(ctx, lastErr, attempt, pendingSnapshot)
		}
		if attempt == maxAttempts {
			return s.flushFailed(ctx, lastErr, attempt, pendingSnapshot)
		}

		delay := min(time.Duration(float64(flushBaseDelay<<(attempt-1))*s.jitter()), flushMaxDelay)
		flushRetriesTotal.Inc()
		log.With("path", path).
			With("attempt", attempt).
			With("max_attempts", maxAttempts).
			With("code", codeOf(lastErr)).
			With("backoff", delay).
			Warn("Transient flush failure, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// flushFailed writes the recovery artifact and surfaces the original error.
// Dirty state survives so a later flush can retry the same intent.
func (s *Store) flushFailed(ctx context.Context, cause error, attempts int, pending map[string]backlog.Status) error {
	s.mu.Lock()
	dir := s.current.Metadata.Path
	s.mu.Unlock()

	artifact := recoveryArtifact{
		Version: "1.0",
		Error: recoveryError{
			Code:     codeOf(cause),
			Attempts: attempts,
			Message:  cause.Error(),
		},
		PendingCount:   len(pending),
		PendingUpdates: pending,
	}
	recoveryPath := filepath.Join(dir, recoveryFileName)
	if data, err := json.MarshalIndent(artifact, "", "  "); err == nil {
		if werr := os.WriteFile(recoveryPath, data, 0o644); werr != nil {
			clog.FromContext(ctx).With("path", recoveryPath).With("error", werr.Error()).
				Error("Could not write flush recovery artifact")
		}
	}
	flushFailuresTotal.Inc()
	clog.FromContext(ctx).With("attempts", attempts).
		With("code", codeOf(cause)).
		With("pending", len(pending)).
		Error("Flush failed, recovery artifact written")
	return cause
}
