/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chainguard.dev/taskdriver/backlog"
	"github.com/chainguard-dev/clog"
)

const (
	tasksFileName    = "tasks.json"
	snapshotFileName = "prd_snapshot.md"
	parentFileName   = "parent_session.txt"
	recoveryFileName = "tasks.json.failed"

	defaultFlushRetries = 3
	maxFlushRetries     = 10
	flushBaseDelay      = 100 * time.Millisecond
	flushMaxDelay       = 2 * time.Second
)

// Store owns a session's state: hash-addressed lookup, batched status
// mutation, and durable persistence. It is safe for concurrent use; disk is
// owned exclusively by the store.
type Store struct {
	planDir      string
	prdPath      string
	hasher       Hasher
	validator    PRDValidator
	flushRetries int

	// Seams for tests and backoff shaping.
	writeTasks func(path string, data []byte) error
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() float64
	now        func() time.Time

	mu       sync.Mutex
	current  *State
	initHash string
	dirty    bool
	gen      uint64
	pending  map[string]backlog.Status

	// flushMu serializes flushes: at most one is in flight per session.
	flushMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store) error

// WithHasher overrides the PRD hasher (default: SHA-256 of file contents).
func WithHasher(h Hasher) Option {
	return func(s *Store) error {
		if h == nil {
			return errors.New("hasher cannot be nil")
		}
		s.hasher = h
		return nil
	}
}

// WithValidator sets the PRD validator consulted during Initialize. Without
// one, initialization skips semantic PRD validation.
func WithValidator(v PRDValidator) Option {
	return func(s *Store) error {
		s.validator = v
		return nil
	}
}

// WithFlushRetries sets the maximum flush retry count. Values are clamped to
// 0..10; zero means a single attempt with no retry.
func WithFlushRetries(n int) Option {
	return func(s *Store) error {
		if n < 0 {
			n = 0
		}
		if n > maxFlushRetries {
			n = maxFlushRetries
		}
		s.flushRetries = n
		return nil
	}
}

// New creates a Store for the given plan directory and PRD path. Nothing is
// touched on disk until Initialize.
func New(planDir, prdPath string, opts ...Option) (*Store, error) {
	if planDir == "" {
		return nil, errors.New("plan directory is required")
	}
	if prdPath == "" {
		return nil, errors.New("PRD path is required")
	}
	s := &Store{
		planDir:      planDir,
		prdPath:      prdPath,
		hasher:       SHA256Hasher{},
		flushRetries: defaultFlushRetries,
		writeTasks:   atomicWriteFile,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		jitter:  func() float64 { return 0.5 + rand.Float64() },
		now:     time.Now,
		pending: make(map[string]backlog.Status),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return s, nil
}

// Initialize validates and hashes the PRD, then either loads the existing
// session whose hash prefix matches or creates the next one. Returns the
// active session state.
func (s *Store) Initialize(ctx context.Context) (*State, error) {
	log := clog.FromContext(ctx)

	if _, err := os.Stat(s.prdPath); err != nil {
		return nil, &FileError{Path: s.prdPath, Op: "stat", Code: codeOf(err), Err: err}
	}

	if s.validator != nil {
		report, err := s.validator.Validate(ctx, s.prdPath)
		if err != nil {
			return nil, fmt.Errorf("validating PRD: %w", err)
		}
		if crit := report.CriticalIssues(); len(crit) > 0 {
			return nil, &backlog.InvalidInputError{
				Reason: fmt.Sprintf("PRD validation found %d critical issue(s): %s", len(crit), crit[0].Message),
			}
		}
	}

	hash, err := s.hasher.HashPRD(s.prdPath)
	if err != nil {
		return nil, fmt.Errorf("hashing PRD: %w", err)
	}
	if len(hash) < hashPrefixLen {
		return nil, fmt.Errorf("hasher returned %d characters, need at least %d", len(hash), hashPrefixLen)
	}

	if err := os.MkdirAll(s.planDir, 0o755); err != nil {
		return nil, &FileError{Path: s.planDir, Op: "mkdir", Code: codeOf(err), Err: err}
	}

	// Reuse an existing session for this PRD content if one exists.
	if path := s.findSessionDir(ctx, hash[:hashPrefixLen]); path != "" {
		state, err := LoadSession(ctx, path)
		if err != nil {
			return nil, err
		}
		s.adopt(state, hash)
		log.With("session", state.Metadata.ID).Info("Resumed existing session")
		return state, nil
	}

	seq := s.nextSequence(ctx)
	id := formatSessionID(seq, hash)
	dir := filepath.Join(s.planDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FileError{Path: dir, Op: "mkdir", Code: codeOf(err), Err: err}
	}

	prd, err := os.ReadFile(s.prdPath)
	if err != nil {
		return nil, &FileError{Path: s.prdPath, Op: "read", Code: codeOf(err), Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFileName), prd, 0o644); err != nil {
		return nil, &FileError{Path: filepath.Join(dir, snapshotFileName), Op: "write", Code: codeOf(err), Err: err}
	}

	registry := &backlog.Backlog{Backlog: []*backlog.Phase{}}
	data, err := registry.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding empty registry: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, tasksFileName), data); err != nil {
		return nil, &FileError{Path: filepath.Join(dir, tasksFileName), Op: "write", Code: codeOf(err), Err: err}
	}

	fm := parseFrontMatter(string(prd))
	state := &State{
		Metadata: Metadata{
			ID:         id,
			Hash:       hash[:hashPrefixLen],
			Path:       dir,
			CreatedAt:  s.now(),
			PRDTitle:   fm.Title,
			PRDVersion: fm.Version,
		},
		PRDSnapshot:  string(prd),
		TaskRegistry: registry,
	}
	s.adopt(state, hash)
	log.With("session", id).With("sequence", seq).Info("Created new session")
	return state, nil
}

// adopt installs a loaded or created state as the current session.
func (s *Store) adopt(state *State, fullHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = state
	s.initHash = fullHash[:hashPrefixLen]
	s.dirty = false
	s.pending = make(map[string]backlog.Status)
}

// findSessionDir returns the path of the session directory whose hash prefix
// matches, or "".
func (s *Store) findSessionDir(ctx context.Context, hashPrefix string) string {
	entries, err := os.ReadDir(s.planDir)
	if err != nil {
		clog.FromContext(ctx).With("dir", s.planDir).With("error", err.Error()).
			Warn("Could not scan plan directory")
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, hash, ok := parseSessionDir(e.Name()); ok && hash == hashPrefix {
			return filepath.Join(s.planDir, e.Name())
		}
	}
	return ""
}

// nextSequence allocates max(existing)+1, or 1 for an empty plan directory.
func (s *Store) nextSequence(ctx context.Context) int {
	entries, err := os.ReadDir(s.planDir)
	if err != nil {
		clog.FromContext(ctx).With("dir", s.planDir).With("error", err.Error()).
			Warn("Could not scan plan directory for sequence allocation")
		return 1
	}
	maxSeq := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if seq, _, ok := parseSessionDir(e.Name()); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq + 1
}

// LoadSession reconstructs session state from a session directory.
func LoadSession(ctx context.Context, path string) (*State, error) {
	name := filepath.Base(path)
	_, hash, ok := parseSessionDir(name)
	if !ok {
		return nil, fmt.Errorf("%q is not a session directory name", name)
	}

	data, err := os.ReadFile(filepath.Join(path, tasksFileName))
	if err != nil {
		return nil, &FileError{Path: filepath.Join(path, tasksFileName), Op: "read", Code: codeOf(err), Err: err}
	}
	registry, err := backlog.Decode(data)
	if err != nil {
		return nil, &backlog.InvalidInputError{Reason: fmt.Sprintf("persisted registry in %s: %v", name, err)}
	}
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("persisted registry in %s: %w", name, err)
	}

	prd, err := os.ReadFile(filepath.Join(path, snapshotFileName))
	if err != nil {
		return nil, &FileError{Path: filepath.Join(path, snapshotFileName), Op: "read", Code: codeOf(err), Err: err}
	}

	var parent string
	if data, err := os.ReadFile(filepath.Join(path, parentFileName)); err == nil {
		parent = string(data)
	}

	created := time.Time{}
	if info, err := os.Stat(path); err == nil {
		created = info.ModTime()
	}

	fm := parseFrontMatter(string(prd))
	return &State{
		Metadata: Metadata{
			ID:            name,
			Hash:          hash,
			Path:          path,
			CreatedAt:     created,
			ParentSession: parent,
			PRDTitle:      fm.Title,
			PRDVersion:    fm.Version,
		},
		PRDSnapshot:  string(prd),
		TaskRegistry: registry,
	}, nil
}

// Current returns the active session state, or nil before Initialize.
func (s *Store) Current() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Registry returns the in-memory task registry of the active session.
func (s *Store) Registry() (*backlog.Backlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoSession
	}
	return s.current.TaskRegistry, nil
}

// ItemStatus reads an item's current status from the in-memory registry.
func (s *Store) ItemStatus(id string) (backlog.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	it := s.current.TaskRegistry.Find(id)
	if it == nil {
		return "", false
	}
	return it.ItemStatus(), true
}

// SetCurrentItem records which item the scheduler is working on. Empty means
// none. This is in-memory state only; it is not persisted.
func (s *Store) SetCurrentItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.CurrentItemID = id
	}
}

// UpdateItemStatus applies a status change to the in-memory registry and
// records it in the pending-update log. Nothing is written to disk until
// FlushUpdates.
func (s *Store) UpdateItemStatus(id string, status backlog.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if !s.current.TaskRegistry.UpdateStatus(id, status) {
		return fmt.Errorf("unknown item %q", id)
	}
	s.dirty = true
	s.gen++
	s.pending[id] = status
	return nil
}

// Dirty reports whether unflushed updates exist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// PendingCount returns the number of items with unflushed status changes.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SaveBacklog replaces the active session's registry and persists it
// immediately, bypassing the batch path.
func (s *Store) SaveBacklog(ctx context.Context, b *backlog.Backlog) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.current.TaskRegistry = b
	path := filepath.Join(s.current.Metadata.Path, tasksFileName)
	data, err := b.Encode()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := atomicWriteFile(path, data); err != nil {
		return &FileError{Path: path, Op: "write", Code: codeOf(err), Err: err}
	}
	clog.FromContext(ctx).With("items", len(b.Subtasks())).Debug("Saved backlog")
	return nil
}

// LoadBacklog reads the registry straight from the active session's disk
// state, validating it on the way in.
func (s *Store) LoadBacklog(_ context.Context) (*backlog.Backlog, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	path := filepath.Join(s.current.Metadata.Path, tasksFileName)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Op: "read", Code: codeOf(err), Err: err}
	}
	b, err := backlog.Decode(data)
	if err != nil {
		return nil, &backlog.InvalidInputError{Reason: fmt.Sprintf("persisted registry: %v", err)}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// HasSessionChanged compares the PRD hash cached at Initialize against the
// current session's hash. After CreateDeltaSession swaps sessions this
// reports true.
func (s *Store) HasSessionChanged() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false, ErrNoSession
	}
	return s.current.Metadata.Hash != s.initHash, nil
}
