/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package research

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chainguard.dev/taskdriver/backlog"
	"github.com/chainguard-dev/clog"
)

// defaultMaxInFlight bounds concurrent plan generation. Generation calls an
// LLM, so the bound is deliberately small.
const defaultMaxInFlight = 3

// ErrNotQueued is returned by WaitForPRP for a subtask that is neither
// queued, in flight, nor cached.
var ErrNotQueued = errors.New("subtask is not queued for research")

// PlanGenerator produces the execution plan for one subtask.
type PlanGenerator interface {
	GeneratePRP(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error)
}

// Stats is a point-in-time snapshot of queue accounting.
type Stats struct {
	Queued    int
	InFlight  int
	Cached    int
	Completed int
	Failed    int
}

// Option configures a Queue.
type Option func(*Queue) error

// WithMaxInFlight overrides how many plans may generate concurrently.
func WithMaxInFlight(n int) Option {
	return func(q *Queue) error {
		if n < 1 {
			return fmt.Errorf("max in-flight must be at least 1, got %d", n)
		}
		q.maxInFlight = n
		return nil
	}
}

// future resolves exactly once with a plan or an error. All waiters share it.
type future struct {
	done chan struct{}
	prp  *backlog.PRPDocument
	err  error
}

func (f *future) resolve(prp *backlog.PRPDocument, err error) {
	f.prp = prp
	f.err = err
	close(f.done)
}

// pendingItem is a queued subtask plus the context it was enqueued under.
type pendingItem struct {
	subtask *backlog.Subtask
	ctx     context.Context
}

// Queue is a bounded FIFO research pipeline. Enqueueing a subtask that is
// already queued, in flight, or cached is a no-op, which is what makes
// research at-most-once per subtask. Failed generation is never cached: the
// failure reaches every waiter and the subtask may be enqueued again.
type Queue struct {
	gen         PlanGenerator
	maxInFlight int

	mu       sync.Mutex
	pending  []pendingItem
	futures  map[string]*future
	inFlight map[string]bool
	cache    map[string]*backlog.PRPDocument
	// lastErr holds the most recent generation failure per subtask until it
	// is enqueued again, so late waiters see the real error.
	lastErr map[string]error

	completed int
	failed    int
}

// NewQueue creates a research queue over the given generator.
func NewQueue(gen PlanGenerator, opts ...Option) (*Queue, error) {
	if gen == nil {
		return nil, errors.New("plan generator is required")
	}
	q := &Queue{
		gen:         gen,
		maxInFlight: defaultMaxInFlight,
		futures:     make(map[string]*future),
		inFlight:    make(map[string]bool),
		cache:       make(map[string]*backlog.PRPDocument),
		lastErr:     make(map[string]error),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return q, nil
}

// Enqueue schedules research for a subtask. The call returns immediately;
// generation starts at once when an in-flight slot is free, otherwise the
// subtask waits in FIFO order. Duplicates of anything queued, in flight, or
// already cached are dropped.
func (q *Queue) Enqueue(ctx context.Context, subtask *backlog.Subtask) error {
	if subtask == nil {
		return errors.New("subtask is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	id := subtask.ID
	if _, ok := q.cache[id]; ok {
		return nil
	}
	if _, ok := q.futures[id]; ok {
		return nil
	}

	delete(q.lastErr, id)
	q.futures[id] = &future{done: make(chan struct{})}
	if len(q.inFlight) < q.maxInFlight {
		q.start(ctx, subtask)
	} else {
		q.pending = append(q.pending, pendingItem{subtask: subtask, ctx: ctx})
		clog.FromContext(ctx).With("subtask", id).
			With("queued", len(q.pending)).
			Debug("Research queued behind in-flight plans")
	}
	return nil
}

// start launches generation for a subtask. Caller holds q.mu.
func (q *Queue) start(ctx context.Context, subtask *backlog.Subtask) {
	q.inFlight[subtask.ID] = true
	go q.run(ctx, subtask)
}

func (q *Queue) run(ctx context.Context, subtask *backlog.Subtask) {
	log := clog.FromContext(ctx).With("subtask", subtask.ID)
	log.Debug("Generating execution plan")
	prp, err := q.gen.GeneratePRP(ctx, subtask)
	if err == nil && prp != nil {
		err = prp.Validate()
	}

	q.mu.Lock()
	delete(q.inFlight, subtask.ID)
	f := q.futures[subtask.ID]
	delete(q.futures, subtask.ID)
	if err != nil {
		q.failed++
		q.lastErr[subtask.ID] = err
		log.With("error", err.Error()).Warn("Plan generation failed")
	} else {
		q.cache[subtask.ID] = prp
		q.completed++
		log.Debug("Execution plan cached")
	}
	q.drainLocked()
	q.mu.Unlock()

	if f != nil {
		f.resolve(prp, err)
	}
}

// drainLocked starts queued items while in-flight slots remain. Caller holds
// q.mu.
func (q *Queue) drainLocked() {
	for len(q.pending) > 0 && len(q.inFlight) < q.maxInFlight {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.start(next.ctx, next.subtask)
	}
}

// IsResearching reports whether a subtask is queued or in flight.
func (q *Queue) IsResearching(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.futures[id]
	return ok
}

// GetPRP returns the cached plan for a subtask, if research has completed.
func (q *Queue) GetPRP(id string) (*backlog.PRPDocument, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prp, ok := q.cache[id]
	return prp, ok
}

// WaitForPRP blocks until the subtask's plan is ready, its generation fails,
// or the context ends. A cached plan returns immediately. When generation has
// already failed and the subtask was not re-enqueued, the recorded failure is
// returned; a subtask that was never enqueued fails with ErrNotQueued.
func (q *Queue) WaitForPRP(ctx context.Context, id string) (*backlog.PRPDocument, error) {
	q.mu.Lock()
	if prp, ok := q.cache[id]; ok {
		q.mu.Unlock()
		return prp, nil
	}
	f, ok := q.futures[id]
	if !ok {
		err, failed := q.lastErr[id]
		q.mu.Unlock()
		if failed {
			return nil, fmt.Errorf("researching %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		if f.err != nil {
			return nil, fmt.Errorf("researching %s: %w", id, f.err)
		}
		return f.prp, nil
	}
}

// Stats snapshots the queue's accounting.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    len(q.pending),
		InFlight:  len(q.inFlight),
		Cached:    len(q.cache),
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// ClearCache drops all cached plans. Queued and in-flight research is
// unaffected.
func (q *Queue) ClearCache() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache = make(map[string]*backlog.PRPDocument)
}
