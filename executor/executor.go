/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/backlog/depgraph"
	"chainguard.dev/taskdriver/metrics"
	"chainguard.dev/taskdriver/research"
	"chainguard.dev/taskdriver/session"
	"github.com/chainguard-dev/clog"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"
)

const (
	// defaultResourceThreshold is the memory-usage fraction above which new
	// launches wait.
	defaultResourceThreshold = 0.9
	// backpressureSoftBound caps how long a launch waits on memory pressure
	// before proceeding anyway.
	backpressureSoftBound = 60 * time.Second
	backpressurePoll      = time.Second

	defaultPRPGenerationLimit = 3
)

// Config tunes a run. The zero value is not runnable: MaxConcurrency must be
// at least 1.
type Config struct {
	// Enabled selects concurrent execution. When false the engine still
	// honors dependency order but runs one subtask at a time.
	Enabled bool
	// MaxConcurrency bounds simultaneously executing subtasks.
	MaxConcurrency int
	// PRPGenerationLimit caps how many upcoming subtasks have plans
	// prefetched per batch. Zero means the default of 3.
	PRPGenerationLimit int
	// ResourceThreshold is the process-memory fraction (0,1] above which
	// launches are held back. Zero means the default of 0.9.
	ResourceThreshold float64
}

// Option configures an Engine.
type Option func(*Engine) error

// WithResearchQueue gives the engine a research queue to prefetch plans into
// ahead of execution. Without one, plan generation is entirely the subtask
// executor's concern.
func WithResearchQueue(q *research.Queue) Option {
	return func(e *Engine) error {
		e.research = q
		return nil
	}
}

// WithMetrics overrides the engine's metric instruments.
func WithMetrics(m *metrics.Execution) Option {
	return func(e *Engine) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		e.metrics = m
		return nil
	}
}

// Engine executes subtasks in dependency-ordered batches against a session
// store.
type Engine struct {
	store    *session.Store
	exec     SubtaskExecutor
	cfg      Config
	research *research.Queue
	metrics  *metrics.Execution

	// Seams for tests.
	memUsage func() (float64, error)
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// New creates an Engine. Config is validated at Run, not here, so a
// misconfigured engine is constructible but fails fast on first use.
func New(store *session.Store, exec SubtaskExecutor, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if exec == nil {
		return nil, errors.New("subtask executor is required")
	}
	e := &Engine{
		store:    store,
		exec:     exec,
		cfg:      cfg,
		metrics:  metrics.NewExecution("chainguard.taskdriver.executor"),
		memUsage: processMemoryFraction,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return e, nil
}

// processMemoryFraction reports system memory usage as a fraction of total.
// Errors make the backpressure gate pass: the guard is soft.
func processMemoryFraction() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

// Run executes the given subtasks to quiescence: batches of runnable work
// until no Planned subtask remains. Subtasks already Complete, Failed, or
// Obsolete are skipped untouched. Per-subtask failures are recorded as Failed
// status and never abort the run; only deadlock, lost session state, or
// cancellation do.
func (e *Engine) Run(ctx context.Context, subtasks []*backlog.Subtask) error {
	if e.cfg.MaxConcurrency <= 0 {
		return fmt.Errorf("invalid configuration: maxConcurrency must be at least 1, got %d", e.cfg.MaxConcurrency)
	}
	threshold := e.cfg.ResourceThreshold
	if threshold == 0 {
		threshold = defaultResourceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("invalid configuration: resourceThreshold %v outside (0,1]", threshold)
	}
	concurrency := int64(e.cfg.MaxConcurrency)
	if !e.cfg.Enabled {
		concurrency = 1
	}

	registry, err := e.store.Registry()
	if err != nil {
		return err
	}
	// Cyclic dependencies are invalid input, not a runtime deadlock.
	if err := depgraph.Validate(ctx, registry); err != nil {
		return err
	}
	log := clog.FromContext(ctx)

	for batchNum := 1; ; batchNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, remaining := e.selectBatch(subtasks)
		if len(remaining) == 0 && len(batch) == 0 {
			return nil
		}
		if len(batch) == 0 {
			return e.deadlock(ctx, registry, remaining)
		}

		e.prefetch(ctx, batch)

		start := e.now()
		sem := semaphore.NewWeighted(concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		failures := 0

		for _, st := range batch {
			if err := e.waitForMemory(ctx, threshold); err != nil {
				// Cancellation during backpressure: the batch formed so
				// far still barriers below.
				break
			}
			wg.Add(1)
			go func(st *backlog.Subtask) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)
				if !e.runOne(ctx, st, registry) {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}(st)
		}
		wg.Wait()

		if err := e.store.FlushUpdates(ctx); err != nil {
			return fmt.Errorf("persisting batch %d: %w", batchNum, err)
		}
		e.metrics.RecordBatch(ctx, len(batch), e.now().Sub(start))
		log.With("batch", batchNum).
			With("failure_count", failures).
			With("total", len(batch)).
			Info("Batch complete")

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// selectBatch partitions the Planned subtasks into those whose dependencies
// are all Complete (the batch, registry order) and the rest.
func (e *Engine) selectBatch(subtasks []*backlog.Subtask) (batch, remaining []*backlog.Subtask) {
	for _, st := range subtasks {
		status, ok := e.store.ItemStatus(st.ID)
		if !ok || status != backlog.StatusPlanned {
			continue
		}
		if e.depsComplete(st) {
			batch = append(batch, st)
		} else {
			remaining = append(remaining, st)
		}
	}
	return batch, remaining
}

func (e *Engine) depsComplete(st *backlog.Subtask) bool {
	for _, dep := range st.Dependencies {
		status, ok := e.store.ItemStatus(dep)
		if !ok || status != backlog.StatusComplete {
			return false
		}
	}
	return true
}

// deadlock flushes what it can, logs one record per blocked subtask, and
// fails the run.
func (e *Engine) deadlock(ctx context.Context, registry *backlog.Backlog, blocked []*backlog.Subtask) error {
	// Best effort: batch persistence is attempted before the failure
	// surfaces so completed work is not lost.
	if err := e.store.FlushUpdates(ctx); err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Flush before deadlock report failed")
	}

	log := clog.FromContext(ctx)
	derr := &DeadlockError{Blocked: make(map[string][]string, len(blocked))}
	for _, st := range blocked {
		deps := registry.BlockingDependencies(st)
		derr.Blocked[st.ID] = deps
		log.With("subtask", st.ID).
			With("blocked_on", deps).
			Error("Subtask cannot make progress")
	}
	e.metrics.RecordDeadlock(ctx, len(blocked))
	return derr
}

// prefetch hands the front of the batch to the research queue so plan
// generation overlaps execution.
func (e *Engine) prefetch(ctx context.Context, batch []*backlog.Subtask) {
	if e.research == nil {
		return
	}
	limit := e.cfg.PRPGenerationLimit
	if limit <= 0 {
		limit = defaultPRPGenerationLimit
	}
	for i, st := range batch {
		if i >= limit {
			return
		}
		if err := e.research.Enqueue(ctx, st); err != nil {
			clog.FromContext(ctx).With("subtask", st.ID).With("error", err.Error()).
				Warn("Plan prefetch failed")
		}
	}
}

// waitForMemory holds a launch while memory usage sits above the threshold.
// The wait is soft: after 60 seconds, or on any probe error, the launch
// proceeds.
func (e *Engine) waitForMemory(ctx context.Context, threshold float64) error {
	deadline := e.now().Add(backpressureSoftBound)
	for {
		usage, err := e.memUsage()
		if err != nil || usage <= threshold {
			return nil
		}
		if !e.now().Before(deadline) {
			clog.FromContext(ctx).With("usage", usage).With("threshold", threshold).
				Warn("Memory pressure wait exceeded soft bound, proceeding")
			return nil
		}
		if err := e.sleep(ctx, backpressurePoll); err != nil {
			return err
		}
	}
}

// runOne executes a single subtask, translating the outcome into a status
// transition. Nothing a subtask does escapes this scope.
func (e *Engine) runOne(ctx context.Context, st *backlog.Subtask, registry *backlog.Backlog) (succeeded bool) {
	log := clog.FromContext(ctx).With("subtask", st.ID)
	if err := e.store.UpdateItemStatus(st.ID, backlog.StatusImplementing); err != nil {
		log.With("error", err.Error()).Error("Could not mark subtask Implementing")
		return false
	}

	res, err := e.safeExecute(ctx, st, registry)
	success := err == nil && res != nil && res.Success
	status := backlog.StatusComplete
	if success {
		log.With("reason", "Success").Info("Subtask complete")
	} else {
		status = backlog.StatusFailed
		log.With("error", failureMessage(res, err)).Warn("Subtask failed")
	}
	if uerr := e.store.UpdateItemStatus(st.ID, status); uerr != nil {
		log.With("error", uerr.Error()).Error("Could not record subtask outcome")
		success = false
	}
	e.metrics.RecordSubtask(ctx, st.ID, success)
	return success
}

// safeExecute invokes the external executor, converting panics into errors so
// a misbehaving agent cannot take down the batch. The call is shielded from
// caller cancellation: once a subtask is in flight it runs to completion and
// its result is recorded.
func (e *Engine) safeExecute(ctx context.Context, st *backlog.Subtask, registry *backlog.Backlog) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("subtask executor panicked: %v", r)
		}
	}()
	return e.exec.Execute(context.WithoutCancel(ctx), st, registry)
}

// failureMessage extracts the human-readable failure cause, preferring the
// thrown error over a reported one.
func failureMessage(res *Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res == nil:
		return "executor returned no result"
	case res.Error != "":
		return res.Error
	default:
		return "executor reported failure without a message"
	}
}
