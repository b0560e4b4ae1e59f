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
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/taskdriver/backlog"
	"github.com/google/go-cmp/cmp"
)

type genFunc func(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error)

func (f genFunc) GeneratePRP(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error) {
	return f(ctx, subtask)
}

func sub(id string) *backlog.Subtask {
	return &backlog.Subtask{ID: id, Title: "subtask " + id, Status: backlog.StatusPlanned, StoryPoints: 1}
}

func plan(id string) *backlog.PRPDocument {
	return &backlog.PRPDocument{TaskID: id, Objective: "do " + id}
}

// settle polls until cond holds or the deadline passes.
func settle(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestEnqueueGeneratesAndCaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int64
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		calls.Add(1)
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}
	got, err := q.WaitForPRP(ctx, "P1.M1.T1.S1")
	if err != nil {
		t.Fatalf("WaitForPRP() = %v", err)
	}
	if diff := cmp.Diff(plan("P1.M1.T1.S1"), got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	// A second enqueue of a researched subtask is a no-op.
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
	if cached, ok := q.GetPRP("P1.M1.T1.S1"); !ok || cached.TaskID != "P1.M1.T1.S1" {
		t.Errorf("GetPRP() = (%v, %v), want cached plan", cached, ok)
	}
}

func TestInFlightBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	release := make(chan struct{})
	var started atomic.Int64
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		started.Add(1)
		<-release
		return plan(st.ID), nil
	}), WithMaxInFlight(2))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 4; i++ {
		if err := q.Enqueue(ctx, sub(fmt.Sprintf("P1.M1.T1.S%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	settle(t, func() bool { return started.Load() == 2 })

	stats := q.Stats()
	if stats.InFlight != 2 || stats.Queued != 2 {
		t.Errorf("Stats() = %+v, want 2 in flight and 2 queued", stats)
	}
	// The third subtask is researchable (queued) but must not have started.
	if !q.IsResearching("P1.M1.T1.S3") {
		t.Error("queued subtask not reported as researching")
	}

	close(release)
	settle(t, func() bool { return q.Stats().Cached == 4 })
	stats = q.Stats()
	if stats.Completed != 4 || stats.InFlight != 0 || stats.Queued != 0 {
		t.Errorf("Stats() after drain = %+v", stats)
	}
}

func TestWaitWhileStillQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := make(chan struct{})
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		if st.ID == "P1.M1.T1.S1" {
			<-first
		}
		return plan(st.ID), nil
	}), WithMaxInFlight(1))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S2")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got *backlog.PRPDocument
	var waitErr error
	go func() {
		defer wg.Done()
		got, waitErr = q.WaitForPRP(ctx, "P1.M1.T1.S2")
	}()

	close(first)
	wg.Wait()
	if waitErr != nil {
		t.Fatalf("WaitForPRP() = %v", waitErr)
	}
	if got.TaskID != "P1.M1.T1.S2" {
		t.Errorf("plan for %q, want P1.M1.T1.S2", got.TaskID)
	}
}

func TestFailedResearchNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int64
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model overloaded")
		}
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err == nil {
		t.Fatal("WaitForPRP() succeeded, want generation failure")
	}
	if _, ok := q.GetPRP("P1.M1.T1.S1"); ok {
		t.Error("failed plan found in cache")
	}
	if q.IsResearching("P1.M1.T1.S1") {
		t.Error("failed subtask still reported as researching")
	}
	if stats := q.Stats(); stats.Failed != 1 {
		t.Errorf("Stats().Failed = %d, want 1", stats.Failed)
	}

	// Failure is retryable: a fresh enqueue generates again.
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err != nil {
		t.Fatalf("retry WaitForPRP() = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("generator called %d times, want 2", n)
	}
}

func TestWaitAfterFailureReturnsGenerationError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	genErr := errors.New("model overloaded")
	var calls atomic.Int64
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		if calls.Add(1) == 1 {
			return nil, genErr
		}
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	// Let generation fail before anyone waits, so the future is gone.
	settle(t, func() bool { return q.Stats().Failed == 1 })

	_, err = q.WaitForPRP(ctx, "P1.M1.T1.S1")
	if !errors.Is(err, genErr) {
		t.Fatalf("WaitForPRP() = %v, want the generation error", err)
	}
	if errors.Is(err, ErrNotQueued) {
		t.Errorf("WaitForPRP() = %v, want the failure rather than ErrNotQueued", err)
	}

	// Re-enqueueing clears the recorded failure and generates again.
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err != nil {
		t.Fatalf("retry WaitForPRP() = %v", err)
	}
}

func TestInvalidPlanRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cmd := "go test ./..."
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		return &backlog.PRPDocument{
			TaskID:    st.ID,
			Objective: "broken",
			ValidationGates: []backlog.ValidationGate{
				{Level: 2, Description: "manual check", Manual: true, Command: &cmd},
			},
		}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err == nil {
		t.Fatal("structurally invalid plan accepted")
	}
	if _, ok := q.GetPRP("P1.M1.T1.S1"); ok {
		t.Error("invalid plan found in cache")
	}
}

func TestWaitForPRPNotQueued(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(context.Background(), "P1.M1.T1.S1"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("WaitForPRP() = %v, want ErrNotQueued", err)
	}
}

func TestWaitForPRPContextCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		<-block
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(context.Background(), sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForPRP() = %v, want context.Canceled", err)
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int64
	q, err := NewQueue(genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		calls.Add(1)
		return plan(st.ID), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err != nil {
		t.Fatal(err)
	}

	q.ClearCache()
	if _, ok := q.GetPRP("P1.M1.T1.S1"); ok {
		t.Error("plan survived ClearCache")
	}
	if err := q.Enqueue(ctx, sub("P1.M1.T1.S1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitForPRP(ctx, "P1.M1.T1.S1"); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("generator called %d times after cache clear, want 2", n)
	}
}

func TestQueueOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewQueue(nil); err == nil {
		t.Error("NewQueue(nil) succeeded")
	}
	gen := genFunc(func(_ context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
		return plan(st.ID), nil
	})
	if _, err := NewQueue(gen, WithMaxInFlight(0)); err == nil {
		t.Error("WithMaxInFlight(0) accepted")
	}
}
