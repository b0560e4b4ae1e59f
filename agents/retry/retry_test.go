/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/taskdriver/agents/retry"
)

func testConfig() retry.Config {
	return retry.Config{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

// alwaysRetryable considers every error retryable.
func alwaysRetryable(err error) bool {
	return err != nil
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	result, err := retry.Do(context.Background(), testConfig(), "generate_plan", alwaysRetryable, func() (string, error) {
		attempts.Add(1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want %q", result, "ok")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDoRecoversAfterRetries(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	result, err := retry.Do(context.Background(), testConfig(), "generate_plan", alwaysRetryable, func() (string, error) {
		if attempts.Add(1) < 3 {
			return "", errors.New("429 RESOURCE_EXHAUSTED")
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("result = %q, want %q", result, "recovered")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	cause := errors.New("quota exceeded")
	_, err := retry.Do(context.Background(), testConfig(), "generate_plan", alwaysRetryable, func() (string, error) {
		attempts.Add(1)
		return "", cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
	if !strings.Contains(err.Error(), "generate_plan failed after 3 retries") {
		t.Errorf("err = %v, want operation and retry count", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Fatalf("attempts = %d, want 4 (initial + 3 retries)", got)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	cause := errors.New("invalid request")
	_, err := retry.Do(context.Background(), testConfig(), "generate_plan", func(error) bool { return false }, func() (string, error) {
		attempts.Add(1)
		return "", cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the original error unwrapped", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDoZeroRetriesSingleAttempt(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxRetries = 0
	var attempts atomic.Int32
	_, err := retry.Do(context.Background(), cfg, "execute_subtask", alwaysRetryable, func() (string, error) {
		attempts.Add(1)
		return "", errors.New("503 overloaded")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want exactly 1 with MaxRetries=0", got)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BaseBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := retry.Do(ctx, cfg, "generate_plan", alwaysRetryable, func() (string, error) {
		return "", errors.New("429")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := retry.DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := retry.Config{MaxRetries: -1}
	if err := bad.Validate(); err == nil {
		t.Error("negative MaxRetries accepted")
	}
}
