/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskdriver_session_flushes_total",
		Help: "Total number of successful registry flushes",
	})

	flushRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskdriver_session_flush_retries_total",
		Help: "Total number of flush attempts retried on transient errors",
	})

	flushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskdriver_session_flush_failures_total",
		Help: "Total number of flushes that exhausted retries or hit non-retryable errors",
	})
)
