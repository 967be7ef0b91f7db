// Copyright 2021 The reqflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus metrics about descriptor
// executions by way of engine hooks.
//
// Create a Hook with New, install it into the engine's hook group, and
// expose the registry as usual:
//
//	reg := prometheus.NewRegistry()
//	hooks := &reqflow.HookGroup{}
//	metrics.New(reg).Install(hooks)
//	eng := &reqflow.Engine{Hooks: hooks}
package metrics

import (
	"github.com/gogama/reqflow"
	"github.com/gogama/reqflow/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "reqflow"

// A Hook records metrics about the executions it observes. All its
// methods are safe for concurrent use.
type Hook struct {
	attempts   *prometheus.CounterVec
	timeouts   *prometheus.CounterVec
	executions *prometheus.CounterVec
	retries    *prometheus.HistogramVec
	latency    *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
}

// New creates a Hook whose metrics are registered with reg. If reg is
// nil, the metrics are created but not registered.
//
// New panics if the metrics are already registered with reg.
func New(reg prometheus.Registerer) *Hook {
	f := promauto.With(reg)
	return &Hook{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "attempts_total",
				Help:      "Total request attempts by method and error kind.",
			},
			[]string{"method", "kind"},
		),
		timeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "attempt_timeouts_total",
				Help:      "Total request attempts which timed out, by method.",
			},
			[]string{"method"},
		),
		executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "executions_total",
				Help:      "Total finished descriptor executions by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		retries: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "execution_retries",
				Help:      "Retries performed per finished descriptor execution.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
			[]string{"method"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "attempt_latency_seconds",
				Help:      "Latency of request attempts sent to the network.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of finished descriptor executions, retry waits included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
	}
}

// Install adds the hook to the AfterAttemptTimeout, AfterAttempt and
// AfterExecutionEnd chains of g.
func (h *Hook) Install(g *reqflow.HookGroup) {
	g.PushBack(reqflow.AfterAttemptTimeout, h)
	g.PushBack(reqflow.AfterAttempt, h)
	g.PushBack(reqflow.AfterExecutionEnd, h)
}

// RunHook implements reqflow.Hook.
func (h *Hook) RunHook(ph reqflow.Phase, e *request.Execution) {
	method := method(e)
	switch ph {
	case reqflow.AfterAttemptTimeout:
		h.timeouts.WithLabelValues(method).Inc()
	case reqflow.AfterAttempt:
		h.attempts.WithLabelValues(method, e.Kind().String()).Inc()
		if !e.FromCache {
			h.latency.WithLabelValues(method).Observe(e.Latency.Seconds())
		}
	case reqflow.AfterExecutionEnd:
		o := outcome(e)
		h.executions.WithLabelValues(method, o).Inc()
		h.retries.WithLabelValues(method).Observe(float64(e.RetryCount))
		h.duration.WithLabelValues(method, o).Observe(e.Duration().Seconds())
	}
}

func method(e *request.Execution) string {
	if e.Plan == nil {
		return ""
	}
	return string(e.Plan.Method)
}

func outcome(e *request.Execution) string {
	if e.Err == nil {
		return "succeeded"
	}
	return "failed"
}
