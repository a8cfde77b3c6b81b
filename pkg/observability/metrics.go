// Copyright 2025 Pipelex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the engine records against.
// A nil *Metrics is safe to call methods on (all methods are no-ops),
// matching the reference codebase's pattern of guarding every recorder
// method with a nil receiver check.
type Metrics struct {
	config   *Config
	registry *prometheus.Registry

	stageRuns        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	stageCacheHits   *prometheus.CounterVec
	stageCacheMisses *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec
	idempotencyHits  *prometheus.CounterVec

	dryRunCacheHits   prometheus.Counter
	dryRunCacheMisses prometheus.Counter

	escalations *prometheus.CounterVec

	hookDenials  *prometheus.CounterVec
	hookTimeouts *prometheus.CounterVec
}

// NewMetrics builds a Metrics from cfg, or returns (nil, nil) when
// disabled — every recorder method tolerates a nil receiver, so callers
// never need to branch on cfg.Enabled themselves.
func NewMetrics(cfg *Config) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{config: cfg, registry: prometheus.NewRegistry()}
	m.initStageMetrics()
	m.initToolMetrics()
	m.initDryRunMetrics()
	m.initEscalationMetrics()
	m.initHookMetrics()
	return m, nil
}

func (m *Metrics) initStageMetrics() {
	m.stageRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "stage", Name: "runs_total",
		Help: "Total number of stage executions",
	}, []string{"stage", "prompt"})

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.config.Namespace, Subsystem: "stage", Name: "duration_seconds",
		Help:    "Stage execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"stage", "prompt"})

	m.stageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "stage", Name: "errors_total",
		Help: "Total number of failed stage executions",
	}, []string{"stage", "prompt"})

	m.stageCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "stage_cache", Name: "hits_total",
		Help: "Total number of stage output cache hits",
	}, []string{"stage"})

	m.stageCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "stage_cache", Name: "misses_total",
		Help: "Total number of stage output cache misses",
	}, []string{"stage", "reason"})

	m.registry.MustRegister(m.stageRuns, m.stageDuration, m.stageErrors, m.stageCacheHits, m.stageCacheMisses)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool invocations",
	}, []string{"tool"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.config.Namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"tool"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of failed tool invocations",
	}, []string{"tool"})

	m.idempotencyHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "idempotency", Name: "replays_total",
		Help: "Total number of tool calls served from the idempotency store",
	}, []string{"tool"})

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors, m.idempotencyHits)
}

func (m *Metrics) initDryRunMetrics() {
	m.dryRunCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "dry_run_cache", Name: "hits_total",
		Help: "Total number of dry-run cache entries consumed",
	})
	m.dryRunCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "dry_run_cache", Name: "misses_total",
		Help: "Total number of dry-run cache lookups that missed",
	})
	m.registry.MustRegister(m.dryRunCacheHits, m.dryRunCacheMisses)
}

func (m *Metrics) initEscalationMetrics() {
	m.escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "escalation", Name: "triggered_total",
		Help: "Total number of escalation signals that triggered review",
	}, []string{"risk_level", "decision"})
	m.registry.MustRegister(m.escalations)
}

func (m *Metrics) initHookMetrics() {
	m.hookDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "hook", Name: "denials_total",
		Help: "Total number of PreToolUse hook denials",
	}, []string{"tool"})
	m.hookTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.config.Namespace, Subsystem: "hook", Name: "timeouts_total",
		Help: "Total number of hook executions that exceeded their timeout",
	}, []string{"event"})
	m.registry.MustRegister(m.hookDenials, m.hookTimeouts)
}

// RecordStageRun records one completed stage execution.
func (m *Metrics) RecordStageRun(stageName, prompt string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stageName, prompt).Inc()
	m.stageDuration.WithLabelValues(stageName, prompt).Observe(duration.Seconds())
	if !success {
		m.stageErrors.WithLabelValues(stageName, prompt).Inc()
	}
}

// RecordStageCacheHit records a stage output cache hit.
func (m *Metrics) RecordStageCacheHit(stageName string) {
	if m == nil {
		return
	}
	m.stageCacheHits.WithLabelValues(stageName).Inc()
}

// RecordStageCacheMiss records a stage output cache miss with its reason
// (no_entry, expired, inputs_changed, file_dep_changed).
func (m *Metrics) RecordStageCacheMiss(stageName, reason string) {
	if m == nil {
		return
	}
	m.stageCacheMisses.WithLabelValues(stageName, reason).Inc()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration, err bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	if err {
		m.toolErrors.WithLabelValues(toolName).Inc()
	}
}

// RecordIdempotencyReplay records a tool call served from the
// idempotency store instead of re-invoking the underlying tool.
func (m *Metrics) RecordIdempotencyReplay(toolName string) {
	if m == nil {
		return
	}
	m.idempotencyHits.WithLabelValues(toolName).Inc()
}

// RecordDryRunCacheHit records a dry-run cache entry being consumed.
func (m *Metrics) RecordDryRunCacheHit() {
	if m == nil {
		return
	}
	m.dryRunCacheHits.Inc()
}

// RecordDryRunCacheMiss records a dry-run cache lookup miss.
func (m *Metrics) RecordDryRunCacheMiss() {
	if m == nil {
		return
	}
	m.dryRunCacheMisses.Inc()
}

// RecordEscalation records an escalation signal being triggered and the
// handler's resulting decision (abort, proceed, modify).
func (m *Metrics) RecordEscalation(riskLevel, decision string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(riskLevel, decision).Inc()
}

// RecordHookDenial records a PreToolUse hook denying a tool call.
func (m *Metrics) RecordHookDenial(toolName string) {
	if m == nil {
		return
	}
	m.hookDenials.WithLabelValues(toolName).Inc()
}

// RecordHookTimeout records a hook execution that exceeded its timeout.
func (m *Metrics) RecordHookTimeout(event string) {
	if m == nil {
		return
	}
	m.hookTimeouts.WithLabelValues(event).Inc()
}

// Handler returns an HTTP handler serving the Prometheus exposition
// format, or a 503 stub when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry, e.g. for tests
// that want to scrape it directly.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
