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
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recorder is the single observability dependency threaded through the
// engine's flat Services graph (design note: avoid cyclic manager
// back-pointers — every layer gets a *Recorder, never a reference back
// into the layer it instruments). A nil *Recorder is valid and makes
// every method a no-op, so callers can construct Services without it in
// tests.
type Recorder struct {
	metrics *Metrics
	tracer  trace.Tracer
}

// New builds a Recorder from cfg. Tracing and metrics share the single
// Enabled flag; both degrade to no-ops when disabled or when cfg is nil.
func New(cfg *Config) (*Recorder, error) {
	m, err := NewMetrics(cfg)
	if err != nil {
		return nil, err
	}
	tp := InitTracerProvider(cfg)
	return &Recorder{metrics: m, tracer: tp.Tracer("github.com/pipelex/pipelex")}, nil
}

// Metrics returns the underlying Metrics (safe even if r is nil).
func (r *Recorder) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// StartStageSpan starts a span wrapping one stage execution.
func (r *Recorder) StartStageSpan(ctx context.Context, stageName, prompt string) (context.Context, trace.Span) {
	if r == nil || r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, "stage."+stageName, trace.WithAttributes(
		attribute.String("stage.name", stageName),
		attribute.String("stage.prompt", prompt),
	))
}

// StartToolSpan starts a span wrapping one tool invocation.
func (r *Recorder) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	if r == nil || r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, "tool."+toolName, trace.WithAttributes(
		attribute.String("tool.name", toolName),
	))
}

// StartToolLoopIteration starts a child span for one tool-use loop
// iteration within a stage's span.
func (r *Recorder) StartToolLoopIteration(ctx context.Context, stageName string, iteration int) (context.Context, trace.Span) {
	if r == nil || r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, "stage.tool_loop_iteration", trace.WithAttributes(
		attribute.String("stage.name", stageName),
		attribute.Int("iteration", iteration),
	))
}
