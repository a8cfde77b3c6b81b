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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = NewMetrics(&Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNilMetricsMethodsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStageRun("a", "p1", time.Millisecond, true)
		m.RecordStageCacheHit("a")
		m.RecordStageCacheMiss("a", "no_entry")
		m.RecordToolCall("write", time.Millisecond, false)
		m.RecordIdempotencyReplay("write")
		m.RecordDryRunCacheHit()
		m.RecordDryRunCacheMiss()
		m.RecordEscalation("high", "abort")
		m.RecordHookDenial("write")
		m.RecordHookTimeout("PreToolUse")
	})
	assert.Nil(t, m.Registry())
}

func TestNewMetricsEnabledRegistersCollectors(t *testing.T) {
	m, err := NewMetrics(&Config{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordStageRun("analyze", "spec.analyze", 10*time.Millisecond, true)
	m.RecordStageCacheHit("analyze")
	m.RecordToolCall("write", time.Millisecond, false)
	m.RecordEscalation("high", "abort")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecorderNilIsSafe(t *testing.T) {
	var r *Recorder
	assert.Nil(t, r.Metrics())
	ctx, span := r.StartStageSpan(context.Background(), "a", "p1")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestRecorderNewEnabled(t *testing.T) {
	r, err := New(&Config{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, r)

	ctx, span := r.StartStageSpan(context.Background(), "analyze", "spec.analyze")
	require.NotNil(t, span)
	span.End()

	ctx, span = r.StartToolSpan(ctx, "write")
	require.NotNil(t, span)
	span.End()

	_, span = r.StartToolLoopIteration(ctx, "analyze", 1)
	require.NotNil(t, span)
	span.End()

	assert.NotNil(t, r.Metrics())
}

func TestRecorderNewDisabled(t *testing.T) {
	r, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Nil(t, r.Metrics())
}
