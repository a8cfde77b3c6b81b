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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InitTracerProvider builds the process-wide TracerProvider. When cfg is
// disabled it returns the global no-op provider so every Start call
// downstream is free; no exporter is wired by default (the engine has no
// collector dependency), so spans are created, parented, and ended but
// not shipped anywhere on their own — a caller that wants export can
// attach a span processor to the returned provider before use.
func InitTracerProvider(cfg *Config) trace.TracerProvider {
	if cfg == nil || !cfg.Enabled {
		return otel.GetTracerProvider()
	}
	cfg.SetDefaults()

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns the named tracer from the process-wide provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
