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

// Package observability wraps the engine's Prometheus metrics and
// OpenTelemetry tracing behind a single Recorder, constructed once per
// process and threaded through stage/tool/cache code as an optional
// dependency (spec.md's Non-goals exclude logging *sinks*, not in-process
// instrumentation of the engine itself).
package observability

// Config controls whether metrics/tracing are collected and how they are
// labeled.
type Config struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Namespace    string  `yaml:"namespace" mapstructure:"namespace"`
	ServiceName  string  `yaml:"service_name" mapstructure:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// SetDefaults fills zero-valued fields with the engine's defaults.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "pipelex"
	}
	if c.ServiceName == "" {
		c.ServiceName = "pipelex"
	}
	if c.SamplingRate <= 0 {
		c.SamplingRate = 1.0
	}
}
