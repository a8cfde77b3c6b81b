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

// Package execctx holds the ExecutionContext and StageOutput types (spec
// §3): the mutable record a Pipeline Executor owns for the duration of a
// single command run.
package execctx

import (
	"sync"

	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/variables"
)

// Isolation is the optional stage-subset descriptor used by the
// Isolation execution strategy (spec §4.14).
type Isolation struct {
	Stages       []string
	MockInputs   map[string]map[string]any
	ForceOptional bool
}

// SessionInfo identifies the run for idempotency scoping and resumption.
type SessionInfo struct {
	ID         string
	IsResumed  bool
}

// StageOutput is the result of one stage execution (spec §3).
type StageOutput struct {
	Stage      string
	Prompt     string
	Success    bool
	Outputs    map[string]any
	Error      string
	DurationMs int64
	Metadata   map[string]any
}

// StopPipeline reports whether this output's metadata requests a
// controlled early stop of the pipeline.
func (o StageOutput) StopPipeline() bool {
	if o.Metadata == nil {
		return false
	}
	v, _ := o.Metadata["stopPipeline"].(bool)
	return v
}

// ExecutionContext is owned by the Pipeline Executor for the duration of
// one run (spec §3). It exclusively owns the VariableResolver, the
// StageOutput list, and the completed-stage set; writes to those are
// serialized behind mu so parallel stage groups can safely record
// completions concurrently.
type ExecutionContext struct {
	CommandName    string
	Args           []string
	Flags          map[string]any
	AgentRole      string
	Model          string
	Mode           string
	Provider       llm.Provider
	KnowledgeFiles []string
	Isolation      *Isolation
	Interactive    bool
	AllowedTools   []string
	Session        SessionInfo

	Resolver *variables.Resolver

	mu        sync.Mutex
	stages    []StageOutput
	completed map[string]bool
	varCtx    *variables.Context
}

// New constructs an ExecutionContext with a fresh VariableResolver seeded
// from the given environment snapshot.
func New(commandName string, env map[string]string) *ExecutionContext {
	ctx := variables.NewContext(env)
	return &ExecutionContext{
		CommandName: commandName,
		Flags:       make(map[string]any),
		Resolver:    variables.New(ctx),
		completed:   make(map[string]bool),
		varCtx:      ctx,
	}
}

// VariableContext exposes the underlying variable context, e.g. so
// callers can seed positional args or session context before a run.
func (e *ExecutionContext) VariableContext() *variables.Context {
	return e.varCtx
}

// RecordStageCompletion appends a stage's output to the completed list,
// makes its outputs available under $STAGE_<name> for later stages, and
// marks the stage name complete. It is the only way ExecutionContext's
// stage state is mutated (spec §3, §5 shared-resource policy).
func (e *ExecutionContext) RecordStageCompletion(out StageOutput) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stages = append(e.stages, out)
	e.completed[out.Stage] = true
	if out.Outputs != nil {
		e.varCtx.AddStageOutputs(out.Stage, out.Outputs)
	} else {
		e.varCtx.AddStageOutputs(out.Stage, map[string]any{})
	}
}

// IsComplete reports whether a stage with the given name has already
// recorded a completion.
func (e *ExecutionContext) IsComplete(stage string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed[stage]
}

// Stages returns a copy of the ordered completed-stage list.
func (e *ExecutionContext) Stages() []StageOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StageOutput, len(e.stages))
	copy(out, e.stages)
	return out
}

// MergedOutputs shallow-merges the outputs of every successful completed
// stage, later stages overriding earlier ones on key collision.
func (e *ExecutionContext) MergedOutputs() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := make(map[string]any)
	for _, s := range e.stages {
		if !s.Success {
			continue
		}
		for k, v := range s.Outputs {
			merged[k] = v
		}
	}
	return merged
}
