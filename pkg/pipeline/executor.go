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

// Package pipeline implements the Pipeline Executor (spec §4.13): it
// validates, schedules, and runs a CommandDefinition's stage list against
// one ExecutionContext, honoring required/conditional/parallel semantics
// and the interactive clarifying-question protocol.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/errs"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/logger"
	"github.com/pipelex/pipelex/pkg/scheduler"
	"github.com/pipelex/pipelex/pkg/stage"
	"github.com/pipelex/pipelex/pkg/tool"
	"github.com/pipelex/pipelex/pkg/validator"
	"github.com/pipelex/pipelex/pkg/variables"
)

// QAHandler is the injected Q&A collaborator consulted when an
// interactive run's stage outputs carry clarifying_questions (spec §4.13
// step 5, last bullet).
type QAHandler interface {
	Ask(ctx context.Context, questions []string) map[string]any
}

// Result is the assembled outcome of one pipeline run (spec §4.13 step
// 7).
type Result struct {
	Success    bool
	Outputs    map[string]any
	Stages     []execctx.StageOutput
	DurationMs int64
	Error      string
}

// Options configures one Run call. StageOptionsFor lets the caller
// customize per-stage behavior (model override, cache, validators) by
// stage name; when it is nil every stage gets zero-value Options. Router
// is always set from Options.Router.
type Options struct {
	Router          *tool.Router
	QA              QAHandler
	Approver        tool.Approver
	StageOptionsFor func(stageName string) stage.Options
}

// Run executes the full §4.13 algorithm for cmd against ec.
func Run(ctx context.Context, cmd *document.CommandDefinition, ec *execctx.ExecutionContext, opts Options) Result {
	start := time.Now()
	log := logger.Component("pipeline")

	// Step 1: reset per-command tool-execution state.
	if opts.Router != nil {
		rt := opts.Router.Runtime()
		rt.ReadFiles = make(map[string]bool)
		rt.PendingWrites = nil
		opts.Router.SetDryRun(false)
	}

	// Step 2: validate.
	if msgs := validator.Validate(cmd.Pipeline); len(msgs) > 0 {
		return Result{Error: (&errs.ValidationError{Messages: msgs}).Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	// Step 3: pre-resolve static inputs (no $STAGE_* reference).
	preResolved := PreResolveStaticInputs(cmd.Pipeline, ec)

	// Step 4: schedule.
	groups := scheduler.Schedule(cmd.Pipeline)

	var requiredFailed bool
	var stopPipeline bool
	var runErr string

groupLoop:
	for _, g := range groups {
		if requiredFailed {
			break
		}

		eligible := make([]document.PipelineStage, 0, len(g.Stages))
		for _, s := range g.Stages {
			if s.Conditional != "" && !evaluateConditional(s.Conditional, ec) {
				continue
			}
			eligible = append(eligible, s)
		}
		if len(eligible) == 0 {
			continue
		}

		var outs []execctx.StageOutput
		if g.Parallel {
			// Parallel group: run concurrently, then record completions in
			// arrival order (spec §4.13 step 5, "Parallel group").
			outs = runParallel(ctx, eligible, ec, opts, preResolved)
			for _, out := range outs {
				ec.RecordStageCompletion(out)
			}
		} else {
			// Sequential group: each stage is recorded as it completes so
			// later stages' $STAGE_* references resolve immediately.
			outs = runSequential(ctx, eligible, ec, opts, preResolved, &requiredFailed, &runErr)
		}

		for _, out := range outs {
			if out.StopPipeline() {
				stopPipeline = true
			}
			if !out.Success {
				for _, s := range eligible {
					if s.Stage == out.Stage && s.IsRequired() {
						requiredFailed = true
						runErr = out.Error
					}
				}
			}
		}

		maybeHandleInteractive(ctx, outs, ec, opts)

		if stopPipeline || requiredFailed {
			break groupLoop
		}
	}

	// Step 6: flush pending writes.
	if opts.Router != nil {
		approver := opts.Approver
		if approver == nil {
			approver = noopApprover{}
		}
		if err := opts.Router.FlushPendingWrites(ctx, approver); err != nil {
			log.Warn("flush pending writes failed", "error", err)
		}
	}

	// Step 7: assemble result.
	stages := ec.Stages()
	success := !requiredFailed
	for _, s := range stages {
		for _, ps := range cmd.Pipeline {
			if ps.Stage == s.Stage && ps.IsRequired() && !s.Success {
				success = false
			}
		}
	}

	return Result{
		Success:    success,
		Outputs:    ec.MergedOutputs(),
		Stages:     stages,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      runErr,
	}
}

func runSequential(ctx context.Context, stages []document.PipelineStage, ec *execctx.ExecutionContext, opts Options, preResolved map[string]map[string]any, requiredFailed *bool, runErr *string) []execctx.StageOutput {
	var outs []execctx.StageOutput
	for i, s := range stages {
		stageOpts := stageOptionsFor(opts, s.Stage)
		if pre, ok := preResolved[s.Stage]; ok {
			stageOpts.PreResolvedInputs = pre
		}
		out := stage.Execute(ctx, s, ec, i, stageOpts)
		ec.RecordStageCompletion(out)
		outs = append(outs, out)
		if !out.Success && s.IsRequired() {
			*requiredFailed = true
			*runErr = out.Error
			return outs
		}
		if out.StopPipeline() {
			return outs
		}
	}
	return outs
}

// runParallel launches every stage concurrently and collects completions
// in arrival order (spec §4.13 step 5, "Parallel group" — "record
// completions in arrival order"), not declaration order.
func runParallel(ctx context.Context, stages []document.PipelineStage, ec *execctx.ExecutionContext, opts Options, preResolved map[string]map[string]any) []execctx.StageOutput {
	completions := make(chan execctx.StageOutput, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range stages {
		i, s := i, s
		g.Go(func() error {
			stageOpts := stageOptionsFor(opts, s.Stage)
			if pre, ok := preResolved[s.Stage]; ok {
				stageOpts.PreResolvedInputs = pre
			}
			completions <- stage.Execute(gctx, s, ec, i, stageOpts)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(completions)
	}()

	outs := make([]execctx.StageOutput, 0, len(stages))
	for out := range completions {
		outs = append(outs, out)
	}
	return outs
}

func stageOptionsFor(opts Options, stageName string) stage.Options {
	if opts.StageOptionsFor != nil {
		so := opts.StageOptionsFor(stageName)
		so.Router = opts.Router
		return so
	}
	return stage.Options{Router: opts.Router}
}

// maybeHandleInteractive implements spec §4.13 step 5's last bullet: if
// the execution context is interactive and a stage's outputs carry
// clarifying_questions, prompt the user and merge answers under the
// synthetic "user_answers" stage.
func maybeHandleInteractive(ctx context.Context, outs []execctx.StageOutput, ec *execctx.ExecutionContext, opts Options) {
	if !ec.Interactive || opts.QA == nil {
		return
	}
	for _, out := range outs {
		raw, ok := out.Outputs["clarifying_questions"]
		if !ok {
			continue
		}
		questions := toStringSlice(raw)
		if len(questions) == 0 {
			continue
		}
		answers := opts.QA.Ask(ctx, questions)
		if answers == nil {
			continue
		}
		ec.RecordStageCompletion(execctx.StageOutput{
			Stage:   "user_answers",
			Success: true,
			Outputs: answers,
		})
	}
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// PreResolveStaticInputs resolves every stage's inputs that contain no
// $STAGE_* reference ahead of time, pre-reading file-like inputs'
// contents. Resolution failure demotes a stage back to on-demand
// resolution rather than raising a hard error (spec §4.13 step 3). It is
// exported so the Execution Strategy Selector's Dry-Run strategy (spec
// §4.14) can reuse it for its own static-input pre-resolution step.
func PreResolveStaticInputs(stages []document.PipelineStage, ec *execctx.ExecutionContext) map[string]map[string]any {
	out := make(map[string]map[string]any, len(stages))
	for _, s := range stages {
		if hasStageReference(s.Inputs) {
			continue
		}
		resolved, err := ec.Resolver.Resolve(s.Inputs)
		if err != nil {
			continue
		}
		m, ok := resolved.(map[string]any)
		if !ok {
			continue
		}
		out[s.Stage] = m
	}
	return out
}

func hasStageReference(inputs map[string]any) bool {
	for _, v := range inputs {
		if containsStageRef(v) {
			return true
		}
	}
	return false
}

func containsStageRef(v any) bool {
	switch t := v.(type) {
	case string:
		for _, ref := range variables.ExtractVariables(t) {
			if ref.Scope() == "STAGE" {
				return true
			}
		}
		return false
	case map[string]any:
		for _, item := range t {
			if containsStageRef(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range t {
			if containsStageRef(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evaluateConditional resolves cond and compares it to truthy; the
// literal strings "true"/"false" map directly (spec §4.13 step 5).
func evaluateConditional(cond string, ec *execctx.ExecutionContext) bool {
	resolved, err := ec.Resolver.Resolve(cond)
	if err != nil {
		return false
	}
	s, _ := resolved.(string)
	return s != "" && s != "false"
}

type noopApprover struct{}

func (noopApprover) Approve(context.Context, tool.PendingWrite) bool { return true }
