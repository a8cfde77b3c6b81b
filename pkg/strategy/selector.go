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

// Package strategy implements the Execution Strategy Selector (spec
// §4.14): it picks one of four run strategies — Dry-Run, Isolation,
// Interactive, or the Default pipeline run — in fixed order, first match
// wins, and drives the Pipeline Executor accordingly.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/dryrun"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/logger"
	"github.com/pipelex/pipelex/pkg/observability"
	"github.com/pipelex/pipelex/pkg/pipeline"
	"github.com/pipelex/pipelex/pkg/stage"
	"github.com/pipelex/pipelex/pkg/tool"
	"github.com/pipelex/pipelex/pkg/validator"
)

// Flags carries the command-line switches the selector dispatches on
// (spec §4.14). ExecutionContext.Isolation is consulted directly rather
// than threaded through here, since it is a per-run context value, not a
// flag.
type Flags struct {
	DryRun      bool
	Interactive bool
}

// Options bundles what a strategy needs beyond the Pipeline Executor's
// own Options: the process-global Dry-Run Cache, the document loader
// (for dry-run preloading), and where to render a dry run's plan.
type Options struct {
	Pipeline pipeline.Options
	Cache    *dryrun.Cache
	Loader   stage.Loader
	Plan     io.Writer
	Recorder *observability.Recorder
}

// Run selects and executes one of the four strategies for cmd (spec
// §4.14).
func Run(ctx context.Context, cmd *document.CommandDefinition, ec *execctx.ExecutionContext, flags Flags, opts Options) pipeline.Result {
	switch {
	case flags.DryRun:
		return runDryRun(ctx, cmd, ec, opts)
	case ec.Isolation != nil:
		return runIsolation(ctx, cmd, ec, opts)
	case flags.Interactive:
		ec.Interactive = true
		return pipeline.Run(ctx, cmd, ec, opts.Pipeline)
	default:
		return runDefault(ctx, cmd, ec, opts)
	}
}

// runDryRun runs the full pipeline with every stage's Tool Router forced
// into simulate mode, renders the planned operations, pre-computes
// loader/resolution resources, and writes a DryRunCacheEntry for the
// next non-dry run of the same command to consume (spec §4.14 #1).
func runDryRun(ctx context.Context, cmd *document.CommandDefinition, ec *execctx.ExecutionContext, opts Options) pipeline.Result {
	log := logger.Component("strategy")

	dryOpts := opts.Pipeline
	base := dryOpts.StageOptionsFor
	dryOpts.StageOptionsFor = func(name string) stage.Options {
		so := stage.Options{}
		if base != nil {
			so = base(name)
		}
		so.IsDryRun = true
		return so
	}

	res := pipeline.Run(ctx, cmd, ec, dryOpts)
	renderPlan(opts.Plan, cmd, res)

	if opts.Cache == nil {
		return res
	}

	preResolved := pipeline.PreResolveStaticInputs(cmd.Pipeline, ec)
	validationMsgs := validator.Validate(cmd.Pipeline)

	preloadedPrompts := make(map[string]string, len(cmd.Pipeline))
	var preloadedAgent string
	if opts.Loader != nil {
		for _, s := range cmd.Pipeline {
			if _, ok := preloadedPrompts[s.Prompt]; ok {
				continue
			}
			if p, err := opts.Loader.LoadPrompt(s.Prompt); err == nil && p != nil {
				preloadedPrompts[s.Prompt] = p.Body
			}
		}
		if a, err := opts.Loader.LoadAgent(ec.AgentRole); err == nil && a != nil {
			preloadedAgent = a.Content
		}
	}

	precomputed := make(map[string]map[string]any, len(res.Stages))
	planned := make([]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		planned = append(planned, s.Stage)
		if s.Success {
			precomputed[s.Stage] = s.Outputs
		}
	}

	entry := dryrun.Entry{
		CommandName:        cmd.Name,
		CommandHash:        dryrun.CommandHash(cmd.Name, ec.Model, ec.AgentRole, cmd.Pipeline),
		PlannedStages:      planned,
		AnalysisOutputs:    res.Outputs,
		PrecomputedOutputs: precomputed,
		PreloadedPrompts:   preloadedPrompts,
		PreloadedAgent:     preloadedAgent,
		PreresolvedInputs:  preResolved,
		ResolvedArgs:       ec.Args,
		PipelineValidated:  len(validationMsgs) == 0,
	}
	key := dryrun.Key(cmd.Name, ec.Args, ec.Flags)
	opts.Cache.Put(key, entry)
	log.Info("dry-run cache entry written", "command", cmd.Name, "key", key, "stages", len(planned))

	return res
}

// renderPlan writes a human-readable summary of the planned operations
// (spec §4.14 #1: "diffs, intended shell commands, token estimates").
// Per-tool diffs and shell commands are surfaced as they occur by the
// Tool Router's Simulator; this renders the stage-level plan the Pipeline
// Executor produced on top of that.
func renderPlan(w io.Writer, cmd *document.CommandDefinition, res pipeline.Result) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "dry run plan for %q (%d stage(s))\n", cmd.Name, len(res.Stages))
	for _, s := range res.Stages {
		status := "ok"
		if !s.Success {
			status = "FAILED: " + s.Error
		}
		tokens := tokenEstimate(s.Outputs["usage"], s.Outputs)
		fmt.Fprintf(w, "  - stage=%s prompt=%s status=%s tokens~=%d\n", s.Stage, s.Prompt, status, tokens)
	}
}

// tokenEstimate prefers the provider-reported usage; if the stage
// reported none (zero-value or missing, e.g. a Provider that omits
// token counts), it falls back to tool.EstimateTokens over the stage's
// rendered outputs (spec §4.14 "token estimates").
func tokenEstimate(usage any, outputs map[string]any) int {
	if u, ok := usage.(llm.Usage); ok && (u.PromptTokens != 0 || u.CompletionTokens != 0) {
		return u.PromptTokens + u.CompletionTokens
	}
	body, err := json.Marshal(outputs)
	if err != nil {
		return 0
	}
	return tool.EstimateTokens(string(body))
}

// runIsolation runs only the stages named by ec.Isolation.Stages,
// optionally mocking their inputs and demoting required stages to
// optional (spec §4.14 #2).
func runIsolation(ctx context.Context, cmd *document.CommandDefinition, ec *execctx.ExecutionContext, opts Options) pipeline.Result {
	iso := ec.Isolation
	wanted := make(map[string]bool, len(iso.Stages))
	for _, name := range iso.Stages {
		wanted[name] = true
	}

	filtered := make([]document.PipelineStage, 0, len(cmd.Pipeline))
	for _, s := range cmd.Pipeline {
		composite := s.Stage + "." + s.Prompt
		if !wanted[s.Stage] && !wanted[composite] {
			continue
		}
		if iso.ForceOptional {
			optional := false
			s.Required = &optional
		}
		filtered = append(filtered, s)
	}

	reduced := *cmd
	reduced.Pipeline = filtered

	isoOpts := opts.Pipeline
	base := isoOpts.StageOptionsFor
	isoOpts.StageOptionsFor = func(name string) stage.Options {
		so := stage.Options{}
		if base != nil {
			so = base(name)
		}
		if mock, ok := iso.MockInputs[name]; ok {
			so.PreResolvedInputs = mock
		}
		return so
	}

	return pipeline.Run(ctx, &reduced, ec, isoOpts)
}

// runDefault looks up the Dry-Run Cache; on a hit it invalidates the
// entry (one-shot, handled by Cache.Get itself), injects the cached
// analysis outputs under the synthetic stage name "dry_run_cache",
// records every precomputed stage as already complete, pre-populates
// the loader's prompt/agent cache from the entry, and runs only the
// stages that were not precomputed. On a miss it runs the pipeline
// normally (spec §4.14 #4).
func runDefault(ctx context.Context, cmd *document.CommandDefinition, ec *execctx.ExecutionContext, opts Options) pipeline.Result {
	if opts.Cache == nil {
		return pipeline.Run(ctx, cmd, ec, opts.Pipeline)
	}

	key := dryrun.Key(cmd.Name, ec.Args, ec.Flags)
	hash := dryrun.CommandHash(cmd.Name, ec.Model, ec.AgentRole, cmd.Pipeline)
	entry, hit := opts.Cache.Get(key, hash)
	if !hit {
		opts.Recorder.Metrics().RecordDryRunCacheMiss()
		return pipeline.Run(ctx, cmd, ec, opts.Pipeline)
	}
	opts.Recorder.Metrics().RecordDryRunCacheHit()

	log := logger.Component("strategy")
	log.Info("dry-run cache hit", "command", cmd.Name, "key", key)

	ec.RecordStageCompletion(execctx.StageOutput{
		Stage:   "dry_run_cache",
		Success: true,
		Outputs: entry.AnalysisOutputs,
	})

	remaining := make([]document.PipelineStage, 0, len(cmd.Pipeline))
	for _, s := range cmd.Pipeline {
		out, ok := entry.PrecomputedOutputs[s.Stage]
		if !ok {
			remaining = append(remaining, s)
			continue
		}
		ec.RecordStageCompletion(execctx.StageOutput{
			Stage:      s.Stage,
			Prompt:     s.Prompt,
			Success:    true,
			Outputs:    out,
			DurationMs: 0,
			Metadata:   map[string]any{"fromDryRunCache": true},
		})
	}

	if len(remaining) == 0 {
		return pipeline.Result{Success: true, Outputs: ec.MergedOutputs(), Stages: ec.Stages()}
	}

	reduced := *cmd
	reduced.Pipeline = remaining

	cachedOpts := opts.Pipeline
	base := cachedOpts.StageOptionsFor
	cachedOpts.StageOptionsFor = func(name string) stage.Options {
		so := stage.Options{}
		if base != nil {
			so = base(name)
		}
		so.Loader = cachedLoader{inner: so.Loader, prompts: entry.PreloadedPrompts, agent: entry.PreloadedAgent}
		return so
	}

	return pipeline.Run(ctx, &reduced, ec, cachedOpts)
}

// cachedLoader serves prompt/agent reads from a DryRunCacheEntry's
// preloaded content before falling back to inner.
type cachedLoader struct {
	inner   stage.Loader
	prompts map[string]string
	agent   string
}

func (l cachedLoader) LoadAgent(name string) (*document.AgentDefinition, error) {
	if l.agent != "" {
		return &document.AgentDefinition{Name: name, Content: l.agent}, nil
	}
	if l.inner == nil {
		return nil, fmt.Errorf("strategy: no agent loader available for %q", name)
	}
	return l.inner.LoadAgent(name)
}

func (l cachedLoader) LoadPrompt(id string) (*document.PromptDefinition, error) {
	if body, ok := l.prompts[id]; ok {
		return &document.PromptDefinition{Body: body}, nil
	}
	if l.inner == nil {
		return nil, fmt.Errorf("strategy: no prompt loader available for %q", id)
	}
	return l.inner.LoadPrompt(id)
}

func (l cachedLoader) LoadGuidance() (string, error) {
	if l.inner == nil {
		return "", nil
	}
	return l.inner.LoadGuidance()
}
