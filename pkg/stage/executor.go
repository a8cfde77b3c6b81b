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

// Package stage implements the Stage Executor (spec §4.12): it runs one
// pipeline stage end to end — cache check, resource loading, input
// resolution, message assembly, the provider tool-use loop, escalation
// handling, output parsing/validation, and cache write-back.
package stage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/escalation"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/logger"
	"github.com/pipelex/pipelex/pkg/message"
	"github.com/pipelex/pipelex/pkg/observability"
	"github.com/pipelex/pipelex/pkg/outputparser"
	"github.com/pipelex/pipelex/pkg/stagecache"
	"github.com/pipelex/pipelex/pkg/tool"
)

const (
	maxToolLoopIterations = 20
	defaultMaxTokens       = 4096
	defaultTemperature     = 0.2
)

// Loader is the subset of the DocumentLoader collaborator the Stage
// Executor depends on.
type Loader interface {
	LoadAgent(name string) (*document.AgentDefinition, error)
	LoadPrompt(id string) (*document.PromptDefinition, error)
	LoadGuidance() (string, error)
}

// EscalationHandler is the external collaborator consulted when the
// Escalation Detector fires (spec §4.12 step 8).
type EscalationHandler interface {
	Handle(ctx context.Context, sig *escalation.Signal) Decision
}

// Decision is an EscalationHandler's verdict.
type Decision struct {
	Action    string // "abort", "proceed", or "modify"
	Guidance  string
}

// Validator runs a per-stage output validator (spec §4.12 step 10).
type Validator func(outputs map[string]any) (ok bool, critical bool, reason string)

// Options configures one Execute call.
type Options struct {
	Loader            Loader
	Provider          llm.Provider
	Router            *tool.Router
	Cache             *stagecache.Cache
	Escalation        EscalationHandler
	Validators        map[string]Validator // keyed by stage name
	KnowledgeFiles    []string
	AllowedTools      []string
	ModelOverride     string
	ModeOverride      string
	IsDryRun          bool
	EscalationConfidenceThreshold int
	PreResolvedInputs map[string]any
	Recorder          *observability.Recorder
}

// Execute runs the full §4.12 algorithm for one stage, wrapped with a
// tracing span and duration/outcome metrics (spec.md Non-goals exclude
// logging sinks, not in-process instrumentation of the engine itself).
func Execute(ctx context.Context, s document.PipelineStage, ec *execctx.ExecutionContext, index int, opts Options) execctx.StageOutput {
	ctx, span := opts.Recorder.StartStageSpan(ctx, s.Stage, s.Prompt)
	start := time.Now()
	out := execute(ctx, s, ec, index, opts)
	opts.Recorder.Metrics().RecordStageRun(s.Stage, s.Prompt, time.Since(start), out.Success)
	span.End()
	return out
}

func execute(ctx context.Context, s document.PipelineStage, ec *execctx.ExecutionContext, index int, opts Options) execctx.StageOutput {
	start := time.Now()
	log := logger.Component("stage")

	// Step 3 (partial): resolve inputs early so the cache key can use them.
	resolvedInputs, err := resolveInputs(s, ec, opts)
	if err != nil {
		return fail(s, start, fmt.Sprintf("resolve inputs: %v", err), false)
	}

	// Step 1: cache check.
	var fileFingerprints []string
	if s.Cache != nil && s.Cache.Enabled {
		fileFingerprints = fingerprintsFor(s.Cache.FileDeps, resolvedInputs)
		if opts.Cache != nil {
			res := opts.Cache.Get(s.Stage, resolvedInputs, s.Cache.CacheKeyInputs, fileFingerprints)
			if res.Hit {
				log.Info("stage cache hit", "stage", s.Stage, "saved_ms", res.SavedTimeMs)
				opts.Recorder.Metrics().RecordStageCacheHit(s.Stage)
				out := execctx.StageOutput{
					Stage:      s.Stage,
					Prompt:     s.Prompt,
					Success:    true,
					Outputs:    res.Entry.Outputs,
					DurationMs: 0,
					Metadata: map[string]any{
						"stageContext": stageContext(s, resolvedInputs),
						"cacheHit":     true,
					},
				}
				return out
			}
			opts.Recorder.Metrics().RecordStageCacheMiss(s.Stage, string(res.Reason))
		}
	}

	// Step 2: load resources.
	agentRole := ec.AgentRole
	agent, err := opts.Loader.LoadAgent(agentRole)
	if err != nil {
		return fail(s, start, fmt.Sprintf("load agent %q: %v", agentRole, err), false)
	}
	prompt, err := opts.Loader.LoadPrompt(s.Prompt)
	if err != nil {
		return fail(s, start, fmt.Sprintf("load prompt %q: %v", s.Prompt, err), false)
	}
	guidance, err := opts.Loader.LoadGuidance()
	if err != nil {
		guidance = ""
	}
	knowledge := loadKnowledge(opts.KnowledgeFiles)

	// Step 3 (continued): enrich with _content for file-like inputs.
	inputs := enrichFileInputs(resolvedInputs)

	// Step 4: build messages.
	escalationEnabled := agent != nil && len(agent.DecisionMaking.EscalationCriteria) > 0
	systemMsg, userMsg := message.Build(message.Request{
		ProjectGuidance:   guidance,
		Agent:             agent,
		Prompt:            prompt,
		ProjectKnowledge:  knowledge,
		ExpectedOutputs:   s.Outputs,
		EscalationEnabled: escalationEnabled,
		Inputs:            inputs,
	})

	// Step 5: resolve execution config.
	model := opts.ModelOverride
	if model == "" {
		model = ec.Model
	}
	mode := opts.ModeOverride
	if mode == "" {
		mode = ec.Mode
	}
	toolDefs := []llm.ToolDefinition(nil)
	if opts.Router != nil {
		toolDefs = toolDefinitionsFor(opts.Router, opts.AllowedTools)
	}
	if opts.Router != nil {
		opts.Router.SetDryRun(opts.IsDryRun)
	}

	// Step 6: tool-use loop.
	finalContent, usage, err := runToolLoop(ctx, opts.Provider, opts.Router, systemMsg, userMsg, model, mode, toolDefs)
	if err != nil {
		return fail(s, start, fmt.Sprintf("provider: %v", err), false)
	}

	// Step 7: guided completion early termination handled inside runToolLoop
	// via the guidedCompletion sentinel value.
	if finalContent == guidedCompletionSentinel {
		return execctx.StageOutput{
			Stage:      s.Stage,
			Prompt:     s.Prompt,
			Success:    true,
			Outputs:    map[string]any{"result": ""},
			DurationMs: time.Since(start).Milliseconds(),
			Metadata:   map[string]any{"stopPipeline": true, "stageContext": stageContext(s, resolvedInputs)},
		}
	}

	cleaned := finalContent
	var escalationMeta map[string]any

	// Step 8: escalation.
	if escalationEnabled {
		cleanedContent, sig, parseErr := escalation.Detect(finalContent, opts.EscalationConfidenceThreshold)
		if parseErr == nil {
			cleaned = cleanedContent
		}
		if sig != nil && escalation.RequiresEscalation(sig, opts.EscalationConfidenceThreshold) {
			var decision Decision
			if opts.Escalation != nil {
				decision = opts.Escalation.Handle(ctx, sig)
			} else {
				decision = Decision{Action: "proceed"}
			}
			opts.Recorder.Metrics().RecordEscalation(string(sig.RiskLevel), decision.Action)
			switch decision.Action {
			case "abort":
				return execctx.StageOutput{
					Stage:      s.Stage,
					Prompt:     s.Prompt,
					Success:    false,
					Error:      "escalation abort: " + sig.Reasoning,
					DurationMs: time.Since(start).Milliseconds(),
					Metadata:   map[string]any{"stopPipeline": true, "escalation": sig, "stageContext": stageContext(s, resolvedInputs)},
				}
			case "modify":
				escalationMeta = map[string]any{"escalation": sig, "userGuidance": decision.Guidance}
			default:
				escalationMeta = map[string]any{"escalation": sig}
			}
		}
	}

	// Step 9: parse outputs.
	outputs := outputparser.ParseStageOutputs(cleaned, s.Outputs)
	outputs["result"] = cleaned
	outputs["usage"] = usage

	// Step 10: per-stage validation.
	if v, ok := opts.Validators[s.Stage]; ok {
		valid, critical, reason := v(outputs)
		if !valid {
			meta := map[string]any{"stageContext": stageContext(s, resolvedInputs)}
			if critical {
				meta["stopPipeline"] = true
			}
			for k, val := range escalationMeta {
				meta[k] = val
			}
			return execctx.StageOutput{
				Stage:      s.Stage,
				Prompt:     s.Prompt,
				Success:    false,
				Error:      reason,
				Outputs:    outputs,
				DurationMs: time.Since(start).Milliseconds(),
				Metadata:   meta,
			}
		}
	}

	// Step 11: cache write-back.
	if s.Cache != nil && s.Cache.Enabled && opts.Cache != nil {
		durationMs := time.Since(start).Milliseconds()
		if err := opts.Cache.Put(s.Stage, resolvedInputs, s.Cache.CacheKeyInputs, fileFingerprints, outputs, durationMs, s.Cache.TTLMillis); err != nil {
			log.Warn("stage cache write failed", "stage", s.Stage, "error", err)
		}
	}

	meta := map[string]any{"stageContext": stageContext(s, resolvedInputs)}
	for k, v := range escalationMeta {
		meta[k] = v
	}

	// Step 12.
	return execctx.StageOutput{
		Stage:      s.Stage,
		Prompt:     s.Prompt,
		Success:    true,
		Outputs:    outputs,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   meta,
	}
}

func fail(s document.PipelineStage, start time.Time, reason string, stop bool) execctx.StageOutput {
	meta := map[string]any{}
	if stop {
		meta["stopPipeline"] = true
	}
	return execctx.StageOutput{
		Stage:      s.Stage,
		Prompt:     s.Prompt,
		Success:    false,
		Error:      reason,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   meta,
	}
}

func stageContext(s document.PipelineStage, inputs map[string]any) map[string]any {
	return map[string]any{
		"stage":  s.Stage,
		"prompt": s.Prompt,
		"inputs": inputs,
	}
}

// resolveInputs uses the Pipeline Executor's pre-resolved inputs when
// present; otherwise resolves on the fly via the execution context's
// Resolver (spec §4.12 step 3, first half).
func resolveInputs(s document.PipelineStage, ec *execctx.ExecutionContext, opts Options) (map[string]any, error) {
	if opts.PreResolvedInputs != nil {
		return opts.PreResolvedInputs, nil
	}
	resolved, err := ec.Resolver.Resolve(s.Inputs)
	if err != nil {
		return nil, err
	}
	m, _ := resolved.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// enrichFileInputs converts inputs to message inputs; for every `_file` /
// `_file_arg` / `_path` input whose value names a readable file it stores
// the file's content in FileContent (spec §4.12 step 3, second half).
func enrichFileInputs(inputs map[string]any) []message.Input {
	out := make([]message.Input, 0, len(inputs))
	for k, v := range inputs {
		in := message.Input{Key: k, Value: v}
		if isFileLikeKey(k) {
			if path, ok := v.(string); ok && path != "" {
				in.IsFile = true
				in.FilePath = path
				if data, err := os.ReadFile(path); err == nil {
					in.FileContent = string(data)
				}
			}
		}
		out = append(out, in)
	}
	return out
}

func isFileLikeKey(key string) bool {
	return strings.HasSuffix(key, "_file") || strings.HasSuffix(key, "_file_arg") || strings.HasSuffix(key, "_path")
}

func loadKnowledge(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		content, err := document.LoadKnowledgeFile(f)
		if err != nil {
			continue
		}
		out = append(out, content)
	}
	return out
}

func fingerprintsFor(fileDeps []string, inputs map[string]any) []string {
	fps := make([]string, 0, len(fileDeps))
	for _, dep := range fileDeps {
		path := dep
		if v, ok := inputs[dep]; ok {
			if s, ok := v.(string); ok {
				path = s
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fps = append(fps, "missing:"+path)
			continue
		}
		fps = append(fps, path+":"+strconv.Itoa(len(data)))
	}
	return fps
}

func toolDefinitionsFor(r *tool.Router, allowed []string) []llm.ToolDefinition {
	hasGateway := r.Gateway != nil
	return tool.ToolDefinitions(allowed, hasGateway)
}
