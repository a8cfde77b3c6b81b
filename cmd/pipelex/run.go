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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/pipelex/pipelex/pkg/config"
	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/dryrun"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/hooks"
	"github.com/pipelex/pipelex/pkg/idempotency"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/observability"
	"github.com/pipelex/pipelex/pkg/pipeline"
	"github.com/pipelex/pipelex/pkg/stage"
	"github.com/pipelex/pipelex/pkg/stagecache"
	"github.com/pipelex/pipelex/pkg/strategy"
	"github.com/pipelex/pipelex/pkg/tool"
	"github.com/pipelex/pipelex/pkg/validator"
)

// RunCmd runs one command's pipeline through the Execution Strategy
// Selector (spec §4.14).
type RunCmd struct {
	Command     string   `arg:"" help:"Command name to run."`
	Arg         []string `help:"Positional pipeline argument (repeatable, $ARG_1, $ARG_2, ...)." placeholder:"VALUE"`
	Flag        []string `help:"Named flag as key=value (repeatable, $ARG_<name>)." placeholder:"KEY=VALUE"`
	CommandsDir string   `help:"Directory holding commands/agents/prompts." default:"." type:"path"`
	Config      string   `help:"Path to a YAML orchestrator config file." type:"path"`
	Model       string   `help:"Model override for every stage."`
	DryRun      bool     `help:"Simulate side-effecting tools and cache the resulting plan."`
	Interactive bool     `help:"Surface clarifying_questions to the user between stages."`
	Isolation   []string `help:"Run only the named stage(s) (repeatable)." placeholder:"STAGE"`
}

func (c *RunCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.LoadDotEnv(""); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	recorder, err := observability.New(&observability.Config{
		Enabled:      cfg.Observability.Enabled,
		Namespace:    cfg.Observability.Namespace,
		ServiceName:  cfg.Observability.ServiceName,
		SamplingRate: cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	loader := document.NewLoader(c.CommandsDir)
	cmd, err := loader.LoadCommand(c.Command)
	if err != nil {
		return fmt.Errorf("load command %q: %w", c.Command, err)
	}

	idemStore, err := idempotency.New(cfg.IdempotencyDir())
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}

	hooksLoader := hooks.NewLoader(
		joinPath(cfg.ProjectRoot, ".pipelex", "hooks.json"),
		joinPath(cfg.ProjectRoot, ".pipelex", "hooks.local.json"),
	)
	defer hooksLoader.Close()
	hooksEngine := hooks.NewEngine(hooksLoader, cfg.HookTimeout)
	hooksEngine.Recorder = recorder

	sessionID := uuid.NewString()
	router := tool.NewRouter(cfg, idemStore, hooksEngine, cfg.ProjectRoot, sessionID)
	router.Recorder = recorder

	var stageStore stagecache.Store = stagecache.NewMemoryStore()
	if cfg.StageCacheDSN != "" {
		sqlStore, err := stagecache.OpenSQLStore(cfg.StageCacheDSN)
		if err != nil {
			return fmt.Errorf("open stage cache: %w", err)
		}
		defer sqlStore.Close()
		stageStore = sqlStore
	}
	stageCache := stagecache.New(stageStore)

	ec := execctx.New(cmd.Name, config.Snapshot())
	ec.Args = c.Arg
	ec.AgentRole = cmd.AgentRole
	if ec.AgentRole == "" {
		ec.AgentRole = cmd.FallbackAgent
	}
	ec.Model = firstNonEmpty(c.Model, cmd.Model)
	ec.Provider = &llm.FakeProvider{Responses: demoResponses(cmd)}
	ec.KnowledgeFiles = cmd.KnowledgeFiles
	ec.AllowedTools = cmd.AllowedTools
	ec.Interactive = c.Interactive
	ec.Session = execctx.SessionInfo{ID: sessionID}
	ec.VariableContext().SetPositionalArgs(c.Arg)
	for _, kv := range c.Flag {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --flag %q, expected key=value", kv)
		}
		ec.Flags[k] = v
		ec.VariableContext().SetNamedArg(k, v)
	}
	if len(c.Isolation) > 0 {
		ec.Isolation = &execctx.Isolation{Stages: c.Isolation}
	}

	pipelineOpts := pipeline.Options{
		Router:   router,
		QA:       NewTerminalQA(),
		Approver: NewTerminalApprover(),
		StageOptionsFor: func(stageName string) stage.Options {
			return stage.Options{
				Loader:                        loader,
				Provider:                      ec.Provider,
				Router:                        router,
				Cache:                         stageCache,
				KnowledgeFiles:                ec.KnowledgeFiles,
				AllowedTools:                  ec.AllowedTools,
				EscalationConfidenceThreshold: cfg.EscalationConfidenceThreshold,
				Recorder:                      recorder,
			}
		},
	}

	strategyOpts := strategy.Options{
		Pipeline: pipelineOpts,
		Cache:    dryrun.New(),
		Loader:   loader,
		Plan:     os.Stdout,
		Recorder: recorder,
	}

	res := strategy.Run(context.Background(), cmd, ec, strategy.Flags{
		DryRun:      c.DryRun,
		Interactive: c.Interactive,
	}, strategyOpts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("pipeline failed: %s", res.Error)
	}
	return nil
}

// demoResponses builds a minimal canned provider reply per stage so the
// binary can drive a full pipeline end to end without a real LLM backend
// (Provider implementations are explicitly out of scope, spec.md §1).
func demoResponses(cmd *document.CommandDefinition) []llm.CompletionResponse {
	out := make([]llm.CompletionResponse, 0, len(cmd.Pipeline))
	for _, s := range cmd.Pipeline {
		fields := make(map[string]any, len(s.Outputs))
		for _, k := range s.Outputs {
			fields[k] = ""
		}
		body, _ := json.Marshal(fields)
		out = append(out, llm.CompletionResponse{
			Content:      "```json\n" + string(body) + "\n```",
			FinishReason: "stop",
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinPath(parts ...string) string {
	return strings.Join(parts, string(os.PathSeparator))
}

// ValidateCmd validates a command's pipeline structure without running
// it (spec §4.5).
type ValidateCmd struct {
	Command     string `arg:"" help:"Command name to validate."`
	CommandsDir string `help:"Directory holding commands/agents/prompts." default:"." type:"path"`
}

func (c *ValidateCmd) Run() error {
	loader := document.NewLoader(c.CommandsDir)
	cmd, err := loader.LoadCommand(c.Command)
	if err != nil {
		return fmt.Errorf("load command %q: %w", c.Command, err)
	}
	msgs := validator.Validate(cmd.Pipeline)
	if len(msgs) == 0 {
		fmt.Println("ok: pipeline is structurally valid")
		return nil
	}
	for _, m := range msgs {
		fmt.Println("error:", m)
	}
	return fmt.Errorf("%d validation error(s)", len(msgs))
}
