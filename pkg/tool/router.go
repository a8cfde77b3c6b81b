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

package tool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pipelex/pipelex/pkg/config"
	"github.com/pipelex/pipelex/pkg/hooks"
	"github.com/pipelex/pipelex/pkg/idempotency"
	"github.com/pipelex/pipelex/pkg/logger"
	"github.com/pipelex/pipelex/pkg/observability"
)

// Approver decides whether to commit or discard a queued write at the
// end of a pipeline run (spec §4.10 "pending-writes protocol").
type Approver interface {
	Approve(ctx context.Context, write PendingWrite) bool
}

// Router is the Tool Router (spec §4.10): the single entry point the
// Stage Executor's tool-use loop calls for every tool invocation emitted
// by the provider.
type Router struct {
	Cfg         *config.Config
	Idempotency *idempotency.Store
	Hooks       *hooks.Engine
	Gateway     Gateway
	Recorder    *observability.Recorder

	mu      sync.Mutex
	dryRun  bool
	sim     *Simulator
	runtime *Runtime
}

// Gateway dispatches a tool call to an externally-registered tool
// provider (spec §4.10, out-of-pack contract — e.g. an MCP server).
type Gateway interface {
	Names() []string
	Call(ctx context.Context, toolName string, arguments map[string]any) (string, error)
}

// NewRouter constructs a Router for one command run.
func NewRouter(cfg *config.Config, store *idempotency.Store, engine *hooks.Engine, cwd, sessionID string) *Router {
	return &Router{
		Cfg:         cfg,
		Idempotency: store,
		Hooks:       engine,
		sim:         NewSimulator(),
		runtime: &Runtime{
			Cwd:            cwd,
			SessionID:      sessionID,
			ReadFiles:      make(map[string]bool),
			SessionContext: make(map[string]any),
		},
	}
}

// SetDryRun toggles dry-run (simulate) mode for subsequent calls.
func (r *Router) SetDryRun(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dryRun = on
}

// Runtime exposes the per-command runtime state, e.g. so the stage
// executor can seed SessionContext or WebSearch before a run.
func (r *Router) Runtime() *Runtime {
	return r.runtime
}

// AllowedToolNames returns the full set of names this router can dispatch:
// every built-in plus every gateway-registered external tool.
func (r *Router) AllowedToolNames() []string {
	names := make([]string, 0, len(builtins))
	for _, d := range builtins {
		names = append(names, d.Name)
	}
	if r.Gateway != nil {
		names = append(names, r.Gateway.Names()...)
	}
	return names
}

// ExecuteTools runs every call concurrently and returns results in the
// same order as calls (spec §4.10 "batch execution").
func (r *Router) ExecuteTools(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = r.executeOne(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeOne runs the nine-step per-call path (spec §4.10).
func (r *Router) executeOne(ctx context.Context, call Call) Result {
	start := time.Now()
	ctx, span := r.Recorder.StartToolSpan(ctx, call.Name)
	res := r.executeOneTraced(ctx, call)
	r.Recorder.Metrics().RecordToolCall(call.Name, time.Since(start), strings.HasPrefix(res.Output, "Error:"))
	span.End()
	return res
}

func (r *Router) executeOneTraced(ctx context.Context, call Call) Result {
	log := logger.Component("tool")

	d, known := descriptorFor(call.Name)
	if !known && r.Gateway == nil {
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	// Step 1: dry-run simulation for non-read-only tools.
	r.mu.Lock()
	dryRun := r.dryRun
	r.mu.Unlock()
	if dryRun && (!known || !d.ReadOnly) {
		return Result{ToolCallID: call.ID, Output: r.sim.Simulate(call, r.runtime)}
	}

	// Step 2: PreToolUse hooks.
	if r.Hooks != nil {
		decision := r.Hooks.RunPreToolUse(ctx, call.Name, call.Arguments, r.runtime.Cwd, r.runtime.SessionID)
		if !decision.Allow {
			r.Recorder.Metrics().RecordHookDenial(call.Name)
			return errorResult(call.ID, "Blocked by PreToolUse hook: "+decision.Reason)
		}
		if decision.UpdatedInput != nil {
			call.Arguments = decision.UpdatedInput
		}
	}

	// Step 3: idempotency lookup.
	var argsHash, idemKey string
	if known && d.Idempotent && r.Idempotency != nil {
		argsHash = idempotency.ArgsHash(call.Arguments, r.runtime.SessionID)
		idemKey = idempotency.Key(call.Name, call.Arguments, r.runtime.SessionID)
		if rec, hit := r.Idempotency.Lookup(idemKey, argsHash); hit {
			if out, ok := rec.Result.(string); ok {
				r.Recorder.Metrics().RecordIdempotencyReplay(call.Name)
				return Result{ToolCallID: call.ID, Output: out}
			}
		}
	}

	// Step 4: path validation for write/edit/delete tools.
	if known && d.PathField != "" && !d.ReadOnly {
		if path, ok := call.Arguments[d.PathField].(string); ok {
			if blocked, reason := r.validatePath(path); blocked {
				out := "Error: " + reason
				if known && d.Idempotent && r.Idempotency != nil {
					r.Idempotency.Save(idempotency.Record{Key: idemKey, ArgsHash: argsHash, ToolName: call.Name, Result: out, SessionID: r.runtime.SessionID})
				}
				return errorResult(call.ID, reason)
			}
		}
	}

	// Step 5: confirm-at-end queueing for matching write targets.
	if known && call.Name == "write" && r.isConfirmAtEnd(argString(call.Arguments, "path")) {
		r.runtime.PendingWrites = append(r.runtime.PendingWrites, PendingWrite{
			Path:    argString(call.Arguments, "path"),
			Content: argString(call.Arguments, "content"),
		})
		out := fmt.Sprintf("Queued write to %s for end-of-pipeline confirmation", argString(call.Arguments, "path"))
		return Result{ToolCallID: call.ID, Output: out}
	}

	// Step 6: run the tool (built-in or gateway).
	var (
		output string
		err    error
	)
	if known {
		output, err = handlers[call.Name](ctx, call, r.runtime)
	} else {
		output, err = r.Gateway.Call(ctx, call.Name, call.Arguments)
	}
	if err != nil {
		log.Warn("tool execution failed", "tool", call.Name, "error", err)
		output = fmt.Sprintf("Error: %v", err)
	}

	// Step 7: PostToolUse hooks (non-blocking).
	if r.Hooks != nil {
		r.Hooks.RunPostToolUse(ctx, call.Name, call.Arguments, output, r.runtime.Cwd, r.runtime.SessionID)
	}

	// Step 8: idempotency record.
	if known && d.Idempotent && r.Idempotency != nil {
		r.Idempotency.Save(idempotency.Record{Key: idemKey, ArgsHash: argsHash, ToolName: call.Name, Result: output, SessionID: r.runtime.SessionID})
	}

	// Step 9.
	return Result{ToolCallID: call.ID, Output: output}
}

// validatePath rejects paths that resolve into the orchestrator's own
// state directory, or overwrite a protected file that was not read
// first within the current command.
func (r *Router) validatePath(path string) (blocked bool, reason string) {
	full := resolvePath(r.runtime.Cwd, path)

	if r.Cfg != nil && r.Cfg.StateDir != "" {
		stateDir := resolvePath(r.runtime.Cwd, r.Cfg.StateDir)
		if isWithin(stateDir, full) {
			return true, "path resolves into the orchestrator's state directory"
		}
	}

	if r.Cfg == nil {
		return false, ""
	}

	base := filepath.Base(full)
	for _, protected := range r.Cfg.ProtectedFiles {
		if base != protected {
			continue
		}
		if r.runtime.ReadFiles[full] {
			return false, ""
		}
		return true, fmt.Sprintf("%s is a protected file and was not read first in this command", base)
	}
	return false, ""
}

func (r *Router) isConfirmAtEnd(path string) bool {
	if r.Cfg == nil {
		return false
	}
	full := resolvePath(r.runtime.Cwd, path)
	for _, dir := range r.Cfg.ConfirmAtEndDirs {
		if isWithin(resolvePath(r.runtime.Cwd, dir), full) {
			return true
		}
	}
	return false
}

// FlushPendingWrites commits or discards every queued write via
// approver (spec §4.10 "pending-writes protocol").
func (r *Router) FlushPendingWrites(ctx context.Context, approver Approver) error {
	for _, w := range r.runtime.PendingWrites {
		if !approver.Approve(ctx, w) {
			continue
		}
		if _, err := handlers["write"](ctx, Call{Arguments: map[string]any{"path": w.Path, "content": w.Content}}, r.runtime); err != nil {
			return err
		}
	}
	r.runtime.PendingWrites = nil
	return nil
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

func errorResult(id, reason string) Result {
	return Result{ToolCallID: id, Output: "Error: " + reason, IsError: true}
}
