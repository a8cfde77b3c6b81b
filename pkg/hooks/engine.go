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

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"time"

	"github.com/pipelex/pipelex/pkg/logger"
	"github.com/pipelex/pipelex/pkg/observability"
)

const defaultTimeout = 10 * time.Second

// Engine runs matched hooks for a tool call.
type Engine struct {
	Loader   *Loader
	Timeout  time.Duration
	Recorder *observability.Recorder
	log      *slog.Logger
}

// NewEngine constructs an Engine. timeout of 0 uses the spec default
// (10s).
func NewEngine(loader *Loader, timeout time.Duration) *Engine {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Engine{Loader: loader, Timeout: timeout, log: logger.Component("hooks")}
}

// matchersFor returns every matcher whose pattern matches toolName for
// the given event, skipping invalid or ReDoS-risky patterns.
func (e *Engine) matchersFor(event Event, toolName string) []Matcher {
	cfg := e.Loader.Load()
	var matched []Matcher
	for _, m := range cfg.matchersFor(event) {
		if isReDoSRisky(m.Pattern) {
			e.log.Warn("skipping ReDoS-risky hook matcher", "pattern", m.Pattern, "event", event)
			continue
		}
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			e.log.Warn("skipping invalid hook matcher regex", "pattern", m.Pattern, "error", err)
			continue
		}
		if re.MatchString(toolName) {
			matched = append(matched, m)
		}
	}
	return matched
}

// RunPreToolUse runs every matched PreToolUse hook in order. The first
// denial short-circuits the remaining hooks. An allow may carry replaced
// tool arguments from the last hook that supplied them.
func (e *Engine) RunPreToolUse(ctx context.Context, toolName string, toolInput map[string]any, cwd, sessionID string) Decision {
	decision := Decision{Allow: true}

	for _, m := range e.matchersFor(PreToolUse, toolName) {
		for _, h := range m.Hooks {
			input := Input{
				HookEventName: string(PreToolUse),
				ToolName:      toolName,
				ToolInput:     toolInput,
				Cwd:           cwd,
				SessionID:     sessionID,
			}
			code, stdout, stderr, err := e.run(ctx, h, input)
			if err != nil {
				// Timeout or spawn failure: fail-open (spec §4.9).
				if errors.Is(err, context.DeadlineExceeded) {
					e.Recorder.Metrics().RecordHookTimeout(string(PreToolUse))
				}
				e.log.Warn("PreToolUse hook failed, allowing call", "command", h.Command, "error", err)
				continue
			}

			switch code {
			case 0:
				if out, ok := parseHookOutput(stdout); ok && len(out.UpdatedInput) > 0 {
					decision.UpdatedInput = out.UpdatedInput
				}
			case 2:
				reason := ""
				if out, ok := parseHookOutput(stdout); ok {
					reason = out.PermissionDecisionReason
				}
				if reason == "" {
					reason = firstNonEmpty(string(bytes.TrimSpace(stderr)), "denied by hook "+h.Command)
				}
				return Decision{Allow: false, Reason: reason}
			default:
				e.log.Warn("PreToolUse hook exited non-standard code, allowing call", "command", h.Command, "code", code)
			}
		}
	}

	return decision
}

// RunPostToolUse runs every matched PostToolUse hook. Sync hooks are
// awaited (but their outcome never blocks or fails the call); async
// hooks are fired without waiting.
func (e *Engine) RunPostToolUse(ctx context.Context, toolName string, toolInput map[string]any, result any, cwd, sessionID string) {
	for _, m := range e.matchersFor(PostToolUse, toolName) {
		for _, h := range m.Hooks {
			input := Input{
				HookEventName: string(PostToolUse),
				ToolName:      toolName,
				ToolInput:     toolInput,
				Cwd:           cwd,
				SessionID:     sessionID,
				ToolResult:    result,
			}
			if h.Async {
				go func(h Hook, input Input) {
					_, _, _, err := e.run(context.Background(), h, input)
					if err != nil {
						e.log.Debug("async PostToolUse hook finished with error", "command", h.Command, "error", err)
					}
				}(h, input)
				continue
			}
			if _, _, _, err := e.run(ctx, h, input); err != nil {
				e.log.Debug("PostToolUse hook finished with error", "command", h.Command, "error", err)
			}
		}
	}
}

func (e *Engine) run(ctx context.Context, h Hook, input Input) (code int, stdout, stderr []byte, err error) {
	timeout := e.Timeout
	if h.TimeoutMs > 0 {
		timeout = time.Duration(h.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, merr := json.Marshal(input)
	if merr != nil {
		return 0, nil, nil, merr
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", h.Command)
	cmd.Stdin = bytes.NewReader(payload)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return 0, outBuf.Bytes(), errBuf.Bytes(), context.DeadlineExceeded
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return exitErr.ExitCode(), outBuf.Bytes(), errBuf.Bytes(), nil
		}
		return 0, outBuf.Bytes(), errBuf.Bytes(), runErr
	}
	return 0, outBuf.Bytes(), errBuf.Bytes(), nil
}

func parseHookOutput(stdout []byte) (HookSpecificOutput, bool) {
	var out hookOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return HookSpecificOutput{}, false
	}
	return out.HookSpecificOutput, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
