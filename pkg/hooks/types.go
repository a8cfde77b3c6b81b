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

// Package hooks implements the Hook Engine (spec §4.9): user-configured
// shell commands that intercept tool calls before and after execution.
package hooks

// Event names a hook fires on.
type Event string

const (
	PreToolUse  Event = "PreToolUse"
	PostToolUse Event = "PostToolUse"
)

// Hook is one shell command a matcher runs.
type Hook struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
	Async     bool   `json:"async,omitempty"`
}

// Matcher groups hooks under a tool-name regex (spec §3 "HookMatcher").
type Matcher struct {
	Pattern string `json:"matcher"`
	Hooks   []Hook `json:"hooks"`
}

// Config is the on-disk hooks configuration document (spec §6
// "Persisted state layouts"): {hooks: {PreToolUse: [...], PostToolUse: [...]}}.
type Config struct {
	Hooks struct {
		PreToolUse  []Matcher `json:"PreToolUse"`
		PostToolUse []Matcher `json:"PostToolUse"`
	} `json:"hooks"`
}

func (c Config) matchersFor(event Event) []Matcher {
	if event == PreToolUse {
		return c.Hooks.PreToolUse
	}
	return c.Hooks.PostToolUse
}

// Input is the JSON document piped to a hook's stdin.
type Input struct {
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
	ToolInput     any    `json:"tool_input"`
	Cwd           string `json:"cwd"`
	SessionID     string `json:"session_id"`
	ToolResult    any    `json:"tool_result,omitempty"`
}

// HookSpecificOutput is the optional structured stdout payload a hook
// may emit to replace tool arguments (PreToolUse, allow) or explain a
// denial (PreToolUse, deny).
type HookSpecificOutput struct {
	UpdatedInput            map[string]any `json:"updatedInput,omitempty"`
	PermissionDecisionReason string        `json:"permissionDecisionReason,omitempty"`
}

type hookOutput struct {
	HookSpecificOutput HookSpecificOutput `json:"hookSpecificOutput"`
}

// Decision is the outcome of running PreToolUse hooks for one tool call.
type Decision struct {
	Allow        bool
	Reason       string
	UpdatedInput map[string]any
}
