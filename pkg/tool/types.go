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

// Package tool implements the Tool Router (spec §4.10): the catalog of
// built-in file-system/shell tools exposed to the LLM, plus dry-run
// simulation, hook interception, idempotency, and path-safety
// enforcement around every call.
package tool

import "context"

// MaxReadBytes is the per spec §4.10 read budget: tools refuse files
// over 1 MiB.
const MaxReadBytes = 1 << 20

// MaxStringScan caps string-extraction scans (spec §4.10).
const MaxStringScan = 500_000

// Call is one tool invocation emitted by the LLM.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result is a tool's output, ready to be appended as a tool-role
// message (spec §4.10 "LLMToolResult").
type Result struct {
	ToolCallID string
	Output     string
	IsError    bool
}

// Handler executes one tool call and returns its raw string output. It
// never returns a Go error for expected domain failures (missing file,
// bad path): those are encoded as an "Error: <message>" string per spec
// §7 ToolError semantics; a returned error signals an unrecoverable
// implementation fault.
type Handler func(ctx context.Context, call Call, rt *Runtime) (string, error)

// Runtime is the per-command state a Handler may need: the working
// directory, the set of files read so far (for the protected-file
// unless-read-first rule), and pending writes awaiting confirmation.
type Runtime struct {
	Cwd       string
	SessionID string

	ReadFiles     map[string]bool
	PendingWrites []PendingWrite

	// SessionContext backs the query_session tool.
	SessionContext map[string]any
	// WebSearch backs the web_search tool; nil means unconfigured.
	WebSearch func(ctx context.Context, query string) (string, error)
}

// PendingWrite is a write queued for end-of-pipeline confirmation
// because its path falls under a "confirm-at-end" directory.
type PendingWrite struct {
	Path    string
	Content string
}
