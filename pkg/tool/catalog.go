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
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/pipelex/pipelex/pkg/llm"
)

// WriteArgs is the write tool's argument shape.
type WriteArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path to write"`
	Content string `json:"content" jsonschema:"required,description=Full file content"`
}

// ReadFileArgs is the read_file tool's argument shape.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=File path to read"`
}

// SearchReplaceArgs is the search_replace tool's argument shape.
type SearchReplaceArgs struct {
	Path   string `json:"path" jsonschema:"required,description=File path to edit"`
	Search string `json:"search" jsonschema:"required,description=Exact text to find"`
	Replace string `json:"replace" jsonschema:"required,description=Replacement text"`
}

// DeleteFileArgs is the delete_file tool's argument shape.
type DeleteFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=File path to delete"`
}

// RunTerminalCmdArgs is the run_terminal_cmd tool's argument shape.
type RunTerminalCmdArgs struct {
	Command   string `json:"command" jsonschema:"required,description=Shell command to run"`
	TimeoutMs int    `json:"timeout_ms,omitempty" jsonschema:"description=Override the default 30s timeout"`
}

// ListDirArgs is the list_dir tool's argument shape.
type ListDirArgs struct {
	Path string `json:"path" jsonschema:"required,description=Directory to list"`
}

// GlobFileSearchArgs is the glob_file_search tool's argument shape.
type GlobFileSearchArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern, e.g. **/*.go"`
}

// GrepArgs is the grep tool's argument shape.
type GrepArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=File or directory to search, defaults to cwd"`
}

// CodebaseSearchArgs is the codebase_search tool's argument shape.
type CodebaseSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Natural-language search query"`
}

// QuerySessionArgs is the query_session tool's argument shape.
type QuerySessionArgs struct {
	Key string `json:"key" jsonschema:"required,description=Session context key to read"`
}

// WebSearchArgs is the web_search tool's argument shape.
type WebSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Web search query"`
}

// GatewayArgs is the argument shape for an externally-registered routing
// tool (spec §4.10 "gateway definition").
type GatewayArgs struct {
	ToolName  string         `json:"tool_name" jsonschema:"required,description=Name of the external tool to invoke"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"description=Arguments to pass through to the external tool"`
}

var reflector = &jsonschema.Reflector{
	ExpandedStruct:            true,
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

func schemaOf(v any) map[string]any {
	s := reflector.Reflect(v)
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// descriptor describes one built-in tool: its name, a
// human-readable description, its argument schema source, and whether
// it is read-only (exempt from dry-run simulation and path validation).
type descriptor struct {
	Name        string
	Description string
	ArgsShape   any
	ReadOnly    bool
	Idempotent  bool
	PathField   string // name of the argument carrying a filesystem path, if any
}

var builtins = []descriptor{
	{Name: "write", Description: "Write a file, creating or overwriting it", ArgsShape: WriteArgs{}, Idempotent: true, PathField: "path"},
	{Name: "read_file", Description: "Read a file's contents", ArgsShape: ReadFileArgs{}, ReadOnly: true, PathField: "path"},
	{Name: "search_replace", Description: "Replace an exact text match within a file", ArgsShape: SearchReplaceArgs{}, Idempotent: true, PathField: "path"},
	{Name: "delete_file", Description: "Delete a file", ArgsShape: DeleteFileArgs{}, Idempotent: true, PathField: "path"},
	{Name: "run_terminal_cmd", Description: "Run a shell command", ArgsShape: RunTerminalCmdArgs{}, Idempotent: true},
	{Name: "list_dir", Description: "List a directory's entries", ArgsShape: ListDirArgs{}, ReadOnly: true, PathField: "path"},
	{Name: "glob_file_search", Description: "Find files matching a glob pattern", ArgsShape: GlobFileSearchArgs{}, ReadOnly: true},
	{Name: "grep", Description: "Search file contents with a regular expression", ArgsShape: GrepArgs{}, ReadOnly: true},
	{Name: "codebase_search", Description: "Search the codebase by natural-language query", ArgsShape: CodebaseSearchArgs{}, ReadOnly: true},
	{Name: "query_session", Description: "Read a value from session context", ArgsShape: QuerySessionArgs{}, ReadOnly: true},
	{Name: "web_search", Description: "Search the web", ArgsShape: WebSearchArgs{}, ReadOnly: true},
}

// ToolDefinitions builds the tool-definition list the Message Builder
// passes to the Provider, filtered and ordered by allowedTools. Unknown
// names in allowedTools are treated as external gateway routes.
func ToolDefinitions(allowedTools []string, hasGateway bool) []llm.ToolDefinition {
	byName := make(map[string]descriptor, len(builtins))
	for _, d := range builtins {
		byName[d.Name] = d
	}

	defs := make([]llm.ToolDefinition, 0, len(allowedTools))
	for _, name := range allowedTools {
		if d, ok := byName[name]; ok {
			defs = append(defs, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: schemaOf(d.ArgsShape)})
			continue
		}
		if hasGateway {
			defs = append(defs, llm.ToolDefinition{
				Name:        name,
				Description: "Invoke the external tool " + name + " through the gateway",
				Parameters:  schemaOf(GatewayArgs{}),
			})
		}
	}
	return defs
}

func descriptorFor(name string) (descriptor, bool) {
	for _, d := range builtins {
		if d.Name == name {
			return d, true
		}
	}
	return descriptor{}, false
}
