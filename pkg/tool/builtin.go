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
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const defaultTerminalTimeout = 30 * time.Second

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func handleWrite(_ context.Context, call Call, rt *Runtime) (string, error) {
	path := argString(call.Arguments, "path")
	content := argString(call.Arguments, "content")
	if path == "" {
		return "Error: path is required", nil
	}
	full := resolvePath(rt.Cwd, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

func handleReadFile(_ context.Context, call Call, rt *Runtime) (string, error) {
	path := argString(call.Arguments, "path")
	if path == "" {
		return "Error: path is required", nil
	}
	full := resolvePath(rt.Cwd, path)

	info, err := os.Stat(full)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if info.Size() > MaxReadBytes {
		return fmt.Sprintf("Error: %s is %d bytes, exceeds the 1 MiB read limit", path, info.Size()), nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if rt.ReadFiles != nil {
		rt.ReadFiles[full] = true
	}
	return string(data), nil
}

func handleSearchReplace(_ context.Context, call Call, rt *Runtime) (string, error) {
	path := argString(call.Arguments, "path")
	search := argString(call.Arguments, "search")
	replace := argString(call.Arguments, "replace")
	full := resolvePath(rt.Cwd, path)

	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	content := string(data)
	if !strings.Contains(content, search) {
		return "Error: search text not found in file", nil
	}
	updated := strings.Replace(content, search, replace, 1)
	if err := os.WriteFile(full, []byte(updated), info0644(full)); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Replaced 1 occurrence in %s", path), nil
}

func info0644(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode()
	}
	return 0o644
}

func handleDeleteFile(_ context.Context, call Call, rt *Runtime) (string, error) {
	path := argString(call.Arguments, "path")
	full := resolvePath(rt.Cwd, path)
	if err := os.Remove(full); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Deleted %s", path), nil
}

func handleRunTerminalCmd(ctx context.Context, call Call, rt *Runtime) (string, error) {
	command := argString(call.Arguments, "command")
	if command == "" {
		return "Error: command is required", nil
	}
	timeout := defaultTerminalTimeout
	if ms := argInt(call.Arguments, "timeout_ms"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = rt.Cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s", timeout), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: %v\n%s", err, out.String()), nil
	}
	return out.String(), nil
}

func handleListDir(_ context.Context, call Call, rt *Runtime) (string, error) {
	path := argString(call.Arguments, "path")
	full := resolvePath(rt.Cwd, path)
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	return sb.String(), nil
}

func handleGlobFileSearch(_ context.Context, call Call, rt *Runtime) (string, error) {
	pattern := argString(call.Arguments, "pattern")
	if pattern == "" {
		return "Error: pattern is required", nil
	}

	matcher, err := globToRegexp(pattern)
	if err != nil {
		return fmt.Sprintf("Error: invalid pattern: %v", err), nil
	}

	var matches []string
	_ = filepath.WalkDir(rt.Cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(rt.Cwd, path)
		if relErr != nil {
			return nil
		}
		if matcher.MatchString(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	return strings.Join(matches, "\n"), nil
}

func handleGrep(_ context.Context, call Call, rt *Runtime) (string, error) {
	pattern := argString(call.Arguments, "pattern")
	path := argString(call.Arguments, "path")
	if pattern == "" {
		return "Error: pattern is required", nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("Error: invalid regular expression: %v", err), nil
	}

	root := rt.Cwd
	if path != "" {
		root = resolvePath(rt.Cwd, path)
	}

	var sb strings.Builder
	scanned := 0
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return nil
		}
		scanned += len(data)
		if scanned > MaxStringScan {
			return filepath.SkipAll
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				rel, _ := filepath.Rel(rt.Cwd, p)
				fmt.Fprintf(&sb, "%s:%d:%s\n", rel, i+1, line)
			}
		}
		return nil
	})
	return sb.String(), nil
}

func handleCodebaseSearch(_ context.Context, call Call, rt *Runtime) (string, error) {
	query := argString(call.Arguments, "query")
	if query == "" {
		return "Error: query is required", nil
	}
	terms := strings.Fields(strings.ToLower(query))

	var sb strings.Builder
	hits := 0
	_ = filepath.WalkDir(rt.Cwd, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || hits >= 50 {
			return nil
		}
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return nil
		}
		lower := strings.ToLower(string(data))
		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > 0 {
			rel, _ := filepath.Rel(rt.Cwd, p)
			fmt.Fprintf(&sb, "%s (score=%d)\n", rel, score)
			hits++
		}
		return nil
	})
	return sb.String(), nil
}

func handleQuerySession(_ context.Context, call Call, rt *Runtime) (string, error) {
	key := argString(call.Arguments, "key")
	if rt.SessionContext == nil {
		return "Error: no session context available", nil
	}
	v, ok := rt.SessionContext[key]
	if !ok {
		return fmt.Sprintf("Error: session key %q not found", key), nil
	}
	return fmt.Sprintf("%v", v), nil
}

func handleWebSearch(ctx context.Context, call Call, rt *Runtime) (string, error) {
	query := argString(call.Arguments, "query")
	if rt.WebSearch == nil {
		return "Error: web_search is not configured for this run", nil
	}
	result, err := rt.WebSearch(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}

var handlers = map[string]Handler{
	"write":            handleWrite,
	"read_file":        handleReadFile,
	"search_replace":   handleSearchReplace,
	"delete_file":      handleDeleteFile,
	"run_terminal_cmd": handleRunTerminalCmd,
	"list_dir":         handleListDir,
	"glob_file_search": handleGlobFileSearch,
	"grep":             handleGrep,
	"codebase_search":  handleCodebaseSearch,
	"query_session":    handleQuerySession,
	"web_search":       handleWebSearch,
}

func resolvePath(cwd, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

// globToRegexp converts a shell-style glob with "**" (match across
// directories) and "*" (match within a path segment) into a regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			sb.WriteString("[^/]")
			i++
		case strings.ContainsRune(".+()|[]{}^$", rune(pattern[i])):
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		default:
			sb.WriteByte(pattern[i])
			i++
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
