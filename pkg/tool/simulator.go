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
	"fmt"
	"os"
	"strings"
	"sync"
)

// PlannedOp is one operation the Simulator recorded instead of
// performing, for later rendering as a dry-run plan (spec §4.14
// "renders the planned operations to the user").
type PlannedOp struct {
	Tool   string
	Path   string
	Diff   string
	Detail string
}

// Simulator records intended non-read-only tool operations during
// dry-run mode without touching the filesystem (spec §4.10 step 1).
type Simulator struct {
	mu   sync.Mutex
	Plan []PlannedOp
}

// NewSimulator constructs an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Simulate records call as a planned operation and returns a
// success-looking result string without running the tool.
func (s *Simulator) Simulate(call Call, rt *Runtime) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch call.Name {
	case "write":
		path := argString(call.Arguments, "path")
		newContent := argString(call.Arguments, "content")
		diff := diffAgainstDisk(resolvePath(rt.Cwd, path), newContent)
		s.Plan = append(s.Plan, PlannedOp{Tool: "write", Path: path, Diff: diff})
		return fmt.Sprintf("[dry-run] would write %d bytes to %s", len(newContent), path)
	case "search_replace":
		path := argString(call.Arguments, "path")
		s.Plan = append(s.Plan, PlannedOp{Tool: "search_replace", Path: path})
		return fmt.Sprintf("[dry-run] would replace text in %s", path)
	case "delete_file":
		path := argString(call.Arguments, "path")
		s.Plan = append(s.Plan, PlannedOp{Tool: "delete_file", Path: path})
		return fmt.Sprintf("[dry-run] would delete %s", path)
	case "run_terminal_cmd":
		command := argString(call.Arguments, "command")
		s.Plan = append(s.Plan, PlannedOp{Tool: "run_terminal_cmd", Detail: command})
		return fmt.Sprintf("[dry-run] would run: %s", command)
	default:
		s.Plan = append(s.Plan, PlannedOp{Tool: call.Name, Detail: fmt.Sprintf("%v", call.Arguments)})
		return fmt.Sprintf("[dry-run] would call %s", call.Name)
	}
}

// diffAgainstDisk produces a minimal unified-style diff between the
// current on-disk content (if any) and newContent.
func diffAgainstDisk(path, newContent string) string {
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("--- /dev/null\n+++ %s\n%s", path, prefixLines("+", newContent))
	}
	if string(existing) == newContent {
		return "(no changes)"
	}
	return fmt.Sprintf("--- %s\n+++ %s\n%s%s", path, path, prefixLines("-", string(existing)), prefixLines("+", newContent))
}

func prefixLines(prefix, content string) string {
	lines := strings.Split(content, "\n")
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(prefix + l + "\n")
	}
	return sb.String()
}
