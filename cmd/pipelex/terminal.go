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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/pipelex/pipelex/pkg/tool"
)

const (
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// isTerminal reports whether f is connected to an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TerminalApprover prompts on stdin/stdout for every queued write under a
// confirm-at-end directory (spec §4.10 "pending-writes protocol",
// Config.ConfirmAtEndDirs). On a non-interactive stdin it denies every
// write rather than blocking forever.
type TerminalApprover struct {
	in  *bufio.Reader
	out *os.File
}

// NewTerminalApprover builds an Approver reading from stdin.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (a *TerminalApprover) Approve(_ context.Context, write tool.PendingWrite) bool {
	if !isTerminal(os.Stdin) {
		return false
	}
	fmt.Fprintf(a.out, "\n%s[APPROVAL]%s pending write to %s\n", colorYellow, colorReset, write.Path)
	for {
		fmt.Fprint(a.out, "Approve or deny? (approve/deny/a/d): ")
		line, err := a.in.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "approve", "a":
			return true
		case "deny", "d":
			return false
		default:
			fmt.Fprintln(a.out, "Please enter 'approve' or 'deny' (or 'a'/'d')")
		}
	}
}

// TerminalQA answers a stage's clarifying_questions by prompting on
// stdin/stdout (spec §4.13 step 5, interactive protocol). On a
// non-interactive stdin it returns nil, leaving the questions
// unanswered for this round rather than blocking.
type TerminalQA struct {
	in  *bufio.Reader
	out *os.File
}

// NewTerminalQA builds a QAHandler reading from stdin.
func NewTerminalQA() *TerminalQA {
	return &TerminalQA{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (q *TerminalQA) Ask(_ context.Context, questions []string) map[string]any {
	if !isTerminal(os.Stdin) {
		return nil
	}
	answers := make(map[string]any, len(questions))
	for i, question := range questions {
		fmt.Fprintf(q.out, "\n%s[QUESTION]%s %s\n> ", colorYellow, colorReset, question)
		line, err := q.in.ReadString('\n')
		if err != nil {
			return answers
		}
		answers[fmt.Sprintf("answer_%d", i+1)] = strings.TrimSpace(line)
	}
	return answers
}
