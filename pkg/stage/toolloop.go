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

package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/tool"
)

// guidedCompletionSentinel is returned by runToolLoop in place of final
// content when the provider signals a guided completion (spec §4.12 step
// 7): the caller recognizes this value and skips straight to the
// single-stage stopPipeline output.
const guidedCompletionSentinel = "\x00guided-completion\x00"

// runToolLoop drives the provider/tool-router exchange for up to
// maxToolLoopIterations rounds (spec §4.12 step 6). It returns the final
// completion content and accumulated usage.
func runToolLoop(ctx context.Context, provider llm.Provider, router *tool.Router, systemMsg, userMsg llm.Message, model, mode string, tools []llm.ToolDefinition) (string, llm.Usage, error) {
	messages := []llm.Message{systemMsg, userMsg}
	var usage llm.Usage

	for i := 0; i < maxToolLoopIterations; i++ {
		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			Messages:    messages,
			Model:       model,
			Mode:        mode,
			Tools:       tools,
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		})
		if err != nil {
			return "", usage, fmt.Errorf("complete: %w", err)
		}
		usage = addUsage(usage, resp.Usage, messages, resp.Content)

		if resp.GuidedCompletion {
			return guidedCompletionSentinel, usage, nil
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, usage, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		if router == nil {
			return resp.Content, usage, nil
		}

		calls := make([]tool.Call, len(resp.ToolCalls))
		for j, tc := range resp.ToolCalls {
			calls[j] = tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		results := router.ExecuteTools(ctx, calls)
		for _, r := range results {
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: r.Output, ToolCallID: r.ToolCallID})
		}
	}

	// Iteration limit exhausted: one final call without tools, forcing
	// JSON-only output.
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "You have used all available tool-call iterations. Respond now with the required JSON output only, no further tool calls.",
	})
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Model:       model,
		Mode:        mode,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", usage, fmt.Errorf("final forced completion: %w", err)
	}
	usage = addUsage(usage, resp.Usage, messages, resp.Content)
	return resp.Content, usage, nil
}

// addUsage accumulates a completion's token usage onto running, falling
// back to tool.EstimateTokens over the request/response text when the
// provider reported no counts at all (spec §4.14 "token estimates").
func addUsage(running, reported llm.Usage, messages []llm.Message, completion string) llm.Usage {
	if reported.PromptTokens != 0 || reported.CompletionTokens != 0 {
		running.PromptTokens += reported.PromptTokens
		running.CompletionTokens += reported.CompletionTokens
		return running
	}
	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(m.Content)
	}
	running.PromptTokens += tool.EstimateTokens(prompt.String())
	running.CompletionTokens += tool.EstimateTokens(completion)
	return running
}
