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
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPGateway dispatches gateway tool calls to a single connected MCP
// server, implementing the Gateway contract (spec §4.10 "externally-
// registered routing tool... gateway definition"). External MCP server
// connection management is explicitly out of scope for the pipeline
// engine itself (spec §1); this is the thin adapter the Tool Router
// depends on.
type MCPGateway struct {
	Client *client.Client

	mu    sync.Mutex
	names []string
}

// NewMCPGateway wraps an already-initialized MCP client.
func NewMCPGateway(c *client.Client) *MCPGateway {
	return &MCPGateway{Client: c}
}

// Refresh lists the server's tools and caches their names.
func (g *MCPGateway) Refresh(ctx context.Context) error {
	result, err := g.Client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp gateway: list tools: %w", err)
	}
	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	g.mu.Lock()
	g.names = names
	g.mu.Unlock()
	return nil
}

// Names returns the last-refreshed set of remote tool names.
func (g *MCPGateway) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.names...)
}

// Call invokes toolName on the connected MCP server with arguments and
// flattens its text content blocks into a single string.
func (g *MCPGateway) Call(ctx context.Context, toolName string, arguments map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	result, err := g.Client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp gateway: call %s: %w", toolName, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
			sb.WriteString("\n")
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp gateway: %s returned an error: %s", toolName, sb.String())
	}
	return strings.TrimSpace(sb.String()), nil
}
