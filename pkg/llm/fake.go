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

package llm

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is a deterministic Provider test double: it replays a
// fixed queue of responses in order, one per Complete call, and records
// every request it received. Safe for concurrent use so it can stand in
// for stages that run inside a parallel group.
type FakeProvider struct {
	Responses []CompletionResponse
	Requests  []CompletionRequest

	mu    sync.Mutex
	calls int
}

// Complete returns the next queued response. Calling it more times than
// there are queued responses is an error, not a panic, so tests that
// over-call the tool-use loop fail with a readable message.
func (p *FakeProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.calls >= len(p.Responses) {
		return CompletionResponse{}, fmt.Errorf("llm: fake provider exhausted after %d calls", p.calls)
	}
	resp := p.Responses[p.calls]
	p.calls++
	return resp, nil
}

// Calls returns how many times Complete has been invoked.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
