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
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens returns a best-effort token count for text, used to
// annotate a dry-run plan with estimated cost (spec §4.14 "token
// estimates"). Falls back to a chars/4 heuristic if the encoder can't be
// loaded (e.g. no network access to fetch its vocabulary file).
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
