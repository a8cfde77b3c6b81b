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

package hooks

import "regexp"

// redosRiskPatterns are structural shapes known to cause catastrophic
// backtracking in a backtracking regex engine: a quantified group
// containing another quantified (or alternated) sub-expression, e.g.
// (a+)+, (a*)*, (a|a)*, (a+){2,}.
var redosRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\([^()]*[+*][^()]*\)[+*{]`),
	regexp.MustCompile(`\([^()]*\|[^()]*\)[+*{]`),
}

// isReDoSRisky applies a conservative structural heuristic to a
// matcher's source pattern. It is intentionally cheap and approximate:
// false positives (skipping a safe pattern) are acceptable, false
// negatives are not caught elsewhere and rely on the per-hook timeout.
func isReDoSRisky(pattern string) bool {
	for _, re := range redosRiskPatterns {
		if re.MatchString(pattern) {
			return true
		}
	}
	return false
}
