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

// Package scheduler implements the Stage Scheduler (spec §4.4): a single
// left-to-right pass over a pipeline's stage list that batches adjacent
// parallel-eligible stages into one group each, leaving every other stage
// as its own sequential group of one.
package scheduler

import "github.com/pipelex/pipelex/pkg/document"

// Group is one scheduled unit of work: either a single sequential stage,
// or a batch of stages that all declared parallel: true and may run
// concurrently.
type Group struct {
	Parallel bool
	Stages   []document.PipelineStage
}

// Schedule groups an ordered stage list into an ordered sequence of
// Groups. Stages are never reordered: the grouping pass only decides
// which consecutive stages batch together.
//
// A run of two or more consecutive stages that each declare
// parallel: true becomes a single Group with Parallel == true. A lone
// parallel: true stage (no parallel-eligible neighbor) is emitted as its
// own sequential group of one, since there is nothing to run it
// alongside.
func Schedule(stages []document.PipelineStage) []Group {
	groups := make([]Group, 0, len(stages))

	i := 0
	for i < len(stages) {
		if !stages[i].Parallel {
			groups = append(groups, Group{Stages: []document.PipelineStage{stages[i]}})
			i++
			continue
		}

		j := i
		for j < len(stages) && stages[j].Parallel {
			j++
		}

		run := stages[i:j]
		if len(run) > 1 {
			groups = append(groups, Group{Parallel: true, Stages: append([]document.PipelineStage(nil), run...)})
		} else {
			groups = append(groups, Group{Stages: []document.PipelineStage{run[0]}})
		}
		i = j
	}

	return groups
}
