package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelex/pipelex/pkg/document"
)

func stage(name string, parallel bool) document.PipelineStage {
	return document.PipelineStage{Stage: name, Parallel: parallel}
}

func TestScheduleAllSequential(t *testing.T) {
	groups := Schedule([]document.PipelineStage{stage("a", false), stage("b", false)})
	require.Len(t, groups, 2)
	assert.False(t, groups[0].Parallel)
	assert.False(t, groups[1].Parallel)
	assert.Equal(t, "a", groups[0].Stages[0].Stage)
	assert.Equal(t, "b", groups[1].Stages[0].Stage)
}

func TestScheduleBatchesAdjacentParallelStages(t *testing.T) {
	groups := Schedule([]document.PipelineStage{
		stage("a", false),
		stage("b", true),
		stage("c", true),
		stage("d", false),
	})
	require.Len(t, groups, 3)
	assert.False(t, groups[0].Parallel)
	assert.True(t, groups[1].Parallel)
	require.Len(t, groups[1].Stages, 2)
	assert.Equal(t, "b", groups[1].Stages[0].Stage)
	assert.Equal(t, "c", groups[1].Stages[1].Stage)
	assert.False(t, groups[2].Parallel)
}

func TestScheduleLoneParallelStageIsSequential(t *testing.T) {
	groups := Schedule([]document.PipelineStage{stage("a", false), stage("b", true), stage("c", false)})
	require.Len(t, groups, 3)
	assert.False(t, groups[1].Parallel)
	assert.Equal(t, "b", groups[1].Stages[0].Stage)
}

func TestScheduleAllParallel(t *testing.T) {
	groups := Schedule([]document.PipelineStage{stage("a", true), stage("b", true), stage("c", true)})
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Parallel)
	assert.Len(t, groups[0].Stages, 3)
}

func TestScheduleEmpty(t *testing.T) {
	assert.Empty(t, Schedule(nil))
}

func TestScheduleDoesNotReorderStages(t *testing.T) {
	input := []document.PipelineStage{stage("a", true), stage("b", true), stage("c", false), stage("d", true)}
	groups := Schedule(input)
	var order []string
	for _, g := range groups {
		for _, s := range g.Stages {
			order = append(order, s.Stage)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}
