package dunning

import (
	"testing"
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSchedule_DefaultOffsets(t *testing.T) {
	s := NewScheduleDays([]int{3, 7, 14}, 21)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, t0.AddDate(0, 0, 3), s.At(t0, types.DunningStageInitial))
	assert.Equal(t, t0.AddDate(0, 0, 7), s.At(t0, types.DunningStageWarning1))
	assert.Equal(t, t0.AddDate(0, 0, 14), s.At(t0, types.DunningStageUrgent))
	assert.Equal(t, t0.AddDate(0, 0, 21), s.At(t0, types.DunningStageCancellation))
	assert.Equal(t, t0.AddDate(0, 0, 21), s.WillCancelAt(t0))

	assert.Equal(t, types.DunningStageWarning1, s.Next(types.DunningStageInitial))
	assert.Equal(t, types.DunningStageUrgent, s.Next(types.DunningStageWarning1))
	assert.Equal(t, types.DunningStageCancellation, s.Next(types.DunningStageUrgent))
	assert.Equal(t, types.DunningStageCancellation, s.Next(types.DunningStageCancellation))
}

func TestSchedule_FourOffsetsUsesFinalNotice(t *testing.T) {
	s := NewScheduleDays([]int{1, 3, 5, 10}, 15)
	t0 := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, types.DunningStageFinalNotice, s.Next(types.DunningStageUrgent))
	assert.Equal(t, t0.AddDate(0, 0, 10), s.At(t0, types.DunningStageFinalNotice))
	assert.Equal(t, types.DunningStageCancellation, s.Next(types.DunningStageFinalNotice))
}

func TestSchedule_IsAFunctionOfStartOnly(t *testing.T) {
	s := NewScheduleDays([]int{3, 7, 14}, 21)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, st := range types.DunningStages {
		assert.Equal(t, s.At(t0, st), s.At(t0, st))
	}
	assert.Equal(t, types.DunningStageCancellation, s.Next(types.DunningStage("BOGUS")))
}
