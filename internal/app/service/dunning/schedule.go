package dunning

import (
	"time"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

const day = 24 * time.Hour

// Schedule derives every timestamp of a process from its start. Stage i
// below len(offsets) retries at start+offsets[i]; past the last offset the
// process waits in CANCELLATION until start+grace.
type Schedule struct {
	offsets []time.Duration
	grace   time.Duration
}

func NewSchedule(cfg *config.Config) Schedule {
	return NewScheduleDays(cfg.Dunning.RetryOffsetsDays, cfg.Dunning.GracePeriodDays)
}

func NewScheduleDays(offsets []int, graceDays int) Schedule {
	s := Schedule{grace: time.Duration(graceDays) * day}
	for _, d := range offsets {
		s.offsets = append(s.offsets, time.Duration(d)*day)
	}
	return s
}

// At returns when a process started at startedAt acts in stage.
func (s Schedule) At(startedAt time.Time, stage types.DunningStage) time.Time {
	if idx := stage.Index(); idx >= 0 && idx < len(s.offsets) {
		return startedAt.Add(s.offsets[idx])
	}
	return s.WillCancelAt(startedAt)
}

func (s Schedule) WillCancelAt(startedAt time.Time) time.Time {
	return startedAt.Add(s.grace)
}

// Next is the stage entered after a failed retry in stage.
func (s Schedule) Next(stage types.DunningStage) types.DunningStage {
	idx := stage.Index() + 1
	if idx <= 0 || idx >= len(s.offsets) {
		return types.DunningStageCancellation
	}
	return types.DunningStages[idx]
}
