package dunning

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
)

type OutcomeKind string

const (
	OutcomeRecovered   OutcomeKind = "recovered"
	OutcomeRetryFailed OutcomeKind = "retry_failed"
	OutcomeCancelled   OutcomeKind = "cancelled"
	// OutcomeSkipped covers rows that were not due, already terminal, or whose
	// lease was lost to another worker or a webhook.
	OutcomeSkipped OutcomeKind = "skipped"
)

// StageOutcome describes what one Advance did.
type StageOutcome struct {
	ProcessID     string              `json:"process_id"`
	Kind          OutcomeKind         `json:"kind"`
	FromStage     types.DunningStage  `json:"from_stage"`
	ToStage       types.DunningStage  `json:"to_stage"`
	Status        types.DunningStatus `json:"status"`
	NextActionAt  *time.Time          `json:"next_action_at,omitempty"`
	AttemptNumber int                 `json:"attempt_number,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	SkipReason    string              `json:"skip_reason,omitempty"`
}
