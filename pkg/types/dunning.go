package types

type DunningStatus string

const (
	DunningStatusActive    DunningStatus = "ACTIVE"
	DunningStatusRecovered DunningStatus = "RECOVERED"
	DunningStatusCancelled DunningStatus = "CANCELLED"
)

func (s DunningStatus) Terminal() bool {
	return s == DunningStatusRecovered || s == DunningStatusCancelled
}

// DunningStage is ordered; Index reflects the position in the recovery schedule.
type DunningStage string

const (
	DunningStageInitial      DunningStage = "INITIAL"
	DunningStageWarning1     DunningStage = "WARNING_1"
	DunningStageUrgent       DunningStage = "URGENT"
	DunningStageFinalNotice  DunningStage = "FINAL_NOTICE"
	DunningStageCancellation DunningStage = "CANCELLATION"
)

var DunningStages = []DunningStage{
	DunningStageInitial,
	DunningStageWarning1,
	DunningStageUrgent,
	DunningStageFinalNotice,
	DunningStageCancellation,
}

// Index returns the stage position, or -1 for an unknown value.
func (s DunningStage) Index() int {
	for i, st := range DunningStages {
		if st == s {
			return i
		}
	}
	return -1
}

type PaymentAttemptStatus string

const (
	PaymentAttemptStatusSucceeded PaymentAttemptStatus = "succeeded"
	PaymentAttemptStatusFailed    PaymentAttemptStatus = "failed"
)

// Well-known failure reasons recorded on payment attempts.
const (
	FailureReasonGatewayTimeout = "gateway_timeout"
	FailureReasonGatewayError   = "gateway_error"
	FailureReasonCardDeclined   = "card_declined"
)

// Cancellation reasons recorded on dunning processes.
const (
	CancellationReasonGraceExpired     = "grace_period_expired"
	CancellationReasonProviderCanceled = "provider_canceled"
	CancellationReasonManual           = "manual"
)
