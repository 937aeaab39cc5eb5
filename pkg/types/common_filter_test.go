package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonFilter_Validate(t *testing.T) {
	allowed := []string{"status", "stage"}

	require.NoError(t, (&CommonFilter{Field: "status", Operator: CommonFilterOperatorEq, Values: []any{"ACTIVE"}}).Validate(allowed))
	require.Error(t, (&CommonFilter{Field: "status", Operator: CommonFilterOperatorEq}).Validate(allowed))
	require.Error(t, (&CommonFilter{Field: "status; drop table x", Values: []any{1}}).Validate(allowed))
}

func TestParsePaymentProvider(t *testing.T) {
	p, ok := ParsePaymentProvider("Bank-Transfer")
	require.True(t, ok)
	require.Equal(t, PaymentProviderBankTransfer, p)

	_, ok = ParsePaymentProvider("apple")
	require.False(t, ok)
}

func TestDunningStage_Index(t *testing.T) {
	require.Equal(t, 0, DunningStageInitial.Index())
	require.Equal(t, 4, DunningStageCancellation.Index())
	require.Equal(t, -1, DunningStage("nope").Index())
	require.True(t, DunningStatusRecovered.Terminal())
	require.False(t, DunningStatusActive.Terminal())
}
