package gateway

import (
	"context"

	"github.com/fatflowers/dunning/pkg/types"
)

// ReasonAwaitingBankTransfer is recorded when the customer pays by push
// transfer and nothing can be pulled.
const ReasonAwaitingBankTransfer = "awaiting_bank_transfer"

// BankTransferGateway cannot initiate charges. Each scheduled retry is a
// declined attempt so the process keeps warning the customer, and recovery
// happens when the bank webhook reports the incoming transfer.
type BankTransferGateway struct{}

func NewBankTransferGateway() *BankTransferGateway { return &BankTransferGateway{} }

func (g *BankTransferGateway) Provider() types.PaymentProvider {
	return types.PaymentProviderBankTransfer
}

func (g *BankTransferGateway) ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return nil, Declined(ReasonAwaitingBankTransfer, nil)
}
