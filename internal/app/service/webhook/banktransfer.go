package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
)

const BankTransferSignatureHeader = "X-Signature"

// BankTransferParser accepts reconciliation callbacks from the internal bank
// transfer matcher. The payload already uses normalized event types.
type BankTransferParser struct {
	secret string
}

func NewBankTransferParser(secret string) *BankTransferParser {
	return &BankTransferParser{secret: secret}
}

func (p *BankTransferParser) Provider() types.PaymentProvider {
	return types.PaymentProviderBankTransfer
}

type bankTransferPayload struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	SubscriptionRef string          `json:"subscription_ref"`
	CustomerRef     string          `json:"customer_ref"`
	CustomerEmail   string          `json:"customer_email"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	OrganizationID  string          `json:"organization_id"`
	Plan            string          `json:"plan"`
	OccurredAt      *time.Time      `json:"occurred_at"`
}

func (p *BankTransferParser) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *BankTransferParser) Parse(header http.Header, body []byte) (*projector.Event, error) {
	if !equalMAC(strings.ToLower(header.Get(BankTransferSignatureHeader)), p.Sign(body)) {
		return nil, ErrInvalidSignature
	}
	var in bankTransferPayload
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, malformed("bank transfer payload: %v", err)
	}
	ev := &projector.Event{
		Provider:          types.PaymentProviderBankTransfer,
		ProviderEventID:   in.ID,
		ProviderEventType: in.Type,
		Type:              types.BillingEventUnknown,
		SubscriptionRef:   in.SubscriptionRef,
		OrganizationID:    in.OrganizationID,
		CustomerRef:       in.CustomerRef,
		CustomerEmail:     in.CustomerEmail,
		Plan:              in.Plan,
		Amount:            in.Amount,
		Currency:          strings.ToUpper(in.Currency),
		OccurredAt:        time.Now().UTC(),
	}
	if in.OccurredAt != nil {
		ev.OccurredAt = in.OccurredAt.UTC()
	}
	switch t := types.BillingEventType(in.Type); t {
	case types.BillingEventPaymentFailed, types.BillingEventPaymentSucceeded,
		types.BillingEventSubscriptionCanceled, types.BillingEventSubscriptionUpdated:
		ev.Type = t
	}
	return ev, nil
}
