package webhook

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
)

// Midtrans reports times in Asia/Jakarta without an offset.
var jakarta = time.FixedZone("WIB", 7*60*60)

// MidtransParser checks signature_key = sha512(order_id + status_code +
// gross_amount + server_key) carried inside the body.
type MidtransParser struct {
	serverKey string
}

func NewMidtransParser(serverKey string) *MidtransParser { return &MidtransParser{serverKey: serverKey} }

func (p *MidtransParser) Provider() types.PaymentProvider { return types.PaymentProviderMidtrans }

type midtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	PaymentType       string `json:"payment_type"`
	SavedTokenID      string `json:"saved_token_id"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

func (p *MidtransParser) Sign(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + p.serverKey))
	return hex.EncodeToString(sum[:])
}

func (p *MidtransParser) Parse(_ http.Header, body []byte) (*projector.Event, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, malformed("midtrans notification: %v", err)
	}
	if !equalMAC(strings.ToLower(n.SignatureKey), p.Sign(n.OrderID, n.StatusCode, n.GrossAmount)) {
		return nil, ErrInvalidSignature
	}
	if n.TransactionID == "" || n.TransactionStatus == "" {
		return nil, malformed("midtrans notification without transaction id or status")
	}

	ev := &projector.Event{
		Provider:          types.PaymentProviderMidtrans,
		ProviderEventID:   n.TransactionID + ":" + n.TransactionStatus,
		ProviderEventType: n.TransactionStatus,
		Type:              types.BillingEventUnknown,
		// charges we create carry the subscription ref in custom_field1
		SubscriptionRef:  n.CustomField1,
		CustomerRef:      n.CustomField2,
		PaymentMethodRef: n.SavedTokenID,
		Currency:         strings.ToUpper(firstNonEmpty(n.Currency, "IDR")),
		OccurredAt:       time.Now().UTC(),
	}
	if t, err := time.ParseInLocation(time.DateTime, n.TransactionTime, jakarta); err == nil {
		ev.OccurredAt = t.UTC()
	}
	if ev.SubscriptionRef == "" {
		return ev, nil
	}

	switch n.TransactionStatus {
	case "capture":
		if n.FraudStatus != "challenge" {
			ev.Type = types.BillingEventPaymentSucceeded
		}
	case "settlement":
		ev.Type = types.BillingEventPaymentSucceeded
	case "deny", "cancel", "expire", "failure":
		amount, err := decimal.NewFromString(strings.TrimSpace(n.GrossAmount))
		if err != nil {
			return nil, malformed("midtrans gross_amount %q", n.GrossAmount)
		}
		ev.Type = types.BillingEventPaymentFailed
		ev.Amount = amount
	}
	return ev, nil
}
