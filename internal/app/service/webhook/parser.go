// Package webhook verifies and normalizes inbound provider webhooks and feeds
// them through the deduplication ledger into the projector.
package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported webhook provider")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
)

// EventParser authenticates a raw delivery and maps it to a normalized event.
// Parse must verify the signature before trusting any field of body.
type EventParser interface {
	Provider() types.PaymentProvider
	Parse(header http.Header, body []byte) (*projector.Event, error)
}

type Parsers map[types.PaymentProvider]EventParser

// NewParsers registers a parser for every provider with a webhook secret.
func NewParsers(cfg *config.Config) Parsers {
	p := cfg.Providers
	out := Parsers{}
	add := func(ps EventParser) { out[ps.Provider()] = ps }
	if p.Stripe.WebhookSecret != "" {
		add(NewStripeParser(p.Stripe.WebhookSecret))
	}
	if p.Paystack.SecretKey != "" {
		add(NewPaystackParser(p.Paystack.SecretKey))
	}
	if p.Square.SignatureKey != "" {
		add(NewSquareParser(p.Square.SignatureKey, p.Square.NotificationURL))
	}
	if p.Midtrans.ServerKey != "" {
		add(NewMidtransParser(p.Midtrans.ServerKey))
	}
	if p.BankTransfer.WebhookSecret != "" {
		add(NewBankTransferParser(p.BankTransfer.WebhookSecret))
	}
	return out
}

func (p Parsers) Get(provider types.PaymentProvider) (EventParser, error) {
	ps, ok := p[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return ps, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// equalMAC compares a received signature with the expected one in constant time.
func equalMAC(got, want string) bool {
	got = strings.TrimSpace(got)
	return got != "" && hmac.Equal([]byte(got), []byte(want))
}

// flexString accepts a JSON string, number, or an object carrying an "id".
// Providers expand references inconsistently.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null" || s == "":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
	case strings.HasPrefix(s, "{"):
		var v struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		var id flexString
		if len(v.ID) > 0 {
			if err := id.UnmarshalJSON(v.ID); err != nil {
				return err
			}
		}
		*f = id
	default:
		*f = flexString(s)
	}
	return nil
}

// looseMetadata decodes provider metadata that may be an object or an
// arbitrary scalar such as an empty string.
type looseMetadata map[string]string

func (m *looseMetadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = nil
		return nil
	}
	out := make(looseMetadata, len(raw))
	for k, v := range raw {
		if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	*m = out
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
