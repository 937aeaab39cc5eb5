package types

import "strings"

type PaymentProvider string

const (
	PaymentProviderStripe       PaymentProvider = "stripe"
	PaymentProviderPaystack     PaymentProvider = "paystack"
	PaymentProviderSquare       PaymentProvider = "square"
	PaymentProviderMidtrans     PaymentProvider = "midtrans"
	PaymentProviderBankTransfer PaymentProvider = "bank_transfer"
)

var knownProviders = []PaymentProvider{
	PaymentProviderStripe,
	PaymentProviderPaystack,
	PaymentProviderSquare,
	PaymentProviderMidtrans,
	PaymentProviderBankTransfer,
}

// ParsePaymentProvider maps a route or config value onto a known provider.
// Hyphenated spellings ("bank-transfer") are accepted.
func ParsePaymentProvider(raw string) (PaymentProvider, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	for _, p := range knownProviders {
		if string(p) == normalized {
			return p, true
		}
	}
	return "", false
}

// KnownProviders returns every supported provider in a stable order.
func KnownProviders() []PaymentProvider {
	return append([]PaymentProvider(nil), knownProviders...)
}
