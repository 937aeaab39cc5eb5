package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCreated          SubscriptionChangeReason = "created"
	SubscriptionChangeReasonUpdated          SubscriptionChangeReason = "updated"
	SubscriptionChangeReasonPaymentFailed    SubscriptionChangeReason = "payment_failed"
	SubscriptionChangeReasonPaymentSucceeded SubscriptionChangeReason = "payment_succeeded"
	SubscriptionChangeReasonProviderCanceled SubscriptionChangeReason = "provider_canceled"
	SubscriptionChangeReasonDunningRecovered SubscriptionChangeReason = "dunning_recovered"
	SubscriptionChangeReasonDunningCanceled  SubscriptionChangeReason = "dunning_canceled"
	SubscriptionChangeReasonDunningStopped   SubscriptionChangeReason = "dunning_stopped"
)

// BillingEventType is the provider-neutral kind of an inbound webhook.
type BillingEventType string

const (
	BillingEventPaymentFailed        BillingEventType = "payment_failed"
	BillingEventPaymentSucceeded     BillingEventType = "payment_succeeded"
	BillingEventSubscriptionCanceled BillingEventType = "subscription_canceled"
	BillingEventSubscriptionUpdated  BillingEventType = "subscription_updated"
	BillingEventUnknown              BillingEventType = "unknown"
)
