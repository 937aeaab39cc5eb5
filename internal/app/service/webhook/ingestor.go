package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/delivery_log"
	"github.com/fatflowers/dunning/internal/app/service/eventstore"
	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/archive"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/metrics"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ack is returned to the provider once a delivery is durably handled.
type Ack struct {
	Duplicate       bool                   `json:"duplicate"`
	EventID         string                 `json:"event_id,omitempty"`
	ProviderEventID string                 `json:"provider_event_id"`
	EventType       types.BillingEventType `json:"event_type"`
	Result          *projector.Result      `json:"result,omitempty"`
}

type Ingestor struct {
	db         *gorm.DB
	parsers    Parsers
	events     *eventstore.Store
	projector  *projector.Projector
	deliveries *delivery_log.Service
	guard      ReplayGuard
	archiver   archive.Archiver
	metrics    *metrics.DunningMetrics
	log        *zap.SugaredLogger
	now        func() time.Time
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Parsers    Parsers
	Events     *eventstore.Store
	Projector  *projector.Projector
	Deliveries *delivery_log.Service
	Guard      ReplayGuard
	Archiver   archive.Archiver
	Metrics    *metrics.DunningMetrics
	Logger     *zap.SugaredLogger
}

func NewIngestor(p Params) *Ingestor {
	return &Ingestor{
		db:         p.DB,
		parsers:    p.Parsers,
		events:     p.Events,
		projector:  p.Projector,
		deliveries: p.Deliveries,
		guard:      p.Guard,
		archiver:   p.Archiver,
		metrics:    p.Metrics,
		log:        p.Logger,
		now:        time.Now,
	}
}

// Ingest authenticates, deduplicates and projects one delivery. A duplicate
// is acknowledged without side effects. Any returned error means nothing was
// committed and the provider should redeliver.
func (i *Ingestor) Ingest(ctx context.Context, provider types.PaymentProvider, header http.Header, body []byte) (ack *Ack, resErr error) {
	ctx = logctx.WithProvider(ctx, string(provider))
	lg := logctx.FromCtx(ctx, i.log)
	start := i.now()
	receivedAt := start.UTC()

	ev, err := i.parse(provider, header, body)
	if err != nil {
		lg.Warnw("webhook rejected", "error", err)
		i.saveDelivery(ctx, provider, "", receivedAt, body, models.WebhookDeliveryStatusRejected, map[string]any{"error": err.Error()})
		i.metrics.WebhookEvent(string(provider), "rejected")
		return nil, err
	}
	lg = lg.With("provider_event_id", ev.ProviderEventID, "event_type", ev.Type)
	ack = &Ack{ProviderEventID: ev.ProviderEventID, EventType: ev.Type}

	i.saveDelivery(ctx, provider, ev.ProviderEventID, receivedAt, body, models.WebhookDeliveryStatusReceived, nil)
	defer func() {
		status := models.WebhookDeliveryStatusHandled
		outcome := "handled"
		result := map[string]any{"ack": ack}
		switch {
		case resErr != nil:
			status, outcome = models.WebhookDeliveryStatusHandleFailed, "failed"
			result["error"] = resErr.Error()
		case ack.Duplicate:
			status, outcome = models.WebhookDeliveryStatusDuplicate, "duplicate"
		}
		i.saveDelivery(ctx, provider, ev.ProviderEventID, receivedAt, body, status, result)
		i.metrics.WebhookEvent(string(provider), outcome)
		i.metrics.ObserveProcess("webhook", string(provider), start)
	}()

	if seen, err := i.guard.Seen(ctx, provider, ev.ProviderEventID); err != nil {
		lg.Warnw("replay guard unavailable", "error", err)
	} else if seen {
		lg.Infow("duplicate webhook (replay guard)")
		ack.Duplicate = true
		return ack, nil
	}

	rec := &models.BillingEvent{
		ID:                tool.GenerateUUIDV7(),
		Provider:          provider,
		ProviderEventID:   ev.ProviderEventID,
		EventType:         ev.Type,
		ProviderEventType: ev.ProviderEventType,
		SubscriptionRef:   ev.SubscriptionRef,
		ReceivedAt:        receivedAt,
		RawPayload:        body,
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := i.events.Record(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			ack.Duplicate = true
			return nil
		}
		res, err := i.projector.Apply(ctx, tx, ev, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to project event: %w", err)
		}
		ack.Result = res
		return nil
	})
	if err != nil {
		lg.Errorw("webhook handling failed", "error", err)
		return ack, err
	}

	if ack.Duplicate {
		lg.Infow("duplicate webhook (ledger)")
		if existing, err := i.events.Get(ctx, provider, ev.ProviderEventID); err == nil {
			ack.EventID = existing.ID
		}
		return ack, nil
	}
	ack.EventID = rec.ID

	if err := i.guard.Mark(ctx, provider, ev.ProviderEventID); err != nil {
		lg.Warnw("failed to mark webhook in replay guard", "error", err)
	}
	i.archive(ctx, provider, ev.ProviderEventID, receivedAt, body)
	lg.Infow("webhook handled", "action", ack.Result.Action, "subscription_id", ack.Result.SubscriptionID)
	return ack, nil
}

func (i *Ingestor) parse(provider types.PaymentProvider, header http.Header, body []byte) (*projector.Event, error) {
	parser, err := i.parsers.Get(provider)
	if err != nil {
		return nil, err
	}
	ev, err := parser.Parse(header, body)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformedPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return ev, nil
}

// archive copies the body to object storage off the request path. Failures
// never affect the acknowledgement.
func (i *Ingestor) archive(ctx context.Context, provider types.PaymentProvider, eventID string, receivedAt time.Time, body []byte) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := i.archiver.Archive(ctx, provider, eventID, receivedAt, body); err != nil {
			logctx.FromCtx(ctx, i.log).Warnw("failed to archive webhook body", "provider_event_id", eventID, "error", err)
		}
	}()
}

func (i *Ingestor) saveDelivery(ctx context.Context, provider types.PaymentProvider, eventID string, receivedAt time.Time, body []byte, status models.WebhookDeliveryStatus, result map[string]any) {
	data := datatypes.JSON(body)
	if !json.Valid(body) {
		raw, _ := json.Marshal(map[string]string{"raw": string(body)})
		data = datatypes.JSON(raw)
	}
	log := &models.WebhookDeliveryLog{
		Provider:        provider,
		ProviderEventID: eventID,
		TraceID:         logctx.TraceID(ctx),
		ReceivedAt:      receivedAt,
		Data:            data,
		Status:          status,
	}
	if result != nil {
		raw, _ := json.Marshal(result)
		j := datatypes.JSON(raw)
		log.Result = &j
	}
	i.deliveries.Save(context.WithoutCancel(ctx), log)
}

var Module = fx.Options(
	fx.Provide(
		NewParsers,
		NewReplayGuard,
		NewIngestor,
	),
)
