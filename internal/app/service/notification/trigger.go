// Package notification records and sends the customer message tied to each
// dunning stage.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/notifier"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/metrics"
	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Delivery is a recorded notification waiting to be sent once its
// transaction commits.
type Delivery struct {
	ProcessID  string
	Stage      types.DunningStage
	To         string
	TemplateID string
	Data       map[string]any
}

type Trigger struct {
	notifier  notifier.Notifier
	templates Templates
	metrics   *metrics.DunningMetrics
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewTrigger(cfg *config.Config, n notifier.Notifier, m *metrics.DunningMetrics, log *zap.SugaredLogger) *Trigger {
	return &Trigger{
		notifier:  n,
		templates: TemplatesFromConfig(cfg),
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Record inserts the (process, stage) notification row in tx. It returns nil
// when the stage has no template or was already notified. A subscription
// without an email still gets the row, so the stage counts as notified, but
// p.TotalEmailsSent is bumped in memory only when there is a recipient.
func (t *Trigger) Record(ctx context.Context, tx *gorm.DB, p *models.DunningProcess, sub *models.Subscription, stage types.DunningStage) (*Delivery, error) {
	templateID, ok := t.templates.For(stage)
	if !ok {
		return nil, nil
	}
	data := templateData(p, sub, stage)
	row := &models.DunningNotification{
		ID:               tool.GenerateUUIDV7(),
		DunningProcessID: p.ID,
		Stage:            stage,
		TemplateID:       templateID,
		Recipient:        sub.CustomerEmail,
		Context:          datatypes.JSONMap(data),
		SentAt:           t.now().UTC(),
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dunning_process_id"}, {Name: "stage"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to record dunning notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		t.metrics.Notification(string(stage), "duplicate")
		return nil, nil
	}
	if sub.CustomerEmail != "" {
		p.TotalEmailsSent++
	}
	return &Delivery{ProcessID: p.ID, Stage: stage, To: sub.CustomerEmail, TemplateID: templateID, Data: data}, nil
}

// Deliver sends recorded notifications. Failures are logged and counted;
// state has already been committed and is never rolled back for them.
func (t *Trigger) Deliver(ctx context.Context, deliveries ...*Delivery) {
	for _, d := range deliveries {
		if d == nil {
			continue
		}
		lg := logctx.FromCtx(logctx.WithProcessID(ctx, d.ProcessID), t.log)
		if d.To == "" {
			lg.Warnw("dunning notification without recipient", "stage", d.Stage, "template_id", d.TemplateID)
			t.metrics.Notification(string(d.Stage), "no_recipient")
			continue
		}
		if err := t.notifier.Send(ctx, d.To, d.TemplateID, d.Data); err != nil {
			lg.Errorw("failed to send dunning notification", "stage", d.Stage, "template_id", d.TemplateID, "err", err)
			t.metrics.Notification(string(d.Stage), "failed")
			continue
		}
		t.metrics.Notification(string(d.Stage), "sent")
	}
}

func templateData(p *models.DunningProcess, sub *models.Subscription, stage types.DunningStage) map[string]any {
	data := map[string]any{
		"dunning_process_id": p.ID,
		"subscription_id":    sub.ID,
		"subscription_ref":   sub.ProviderSubscriptionID,
		"organization_id":    sub.OrganizationID,
		"plan":               sub.Plan,
		"stage":              string(stage),
		"amount_due":         money.FormatDecimal(p.AmountDue, p.Currency),
		"currency":           p.Currency,
		"attempts":           p.TotalAttempts,
		"will_cancel_at":     p.WillCancelAt.UTC().Format(time.RFC3339),
	}
	if p.NextActionAt != nil {
		data["next_action_at"] = p.NextActionAt.UTC().Format(time.RFC3339)
	}
	return data
}

var Module = fx.Options(
	fx.Provide(NewTrigger),
)
