// Package notifier delivers dunning messages. Concrete email delivery lives
// behind whatever consumes the published messages.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logctx"
)

var ErrNotifierUnavailable = errors.New("notifier unavailable")

type Notifier interface {
	Send(ctx context.Context, to, templateID string, data map[string]any) error
}

// Message is the payload published for downstream delivery.
type Message struct {
	To         string         `json:"to"`
	TemplateID string         `json:"template_id"`
	Data       map[string]any `json:"data"`
	SentAt     time.Time      `json:"sent_at"`
}

// LogNotifier writes messages to the log only.
type LogNotifier struct {
	l *zap.SugaredLogger
}

func NewLogNotifier(l *zap.SugaredLogger) *LogNotifier { return &LogNotifier{l: l} }

func (n *LogNotifier) Send(ctx context.Context, to, templateID string, data map[string]any) error {
	logctx.FromCtx(ctx, n.l).Infow("dunning_notification", "to", to, "template_id", templateID, "data", data)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisNotifier publishes messages on a Redis channel for a mail worker.
type RedisNotifier struct {
	client  publisher
	channel string
	now     func() time.Time
}

func NewRedisNotifier(client publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, now: time.Now}
}

func (n *RedisNotifier) Send(ctx context.Context, to, templateID string, data map[string]any) error {
	raw, err := json.Marshal(Message{To: to, TemplateID: templateID, Data: data, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrNotifierUnavailable, n.channel, err)
	}
	return nil
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.SugaredLogger
	Redis  *goredis.Client `optional:"true"`
}

// New selects the notifier driver; "redis" falls back to the log driver when
// no Redis client is configured.
func New(p Params) Notifier {
	if p.Config.Notifier.Driver == "redis" {
		if p.Redis != nil {
			return NewRedisNotifier(p.Redis, p.Config.Notifier.Channel)
		}
		p.Logger.Warnw("notifier driver redis requested without redis.url, using log driver")
	}
	return NewLogNotifier(p.Logger)
}

var Module = fx.Options(
	fx.Provide(New),
)
