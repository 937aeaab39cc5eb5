package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/dunning/pkg/config"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := goredis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisNotifier_PublishesMessage(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "dunning:notifications")
	n.now = func() time.Time { return time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, n.Send(context.Background(), "a@example.com", "dunning_urgent", map[string]any{"amount": "29.99 USD"}))
	require.Equal(t, "dunning:notifications", pub.channel)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	require.Equal(t, "a@example.com", msg.To)
	require.Equal(t, "dunning_urgent", msg.TemplateID)
	require.Equal(t, "29.99 USD", msg.Data["amount"])
}

func TestRedisNotifier_PublishError(t *testing.T) {
	n := NewRedisNotifier(&fakePublisher{err: errors.New("conn refused")}, "c")
	err := n.Send(context.Background(), "a@example.com", "t", nil)
	require.ErrorIs(t, err, ErrNotifierUnavailable)
}

func TestNew_SelectsDriver(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core).Sugar()

	cfg := &config.Config{Notifier: config.NotifierConfig{Driver: "redis", Channel: "c"}}
	_, isLog := New(Params{Config: cfg, Logger: l}).(*LogNotifier)
	require.True(t, isLog)
	require.Equal(t, 1, logs.FilterMessageSnippet("without redis.url").Len())

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, isRedis := New(Params{Config: cfg, Logger: l, Redis: client}).(*RedisNotifier)
	require.True(t, isRedis)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core).Sugar())
	require.NoError(t, n.Send(context.Background(), "a@example.com", "dunning_warning_1", nil))
	require.Equal(t, "dunning_notification", logs.All()[0].Message)
}
