package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fatflowers/dunning/internal/app/service/delivery_log"
	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/eventstore"
	"github.com/fatflowers/dunning/internal/app/service/notification"
	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/internal/app/service/retry"
	"github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/db/dbtest"
	"github.com/fatflowers/dunning/internal/platform/gateway"
	"github.com/fatflowers/dunning/internal/platform/notifier"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchiver) Archive(_ context.Context, provider types.PaymentProvider, eventID string, _ time.Time, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, string(provider)+"/"+eventID)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

type memoryReplayStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (s *memoryReplayStore) Exists(ctx context.Context, keys ...string) *goredis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return goredis.NewIntResult(0, s.err)
	}
	var n int64
	for _, k := range keys {
		if s.keys[k] {
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func (s *memoryReplayStore) SetNX(ctx context.Context, key string, _ interface{}, _ time.Duration) *goredis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return goredis.NewBoolResult(false, s.err)
	}
	if s.keys[key] {
		return goredis.NewBoolResult(false, nil)
	}
	s.keys[key] = true
	return goredis.NewBoolResult(true, nil)
}

type ingestFixture struct {
	db       *gorm.DB
	ing      *Ingestor
	bank     *BankTransferParser
	archiver *recordingArchiver
	replay   *memoryReplayStore
}

func newIngestFixture(t *testing.T) *ingestFixture {
	db := dbtest.Open(t)
	cfg := &config.Config{
		Dunning:   config.DunningConfig{RetryOffsetsDays: []int{3, 7, 14}, GracePeriodDays: 21},
		Providers: config.ProvidersConfig{GatewayTimeout: time.Second},
	}
	log := zap.NewNop().Sugar()
	subs := subscription.NewService(db, log)
	repo := dunning.NewRepository(db)
	exec := retry.NewExecutor(cfg, gateway.NewRegistry(), nil, log)
	trig := notification.NewTrigger(cfg, notifier.NewLogNotifier(log), nil, log)
	machine := dunning.NewMachine(cfg, db, repo, subs, exec, trig, nil, log)

	bank := NewBankTransferParser("bt_secret")
	archiver := &recordingArchiver{}
	replay := &memoryReplayStore{keys: map[string]bool{}}
	ing := NewIngestor(Params{
		DB:         db,
		Parsers:    Parsers{types.PaymentProviderBankTransfer: bank},
		Events:     eventstore.New(db, log),
		Projector:  projector.New(subs, machine, log),
		Deliveries: delivery_log.New(db, log),
		Guard:      NewRedisReplayGuard(replay, time.Hour),
		Archiver:   archiver,
		Logger:     log,
	})
	return &ingestFixture{db: db, ing: ing, bank: bank, archiver: archiver, replay: replay}
}

func (f *ingestFixture) ingest(body string) (*Ack, error) {
	h := http.Header{}
	h.Set(BankTransferSignatureHeader, f.bank.Sign([]byte(body)))
	return f.ing.Ingest(context.Background(), types.PaymentProviderBankTransfer, h, []byte(body))
}

func (f *ingestFixture) count(t *testing.T, model any) int64 {
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *ingestFixture) deliveriesWith(t *testing.T, status models.WebhookDeliveryStatus) func() bool {
	return func() bool {
		var n int64
		if err := f.db.Model(&models.WebhookDeliveryLog{}).Where("status = ?", status).Count(&n).Error; err != nil {
			return false
		}
		return n > 0
	}
}

const failedBody = `{"id":"bt-1","type":"payment_failed","subscription_ref":"bt-sub-1","customer_email":"a@example.com","amount":"49.00","currency":"EUR"}`

func TestIngest_ProjectsOnceAndAcksDuplicates(t *testing.T) {
	f := newIngestFixture(t)

	ack, err := f.ingest(failedBody)
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
	assert.NotEmpty(t, ack.EventID)
	assert.Equal(t, types.BillingEventPaymentFailed, ack.EventType)
	require.NotNil(t, ack.Result)
	assert.Equal(t, projector.ActionDunningStarted, ack.Result.Action)

	// replay guard short-circuits the second delivery
	again, err := f.ingest(failedBody)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Result)

	assert.EqualValues(t, 1, f.count(t, &models.BillingEvent{}))
	assert.EqualValues(t, 1, f.count(t, &models.DunningProcess{}))
	require.Eventually(t, func() bool { return f.archiver.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, f.deliveriesWith(t, models.WebhookDeliveryStatusDuplicate), time.Second, 10*time.Millisecond)
}

func TestIngest_LedgerIsAuthoritativeWithoutGuard(t *testing.T) {
	f := newIngestFixture(t)
	f.replay.err = errors.New("redis down")

	first, err := f.ingest(failedBody)
	require.NoError(t, err)

	again, err := f.ingest(failedBody)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.EventID, again.EventID)
	assert.EqualValues(t, 1, f.count(t, &models.BillingEvent{}))
	assert.EqualValues(t, 1, f.count(t, &models.DunningProcess{}))
}

func TestIngest_RecoveryClosesProcess(t *testing.T) {
	f := newIngestFixture(t)

	ack, err := f.ingest(failedBody)
	require.NoError(t, err)
	procID := ack.Result.DunningProcessID

	ack, err = f.ingest(`{"id":"bt-2","type":"payment_succeeded","subscription_ref":"bt-sub-1"}`)
	require.NoError(t, err)
	assert.Equal(t, projector.ActionDunningRecovered, ack.Result.Action)
	assert.Equal(t, procID, ack.Result.DunningProcessID)

	var p models.DunningProcess
	require.NoError(t, f.db.First(&p, "id = ?", procID).Error)
	assert.Equal(t, types.DunningStatusRecovered, p.Status)
}

func TestIngest_Rejections(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, types.PaymentProviderBankTransfer, http.Header{BankTransferSignatureHeader: []string{"bad"}}, []byte(failedBody))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.ing.Ingest(ctx, types.PaymentProviderSquare, http.Header{}, []byte(failedBody))
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	// payment_failed without an amount
	_, err = f.ingest(`{"id":"bt-3","type":"payment_failed","subscription_ref":"bt-sub-1","currency":"EUR"}`)
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = f.ingest(`not json`)
	require.ErrorIs(t, err, ErrMalformedPayload)

	assert.EqualValues(t, 0, f.count(t, &models.BillingEvent{}))
	require.Eventually(t, f.deliveriesWith(t, models.WebhookDeliveryStatusRejected), time.Second, 10*time.Millisecond)
}

func TestIngest_UnknownEventIsRecordedAndIgnored(t *testing.T) {
	f := newIngestFixture(t)

	ack, err := f.ingest(`{"id":"bt-4","type":"refund"}`)
	require.NoError(t, err)
	assert.Equal(t, projector.ActionIgnored, ack.Result.Action)
	assert.EqualValues(t, 1, f.count(t, &models.BillingEvent{}))
	assert.EqualValues(t, 0, f.count(t, &models.Subscription{}))
	require.Eventually(t, f.deliveriesWith(t, models.WebhookDeliveryStatusHandled), time.Second, 10*time.Millisecond)
}
