package statistics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidRequest wraps rejected filters and data items.
var ErrInvalidRequest = errors.New("invalid statistics request")

type StatisticType string

const (
	StatisticTypeProcessCountByStatus    StatisticType = "process_count_by_status"
	StatisticTypeRecoveryRate            StatisticType = "recovery_rate"
	StatisticTypeRecoveredAmount         StatisticType = "recovered_amount"
	StatisticTypeOutstandingAmount       StatisticType = "outstanding_amount"
	StatisticTypeAttemptsByStatus        StatisticType = "attempts_by_status"
	StatisticTypeAttemptsByFailureReason StatisticType = "attempts_by_failure_reason"
	StatisticTypeCancellationsByReason   StatisticType = "cancellations_by_reason"
)

// Filters select the dunning processes a statistic covers. Attempt
// statistics cover the attempts of the selected processes.
var FilterFields = []string{"provider", "currency", "status", "stage", "started_at"}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items"`
}

// ResponseDataItem mirrors the dashboard row shape. RecoveryRate is in basis
// points (value), with value2 the terminal count and value3 the recovered count.
type ResponseDataItem struct {
	Label  string           `json:"label,omitempty"`
	Value  int64            `json:"value"`
	Value2 int64            `json:"value2,omitempty"`
	Value3 int64            `json:"value3,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type Response struct {
	DataItems map[StatisticType][]ResponseDataItem `json:"data_items"`
}

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) processes(ctx context.Context, req *Request) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.DunningProcess{}).
		Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
}

func (s *Service) attempts(ctx context.Context, req *Request) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.PaymentAttempt{})
	if len(req.Filters) > 0 {
		q = q.Where("dunning_process_id IN (?)", s.processes(ctx, req).Select("id"))
	}
	return q
}

func (s *Service) processCountByStatus(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.processes(ctx, req).
		Select("status as label, count(*) as value").
		Group("status").
		Order("label").
		Scan(&results).Error
	return results, err
}

func (s *Service) recoveryRate(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var row struct {
		Recovered int64
		Terminal  int64
	}
	err := s.processes(ctx, req).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) as recovered, COALESCE(SUM(CASE WHEN status IN ? THEN 1 ELSE 0 END), 0) as terminal",
			types.DunningStatusRecovered, []types.DunningStatus{types.DunningStatusRecovered, types.DunningStatusCancelled}).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	var rate int64
	if row.Terminal > 0 {
		rate = row.Recovered * 10000 / row.Terminal
	}
	return []ResponseDataItem{{Label: "recovery_rate_bps", Value: rate, Value2: row.Terminal, Value3: row.Recovered}}, nil
}

type amountRow struct {
	Label  string
	Value  int64
	Amount decimal.Decimal
}

func (s *Service) amountByCurrency(ctx context.Context, req *Request, column string, status types.DunningStatus) ([]ResponseDataItem, error) {
	var rows []amountRow
	err := s.processes(ctx, req).
		Select(fmt.Sprintf("currency as label, count(*) as value, COALESCE(SUM(%s), 0) as amount", column)).
		Where("status = ?", status).
		Group("currency").
		Order("label").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r amountRow, _ int) ResponseDataItem {
		return ResponseDataItem{Label: r.Label, Value: r.Value, Amount: lo.ToPtr(r.Amount)}
	}), nil
}

func (s *Service) attemptsGrouped(ctx context.Context, req *Request, column string) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.attempts(ctx, req).
		Select(fmt.Sprintf("COALESCE(%s, '') as label, count(*) as value", column)).
		Group(column).
		Order("label").
		Scan(&results).Error
	return results, err
}

func (s *Service) cancellationsByReason(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.processes(ctx, req).
		Select("COALESCE(cancellation_reason, '') as label, count(*) as value").
		Where("status = ?", types.DunningStatusCancelled).
		Group("cancellation_reason").
		Order("label").
		Scan(&results).Error
	return results, err
}

func (s *Service) statistic(ctx context.Context, req *Request, item *DataItem) ([]ResponseDataItem, error) {
	switch item.ID {
	case StatisticTypeProcessCountByStatus:
		return s.processCountByStatus(ctx, req)
	case StatisticTypeRecoveryRate:
		return s.recoveryRate(ctx, req)
	case StatisticTypeRecoveredAmount:
		return s.amountByCurrency(ctx, req, "amount_recovered", types.DunningStatusRecovered)
	case StatisticTypeOutstandingAmount:
		return s.amountByCurrency(ctx, req, "amount_due", types.DunningStatusActive)
	case StatisticTypeAttemptsByStatus:
		return s.attemptsGrouped(ctx, req, "status")
	case StatisticTypeAttemptsByFailureReason:
		return s.attemptsGrouped(ctx, req, "failure_reason")
	case StatisticTypeCancellationsByReason:
		return s.cancellationsByReason(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown data item %s", ErrInvalidRequest, item.ID)
	}
}

// Get computes every requested data item concurrently.
func (s *Service) Get(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || len(req.DataItems) == 0 {
		return nil, fmt.Errorf("%w: data_items required", ErrInvalidRequest)
	}
	for _, f := range req.Filters {
		if err := f.Validate(FilterFields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(req.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []ResponseDataItem], len(req.DataItems))
	for _, item := range req.DataItems {
		wg.Add(1)
		go func(di *DataItem) {
			defer wg.Done()
			res, err := s.statistic(ctx, req, di)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", di.ID, err)
				return
			}
			resChan <- &lo.Entry[StatisticType, []ResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}
	wg.Wait()
	close(errChan)
	close(resChan)
	if err := <-errChan; err != nil {
		return nil, err
	}

	results := make(map[StatisticType][]ResponseDataItem, len(req.DataItems))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &Response{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
