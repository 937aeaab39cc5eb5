// Package sweep drives due dunning processes forward. A run is stateless:
// every guarantee comes from the lease columns on dunning_processes, so any
// number of runs may overlap across processes and hosts.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/metrics"
	"github.com/fatflowers/dunning/pkg/tool"
)

const JobName = "dunning_sweep"

// Stats summarizes one run. Processed counts rows this run claimed.
type Stats struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Cancelled int      `json:"cancelled"`
	Skipped   int      `json:"skipped"`
	Errored   int      `json:"errored"`
	Errors    []string `json:"errors,omitempty"`

	err error
}

// Err combines the per-row errors of the run.
func (s *Stats) Err() error { return s.err }

func (s *Stats) record(id string, out *dunning.StageOutcome, err error) {
	if err != nil {
		s.Processed++
		s.Errored++
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", id, err))
		s.err = multierr.Append(s.err, err)
		return
	}
	if out == nil {
		// lost the claim race before advancing
		s.Skipped++
		return
	}
	s.Processed++
	switch out.Kind {
	case dunning.OutcomeRecovered:
		s.Succeeded++
	case dunning.OutcomeRetryFailed:
		s.Failed++
	case dunning.OutcomeCancelled:
		s.Cancelled++
	default:
		s.Skipped++
	}
}

type advancer interface {
	Advance(ctx context.Context, processID, claimToken string) (*dunning.StageOutcome, error)
}

type Sweeper struct {
	repo    *dunning.Repository
	machine advancer
	cfg     config.SweepConfig
	metrics *metrics.DunningMetrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewSweeper(cfg *config.Config, repo *dunning.Repository, machine *dunning.Machine, m *metrics.DunningMetrics, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		repo:    repo,
		machine: machine,
		cfg:     cfg.Sweep,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

func (s *Sweeper) batchSize() int {
	if s.cfg.BatchSize <= 0 {
		return 100
	}
	return s.cfg.BatchSize
}

func (s *Sweeper) workers() int {
	if s.cfg.WorkerConcurrency <= 0 {
		return 1
	}
	return s.cfg.WorkerConcurrency
}

func (s *Sweeper) lease() time.Duration {
	if s.cfg.Lease <= 0 {
		return 10 * time.Minute
	}
	return s.cfg.Lease
}

// Run claims up to one batch of due processes and advances each of them on a
// bounded worker pool. Per-row failures are reported in Stats; the returned
// error is set only when the due rows could not be listed.
func (s *Sweeper) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	ctx = logctx.WithJob(ctx, JobName)
	lg := logctx.FromCtx(ctx, s.log)

	ids, err := s.repo.DueIDs(ctx, s.now().UTC(), s.batchSize())
	if err != nil {
		s.metrics.ObserveJob(JobName, time.Since(start), err)
		lg.Errorw("sweep_failed", "error", err)
		return nil, err
	}

	var (
		mu    sync.Mutex
		stats = &Stats{}
		g     errgroup.Group
	)
	g.SetLimit(s.workers())
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.advance(ctx, id)
			mu.Lock()
			stats.record(id, out, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.ObserveJob(JobName, time.Since(start), stats.Err())
	lg.Infow("sweep_completed",
		"due", len(ids),
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"skipped", stats.Skipped,
		"errored", stats.Errored,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if stats.Errored > 0 {
		lg.Warnw("sweep completed with errors", "error", stats.Err())
	}
	return stats, nil
}

// advance returns nil, nil when another worker or a webhook got there first.
func (s *Sweeper) advance(ctx context.Context, id string) (*dunning.StageOutcome, error) {
	token := tool.NewClaimToken()
	ok, err := s.repo.Claim(ctx, id, token, s.now().UTC(), s.lease())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.machine.Advance(ctx, id, token)
}

var Module = fx.Options(
	fx.Provide(NewSweeper),
)
