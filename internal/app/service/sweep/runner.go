package sweep

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/pkg/config"
)

// Runner calls Sweeper.Run on a ticker inside a long-lived process. It holds
// no dunning state of its own.
type Runner struct {
	sweeper  *Sweeper
	interval time.Duration
	log      *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(sweeper *Sweeper, interval time.Duration, log *zap.SugaredLogger) *Runner {
	return &Runner{sweeper: sweeper, interval: interval, log: log}
}

func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx)
}

func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("sweep runner stopped")
			return
		case <-ticker.C:
			if _, err := r.sweeper.Run(ctx); err != nil {
				r.log.Errorw("scheduled sweep failed", "error", err)
			}
		}
	}
}

// RegisterRunner starts an in-process runner when sweep.interval is set.
// Deployments that drive cmd/sweep from cron leave it at zero.
func RegisterRunner(lc fx.Lifecycle, cfg *config.Config, sweeper *Sweeper, log *zap.SugaredLogger) {
	if cfg.Sweep.Interval <= 0 {
		return
	}
	r := NewRunner(sweeper, cfg.Sweep.Interval, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("sweep runner started", "interval", cfg.Sweep.Interval)
			r.Start()
			return nil
		},
		OnStop: r.Stop,
	})
}
