package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/internal/app"
	"github.com/fatflowers/dunning/internal/app/service/sweep"
)

// sweepTimeout bounds a single batch when run from cron.
const sweepTimeout = 10 * time.Minute

func runOnce(lc fx.Lifecycle, shutdown fx.Shutdowner, sweeper *sweep.Sweeper, log *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
				defer cancel()

				code := 0
				stats, err := sweeper.Run(ctx)
				switch {
				case err != nil:
					log.Errorw("sweep failed", "error", err)
					code = 1
				case stats.Err() != nil:
					// per-row failures are retried on the next run
					log.Warnw("sweep finished with errors", "errored", stats.Errored, "error", stats.Err())
				}
				_ = shutdown.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}

func main() {
	a := fx.New(app.CoreModule, fx.Invoke(runOnce), fx.NopLogger)
	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		zap.NewExample().Sugar().Errorf("failed to start sweep: %v", err)
		os.Exit(1)
	}

	sig := <-a.Wait()

	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorf("failed to stop sweep: %v", err)
		os.Exit(1)
	}
	os.Exit(sig.ExitCode)
}
