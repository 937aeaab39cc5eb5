package app

import (
	"time"

	"github.com/fatflowers/dunning/internal/app/api/server"
	"github.com/fatflowers/dunning/internal/app/service/delivery_log"
	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/eventstore"
	"github.com/fatflowers/dunning/internal/app/service/notification"
	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/internal/app/service/retry"
	"github.com/fatflowers/dunning/internal/app/service/statistics"
	"github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/app/service/sweep"
	"github.com/fatflowers/dunning/internal/app/service/webhook"
	"github.com/fatflowers/dunning/internal/platform/archive"
	"github.com/fatflowers/dunning/internal/platform/db"
	"github.com/fatflowers/dunning/internal/platform/gateway"
	"github.com/fatflowers/dunning/internal/platform/notifier"
	"github.com/fatflowers/dunning/internal/platform/redis"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logger"
	"github.com/fatflowers/dunning/pkg/metrics"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule wires storage, providers and the dunning engine without any
// HTTP surface. The sweep command runs on it alone.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	redis.Module,
	archive.Module,
	notifier.Module,
	gateway.Module,
	subscription.Module,
	eventstore.Module,
	delivery_log.Module,
	retry.Module,
	notification.Module,
	dunning.Module,
	projector.Module,
	sweep.Module,
)

// Module is the API process: webhooks, admin routes and the in-process sweep
// ticker.
var Module = fx.Options(
	CoreModule,
	webhook.Module,
	statistics.Module,
	server.Module,
	fx.Invoke(sweep.RegisterRunner),
)
