package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/dunning/docs"
	"github.com/fatflowers/dunning/internal/app/api/handlers"
	mw "github.com/fatflowers/dunning/internal/app/api/middleware"
	"github.com/fatflowers/dunning/internal/app/service/delivery_log"
	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/statistics"
	subsvc "github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/app/service/sweep"
	"github.com/fatflowers/dunning/internal/app/service/webhook"
	cfgpkg "github.com/fatflowers/dunning/pkg/config"
	metrics "github.com/fatflowers/dunning/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg != nil && cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger & access log are attached per group in registerRoutes.
	r.Use(mw.TraceMiddleware())
	return r
}

func newAdmin(repo *dunning.Repository, machine *dunning.Machine, sweeper *sweep.Sweeper, stats *statistics.Service, deliveries *delivery_log.Service, subs *subsvc.Service, log *zap.SugaredLogger) *handlers.Admin {
	return &handlers.Admin{
		Processes:     repo,
		Canceller:     machine,
		Sweeper:       sweeper,
		Statistics:    stats,
		Deliveries:    deliveries,
		Subscriptions: subs,
		Log:           log,
	}
}

func registerRoutes(lc fx.Lifecycle, r *gin.Engine, log *zap.SugaredLogger, cfg *cfgpkg.Config, ing *webhook.Ingestor, admin *handlers.Admin) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)
		if srv := p.Server(); srv != nil {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							log.Errorw("metrics server error", "error", err)
						}
					}()
					log.Infow("metrics started", "addr", cfg.MetricsAddr)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
			})
		}
	}
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	hooks := r.Group("/webhooks")
	hooks.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterWebhookRoutes(hooks, ing, log)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), admin)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine, newAdmin),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
