package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipwave/config"
	"clipwave/internal/alert"
	"clipwave/internal/distribution"
	"clipwave/internal/health"
	"clipwave/internal/infrastructure/postgres"
	ctxlog "clipwave/internal/log"
	"clipwave/internal/memstore"
	"clipwave/internal/metrics"
	"clipwave/internal/orchestrator"
	"clipwave/internal/pipeline"
	"clipwave/internal/queue"
	"clipwave/internal/repository"
	"clipwave/internal/scheduling"
	httptransport "clipwave/internal/transport/http"
	"clipwave/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

type repos struct {
	jobs          repository.JobRepository
	schedules     repository.ScheduleRepository
	videos        repository.VideoRepository
	accounts      repository.AccountProvider
	distributions repository.DistributionRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		r      repos
		pinger health.Pinger
	)
	switch cfg.Store {
	case "memory":
		store := memstore.New()
		r = repos{
			jobs:          memstore.NewJobRepository(store),
			schedules:     memstore.NewScheduleRepository(store),
			videos:        memstore.NewVideoRepository(store),
			accounts:      memstore.NewAccountRepository(store),
			distributions: memstore.NewDistributionRepository(store),
		}
		pinger = store
		logger.Warn("using the in-memory store; state is lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		r = repos{
			jobs:          postgres.NewJobRepository(pool),
			schedules:     postgres.NewScheduleRepository(pool),
			videos:        postgres.NewVideoRepository(pool),
			accounts:      postgres.NewAccountRepository(pool),
			distributions: postgres.NewDistributionRepository(pool),
		}
		pinger = pool
		logger.Info("db connected")
	}

	pipeCfg := pipeline.Config{
		BaseURL:        cfg.PipelineBaseURL,
		Token:          cfg.PipelineToken,
		PublishTimeout: time.Duration(cfg.PublishTimeoutSec) * time.Second,
	}

	q := queue.New(r.jobs, logger)
	coordinator := scheduling.NewCoordinator(r.schedules, r.videos, r.accounts, pipeline.NewTrigger(pipeCfg), logger)
	matcher := distribution.NewMatcher(r.videos, r.accounts, r.distributions, r.schedules, coordinator, logger)
	sender := alert.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.AlertRecipients, logger)
	notifier := alert.NewNotifier(sender, logger)

	controller := orchestrator.NewController(
		q, coordinator, matcher, r.accounts, r.videos,
		pipeline.NewExecutor(pipeCfg), notifier,
		orchestrator.Config{
			TickInterval:        time.Duration(cfg.TickIntervalSec) * time.Second,
			BatchSize:           cfg.BatchSize,
			StepTimeout:         time.Duration(cfg.StepTimeoutSec) * time.Second,
			StaleAfter:          time.Duration(cfg.StaleAfterSec) * time.Second,
			DefaultLeadTime:     time.Duration(cfg.DefaultLeadSec) * time.Second,
			StaggerDelaySeconds: cfg.StaggerDelaySec,
		},
		logger,
	)

	metrics.Register()
	checker := health.NewChecker(pinger, logger, prometheus.DefaultRegisterer)

	handlers := httptransport.Handlers{
		Video:        handler.NewVideoHandler(controller, logger),
		Job:          handler.NewJobHandler(q, logger),
		Schedule:     handler.NewScheduleHandler(coordinator, controller, logger),
		Distribution: handler.NewDistributionHandler(matcher, logger),
		Account:      handler.NewAccountHandler(controller, coordinator, logger),
		Control:      handler.NewControlHandler(controller, logger),
	}

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, handlers, []byte(cfg.JWTSecret)),
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("api server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	logger.Info("coordination loop started", "tick_interval_sec", cfg.TickIntervalSec)
	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coordination loop", "error", err)
	}
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
