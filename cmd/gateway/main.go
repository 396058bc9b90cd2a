// Command gateway runs the clinic backend's outbound call gateway. It routes
// chat and transcription requests to the AI providers through the resilience
// executor and exposes breaker state, call stats and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"clinic-backend/internal/config"
	"clinic-backend/internal/infra/aiclient"
	"clinic-backend/internal/infra/db"
	"clinic-backend/internal/observability/logging"
	"clinic-backend/internal/observability/metrics"
	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
	pkgconfig "clinic-backend/pkg/config"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	resCfg, err := config.LoadResilienceConfig()
	if err != nil {
		return err
	}
	aiCfg, err := config.LoadAIConfig()
	if err != nil {
		return err
	}

	ex := newExecutor(resCfg, logger)
	prometheus.MustRegister(metrics.NewResilienceCollector(ex.Breakers, ex.Stats))

	deps := &gatewayDeps{ex: ex, logger: logger}
	if aiCfg.OpenAI.Enabled() {
		client := aiclient.NewOpenAI(aiCfg.OpenAI, ex)
		deps.chat = map[string]chatter{providerOpenAI: client}
		deps.transcriber = client
	}
	if aiCfg.Anthropic.Enabled() {
		if deps.chat == nil {
			deps.chat = make(map[string]chatter)
		}
		deps.chat[providerAnthropic] = aiclient.NewClaude(aiCfg.Anthropic, ex)
	}

	dbCfg := db.LoadConnectionConfig()
	if dbCfg.Enabled() {
		database, err := db.Open(ctx, dbCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", slog.Any("error", err))
			}
		}()
		prometheus.MustRegister(collectors.NewDBStatsCollector(database, "clinic"))
		deps.db = resilience.NewDBGuard(database, ex)
	} else {
		logger.Info("DATABASE_URL not set, database guard disabled")
	}

	addr := pkgconfig.GetEnvString("GATEWAY_ADDR", ":8080")
	shutdownTimeout := pkgconfig.GetEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway starting",
			slog.String("addr", addr),
			slog.Int("providers", len(deps.chat)),
			slog.Bool("database", deps.db != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("gateway stopped")
		return nil
	})

	return g.Wait()
}

// newExecutor builds the executor from the loaded resilience configuration.
func newExecutor(cfg *config.ResilienceConfig, logger *slog.Logger) *resilience.Executor {
	ex := resilience.New(logger)
	ex.Breakers = circuitbreaker.NewRegistry(
		circuitbreaker.WithDefaultConfig(cfg.DefaultBreaker),
		circuitbreaker.WithLogger(logger))
	ex.Policies = cfg.Policies
	ex.BreakerConfigs = cfg.Breakers

	if cfg.PolicyFile != "" {
		logger.Info("resilience policy file loaded", slog.String("path", cfg.PolicyFile))
	}
	return ex
}
