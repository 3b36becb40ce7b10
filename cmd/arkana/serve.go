package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/avilainc/arkana"
	"github.com/avilainc/arkana/delivery"
	"github.com/avilainc/arkana/httpapi"
	"github.com/avilainc/arkana/internal/errutil"
	"github.com/avilainc/arkana/internal/logging"
	"github.com/avilainc/arkana/internal/observability"
	promexport "github.com/avilainc/arkana/metrics/export/prometheus"
	"github.com/avilainc/arkana/profilestore/postgres"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API together with the metrics/health listener and the
gRPC health service. Engine settings come from ARKANA_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			engineCfg, err := arkana.LoadConfigFromEnv()
			if err != nil {
				return oops.Code("CONFIG_ENGINE").Wrap(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			level, err := logging.ParseLevel(cfg.LogLevel)
			if err != nil {
				return oops.Code("CONFIG_LOG_LEVEL").Wrap(err)
			}
			logger := logging.Setup("arkana", version, cfg.LogFormat, level, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			if err := runServe(ctx, cfg, engineCfg, logger); err != nil {
				errutil.LogError(ctx, logger, "serve failed", err)
				return err
			}
			return nil
		},
	}
	registerServiceFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg serviceConfig, engineCfg arkana.Config, logger *slog.Logger) error {
	tp, shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// -------- BACKING STORES --------
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
	})
	defer func() { _ = rdb.Close() }()

	if err := waitFor(ctx, cfg.StartupTimeout, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return oops.Code("REDIS_UNAVAILABLE").With("addr", cfg.RedisAddr).Wrap(err)
	}

	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_DATABASE").Errorf("database-url is required")
	}
	profiles, pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := waitFor(ctx, cfg.StartupTimeout, profiles.Ping); err != nil {
		return oops.Code("POSTGRES_UNAVAILABLE").Wrap(err)
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.InfoContext(ctx, "schema migrations applied")
	}

	// -------- ENGINE --------
	var sender arkana.Delivery
	if cfg.SMTP.Host != "" {
		sender, err = delivery.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return err
		}
	} else {
		logger.WarnContext(ctx, "smtp host not set; links are written to the log")
		sender = delivery.NewLogSender(logger, cfg.SMTP.VerifyURL, cfg.SMTP.ResetURL)
	}

	engine, err := arkana.New().
		WithConfig(engineCfg).
		WithMetricsEnabled(true).
		WithRedis(rdb).
		WithProfileStore(profiles).
		WithDelivery(sender).
		WithLogger(logger).
		WithAuditSink(arkana.NewSlogSink(logger.With("component", "audit"))).
		WithTracerProvider(tp).
		Build()
	if err != nil {
		return oops.Code("ENGINE_BUILD").Wrap(err)
	}
	defer engine.Close()

	// -------- LISTENERS --------
	obs := observability.NewServer(cfg.MetricsAddr, engine.Ping, logger, promexport.NewCollector(engine, nil))
	obsErr, err := obs.Start()
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = obs.Stop(sctx)
	}()

	grpcErr := make(chan error, 1)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return oops.Code("GRPC_LISTEN").With("addr", cfg.GRPCAddr).Wrap(err)
		}
		grpcSrv, hs := newHealthServer()
		go watchHealth(ctx, hs, engine.Ping, 10*time.Second, logger)
		go func() { grpcErr <- grpcSrv.Serve(lis) }()
		defer grpcSrv.GracefulStop()
		logger.InfoContext(ctx, "grpc health listening", "addr", lis.Addr().String())
	}

	api := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.New(engine, httpapi.Options{
			Logger:         logger,
			Observer:       obs.Metrics(),
			TrustForwarded: cfg.TrustForwarded,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.ListenAndServe() }()
	logger.InfoContext(ctx, "http api listening", "addr", cfg.HTTPAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-apiErr:
		runErr = oops.Code("HTTP_SERVE").Wrap(err)
	case err := <-obsErr:
		runErr = oops.Code("OBSERVABILITY_SERVE").Wrap(err)
	case err := <-grpcErr:
		runErr = oops.Code("GRPC_SERVE").Wrap(err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := api.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http shutdown", "error", err)
	}
	return runErr
}

// waitFor retries probe with exponential backoff until it succeeds or
// timeout elapses.
func waitFor(ctx context.Context, timeout time.Duration, probe func(context.Context) error) error {
	b := retry.WithMaxDuration(timeout, retry.NewExponential(200*time.Millisecond))
	b = retry.WithCappedDuration(5*time.Second, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := probe(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
