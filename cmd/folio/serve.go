package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AlexKimmel/folio/internal/config"
	"github.com/AlexKimmel/folio/internal/mail"
	"github.com/AlexKimmel/folio/internal/obs"
	"github.com/AlexKimmel/folio/internal/ratelimit"
	"github.com/AlexKimmel/folio/internal/ratelimit/memory"
	"github.com/AlexKimmel/folio/internal/ratelimit/redisstore"
	"github.com/AlexKimmel/folio/internal/server"
)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Root) error {
	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Msg("Setup logger")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	lim, err := newLimiter(ctx, cfg, logger, metrics, reg)
	if err != nil {
		return err
	}
	defer func() { _ = lim.Close() }()

	policy := ratelimit.Policy{
		Limit:  cfg.Limits.RequestsPerWindow,
		Window: cfg.Limits.Window(),
	}
	guard := ratelimit.NewGuard(lim, policy, ratelimit.WithLoopbackBypass(cfg.Limits.Bypass()))

	if missing := cfg.Mail.Missing(); len(missing) > 0 {
		logger.Warn().Strs("missing", missing).Msg("smtp settings incomplete, submissions will fail")
	}
	mailer := mail.NewSMTP(cfg.Mail)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Deps{
			Logger:      logger,
			Guard:       guard,
			Mailer:      mailer,
			Metrics:     metrics,
			Gatherer:    reg,
			MetricsPath: cfg.Observability.PrometheusPath,
			MaxBody:     cfg.Server.MaxBody(),
			Version:     version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("limiter", cfg.Limits.Backend).
			Int("limit", policy.Limit).
			Dur("window", policy.Window).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
	return nil
}

func newLimiter(ctx context.Context, cfg *config.Root, logger zerolog.Logger, m *obs.Metrics, reg prometheus.Registerer) (ratelimit.Limiter, error) {
	switch cfg.Limits.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(rdb, redisstore.WithPrefix(cfg.Redis.Prefix), redisstore.WithOwnership()), nil
	default:
		lim := memory.New()
		m.TrackEntries(reg, lim.Len)
		lim.Start(ctx, cfg.Limits.SweepInterval(), func(removed, kept int) {
			m.SweptEntries.Add(float64(removed))
			logger.Debug().Int("removed", removed).Int("kept", kept).Msg("rate limit sweep")
		})
		return lim, nil
	}
}
