package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/api"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/audit"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/config"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/features"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/gate"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/logging"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/model"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/ratelimit"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/scoring"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/tracing"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "configs/server.yaml", "Path to server YAML config")
	flag.Parse()

	slog.SetDefault(logging.New("info", "text"))

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, version, slog.Default())
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}

	// ── Schema, model and audit store load concurrently ──────────────────────
	var (
		schema   *features.Schema
		pipeline *model.Pipeline
		store    audit.Store
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := features.LoadSchema(cfg.Model.SchemaPath)
		if err != nil {
			return err
		}
		p, err := model.Load(cfg.Model.Path, s)
		if err != nil {
			return err
		}
		schema, pipeline = s, p
		return nil
	})
	g.Go(func() error {
		s, err := openStore(gctx, cfg.Audit)
		if err != nil {
			return fmt.Errorf("open %s audit store: %w", cfg.Audit.Backend, err)
		}
		store = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if store != nil {
			_ = store.Close()
		}
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	slog.Info("model loaded",
		"model", pipeline.Name(), "features", schema.Names(), "audit_backend", cfg.Audit.Backend)

	// ── Pipeline components ───────────────────────────────────────────────────
	keyGate, err := gate.New(cfg.Auth.APIKey)
	if err != nil {
		slog.Error("invalid api key", "err", err)
		os.Exit(1)
	}
	eng := model.NewEngine(pipeline, model.EngineOptions{
		Serialize:  cfg.Model.Serialize,
		QueueDepth: cfg.Model.QueueDepth,
	})
	disp := audit.NewDispatcher(ctx, store, audit.Options{
		Backend:      cfg.Audit.Backend,
		Workers:      cfg.Audit.Workers,
		QueueDepth:   cfg.Audit.QueueDepth,
		WriteTimeout: cfg.Audit.WriteTimeout(),
	})
	svc := scoring.New(keyGate, features.NewValidator(schema), eng, disp)

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.ClientTTL())
	go limiter.Run(ctx, time.Minute)
	slog.Info("rate limiter configured",
		"enabled", limiter.Enabled(), "rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		logging.SetLevel(newCfg.Log.Level)
		limiter.Update(newCfg.RateLimit.RPS, newCfg.RateLimit.Burst)
		slog.Info("config hot-reloaded", "log_level", newCfg.Log.Level, "rate_limit_rps", newCfg.RateLimit.RPS)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Scoring:        svc,
		Gate:           keyGate,
		Audit:          store,
		Queue:          disp,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	inflight := api.NewInflight()
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      tracing.WrapHandler(inflight.Wrap(handler)),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	go func() {
		slog.Info("server starting", "addr", addr, "version", version, "serialized_inference", eng.Serialized())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("http shutdown did not complete", "err", err, "in_flight", inflight.Len())
	}
	// Handlers still running after a timed-out Shutdown get a second grace
	// period before the engine and dispatcher close under them.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	if err := inflight.Wait(waitCtx); err != nil {
		slog.Warn("closing with requests still in flight", "in_flight", inflight.Len(), "err", err)
	}
	waitCancel()
	// Flush queued audit writes before the workers' context is cancelled.
	disp.Close()
	eng.Close()
	cancel()
	if err := store.Close(); err != nil {
		slog.Warn("audit store close", "err", err)
	}
	traceCtx, traceCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer traceCancel()
	if err := shutdownTracing(traceCtx); err != nil {
		slog.Warn("tracing shutdown", "err", err)
	}
	slog.Info("goodbye")
}

func openStore(ctx context.Context, c config.AuditConf) (audit.Store, error) {
	switch c.Backend {
	case "postgres":
		s, err := audit.OpenPostgres(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if c.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case "redis":
		s, err := audit.OpenRedis(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.Stream, c.Redis.MaxLen)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return audit.NewMemoryStore(c.MemoryCapacity), nil
	}
}
