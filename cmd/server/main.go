package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/app"
	"github.com/actuallystonmai/purchase-recommender/internal/config"
	"github.com/actuallystonmai/purchase-recommender/internal/handler"
	"github.com/actuallystonmai/purchase-recommender/internal/router"
	"github.com/actuallystonmai/purchase-recommender/internal/warehouse"
	"github.com/actuallystonmai/purchase-recommender/seeds"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		zap.L().Fatal("failed to init logger", zap.Error(err))
	}
	defer func() { _ = zap.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		zap.L().Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	// ------------ Postgres warehouse ---------------
	if a.Pool != nil {
		// for migrate-down using CLI command
		if len(os.Args) > 1 && os.Args[1] == "migrate-down" {
			if err := warehouse.MigrateDown(ctx, a.Pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table); err != nil {
				zap.L().Fatal("failed to migrate down", zap.Error(err))
			}
			return
		}
		if err := migrateAndSeed(ctx, a, cfg); err != nil {
			zap.L().Fatal("failed to prepare warehouse", zap.Error(err))
		}
	}

	// ------------ Endpoint ---------------
	// lifecycle failures end the session
	handle, err := a.Registry.Resolve(ctx)
	if err != nil {
		zap.L().Fatal("failed to resolve endpoint", zap.Error(err))
	}
	zap.L().Info("endpoint ready", zap.String("endpoint", handle.ResourceName))

	// ---------------- Server --------------------
	var deps []handler.Option
	if a.Lease != nil {
		deps = append(deps, handler.WithDependency("redis", a.Lease))
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(handler.NewHandler(a.Service, a.Registry, deps...), cfg.Timeouts.Query+cfg.Timeouts.Predict),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.L().Info("server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("graceful shutdown failed", zap.Error(err))
	}
}

func migrateAndSeed(ctx context.Context, a *app.App, cfg *config.Config) error {
	if err := warehouse.MigrateUp(ctx, a.Pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table); err != nil {
		return err
	}

	pg := warehouse.NewPostgres(a.Pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
	count, err := pg.CountRows(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		zap.L().Info("warehouse already seeded, skipping", zap.Int("rows", count))
		return nil
	}
	return seeds.Setup(ctx, a.Pool, pg.Table())
}
