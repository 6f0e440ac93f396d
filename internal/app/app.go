// Package app builds the object graph shared by the server and the CLI.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"

	"github.com/actuallystonmai/purchase-recommender/internal/config"
	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/gcp"
	"github.com/actuallystonmai/purchase-recommender/internal/lease"
	"github.com/actuallystonmai/purchase-recommender/internal/model"
	"github.com/actuallystonmai/purchase-recommender/internal/registry"
	"github.com/actuallystonmai/purchase-recommender/internal/service"
	"github.com/actuallystonmai/purchase-recommender/internal/warehouse"
)

type App struct {
	Config    *config.Config
	Warehouse warehouse.Warehouse
	Model     *model.Client
	Registry  *registry.Registry
	Service   *service.Service

	// Pool is set for the postgres driver only.
	Pool *pgxpool.Pool
	// Lease is set when a Redis URL is configured.
	Lease *lease.Lease
	redis *redis.Client
}

// New connects every backend named in cfg. Nothing is resolved yet; call
// Registry.Resolve before serving.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	opts, err := gcp.ClientOptions(ctx, cfg.GCP.CredentialsFile)
	if err != nil {
		return nil, err
	}

	if err := a.openWarehouse(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	vertex, err := aiplatform.NewService(ctx, append(opts, option.WithEndpoint(gcp.RegionalEndpoint(cfg.GCP.Location)))...)
	if err != nil {
		a.Close()
		return nil, eris.Wrap(err, "app: create vertex ai client")
	}
	a.Model = model.NewClient(vertex, cfg.GCP.ProjectID, cfg.GCP.Location, model.Options{
		PollInterval: cfg.Training.PollInterval,
	})

	var regOpts []registry.Option
	if cfg.Redis.URL != "" {
		a.redis, err = lease.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Lease = lease.New(a.redis, cfg.Redis.LeaseTTL)
		regOpts = append(regOpts, registry.WithLocker(a.Lease))
		zap.L().Info("connected to Redis; training lease enabled", zap.String("component", "app"))
	}
	a.Registry = registry.New(a.Model, RegistryConfig(cfg), regOpts...)

	a.Service = service.NewService(a.Warehouse, a.Model, a.Registry, service.Options{
		QueryTimeout:     cfg.Timeouts.Query,
		PredictTimeout:   cfg.Timeouts.Predict,
		BatchConcurrency: cfg.Batch.Concurrency,
	})
	return a, nil
}

// RegistryConfig maps configuration onto the registry's lifecycle settings.
func RegistryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		DisplayName:        cfg.Endpoint.DisplayName,
		SourceURI:          cfg.BigQueryURI(),
		DatasetDisplayName: cfg.Training.DatasetDisplayName,
		Training:           domain.PurchaseTrainingSpec(cfg.Training.ModelDisplayName, cfg.Training.BudgetMilliNodeHours),
		Deploy: domain.DeploySpec{
			DisplayName: cfg.Endpoint.DisplayName,
			MachineType: cfg.Endpoint.MachineType,
			MinReplicas: cfg.Endpoint.MinReplicas,
			MaxReplicas: cfg.Endpoint.MaxReplicas,
		},
		ListTimeout:     cfg.Timeouts.List,
		DatasetTimeout:  cfg.Timeouts.Dataset,
		TrainingTimeout: cfg.Timeouts.Training,
		DeployTimeout:   cfg.Timeouts.Deploy,
		LeaseKey:        "purchase-recommender:lease:" + cfg.Endpoint.DisplayName,
		LeasePoll:       cfg.Training.PollInterval,
		LeaseRenew:      cfg.Redis.LeaseTTL / 3,
	}
}

func (a *App) openWarehouse(ctx context.Context, opts []option.ClientOption) error {
	cfg := a.Config
	switch cfg.Warehouse.Driver {
	case config.DriverPostgres:
		pool, err := OpenPool(ctx, cfg.Warehouse)
		if err != nil {
			return err
		}
		a.Pool = pool
		a.Warehouse = warehouse.NewPostgres(pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
	default:
		svc, err := bigquery.NewService(ctx, opts...)
		if err != nil {
			return eris.Wrap(err, "app: create bigquery client")
		}
		a.Warehouse = warehouse.NewBigQuery(svc, cfg.GCP.ProjectID, cfg.GCP.Location, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
	}
	zap.L().Info("warehouse ready",
		zap.String("component", "app"),
		zap.String("driver", cfg.Warehouse.Driver),
		zap.String("table", cfg.Warehouse.Dataset+"."+cfg.Warehouse.Table))
	return nil
}

// OpenPool connects to Postgres and waits up to 30s for it to accept queries.
func OpenPool(ctx context.Context, cfg config.WarehouseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "app: parse database config")
	}
	poolConfig.MaxConns = int32(cfg.DBPoolSize)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, eris.Wrap(err, "app: connect to database")
	}
	if err := waitForDB(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	zap.L().Info("connected to PostgreSQL", zap.String("component", "app"))
	return pool, nil
}

func waitForDB(ctx context.Context, pool *pgxpool.Pool) error {
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			return nil
		}
		zap.L().Info("waiting for database", zap.String("component", "app"), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return eris.New("app: database connection timeout after 30s")
}

func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			zap.L().Warn("failed to close redis client", zap.String("component", "app"), zap.Error(err))
		}
	}
}
