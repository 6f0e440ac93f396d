package main

import (
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/app"
	"github.com/actuallystonmai/purchase-recommender/internal/config"
	"github.com/actuallystonmai/purchase-recommender/internal/warehouse"
	"github.com/actuallystonmai/purchase-recommender/seeds"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create (or with --down, drop) the Postgres purchases table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePostgres(); err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		pool, err := app.OpenPool(ctx, cfg.Warehouse)
		if err != nil {
			return err
		}
		defer pool.Close()

		if migrateDown {
			return warehouse.MigrateDown(ctx, pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
		}
		return warehouse.MigrateUp(ctx, pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace the Postgres purchases table contents with generated data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePostgres(); err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		pool, err := app.OpenPool(ctx, cfg.Warehouse)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.MigrateUp(ctx, pool, cfg.Warehouse.Dataset, cfg.Warehouse.Table); err != nil {
			return err
		}
		table := pgx.Identifier{cfg.Warehouse.Dataset, cfg.Warehouse.Table}.Sanitize()
		if err := seeds.Setup(ctx, pool, table); err != nil {
			return err
		}
		zap.L().Info("seed complete", zap.String("table", table))
		return nil
	},
}

func requirePostgres() error {
	if cfg.Warehouse.Driver != config.DriverPostgres {
		return eris.Errorf("warehouse driver is %q; migrate and seed need %q", cfg.Warehouse.Driver, config.DriverPostgres)
	}
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "drop the table instead of creating it")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
