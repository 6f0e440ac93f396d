package warehouse

import (
	"context"
	"embed"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateUp creates the schema and purchases table.
func MigrateUp(ctx context.Context, pool Pool, schema, table string) error {
	return runMigration(ctx, pool, "migrations/create_purchases.up.sql", schema, table)
}

// MigrateDown drops the purchases table. The schema is left in place.
func MigrateDown(ctx context.Context, pool Pool, schema, table string) error {
	return runMigration(ctx, pool, "migrations/create_purchases.down.sql", schema, table)
}

func runMigration(ctx context.Context, pool Pool, name, schema, table string) error {
	raw, err := migrationFS.ReadFile(name)
	if err != nil {
		return eris.Wrapf(err, "warehouse: read migration %s", name)
	}
	sql := strings.NewReplacer(
		"{{schema}}", pgx.Identifier{schema}.Sanitize(),
		"{{table}}", pgx.Identifier{schema, table}.Sanitize(),
	).Replace(string(raw))

	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "warehouse: execute migration %s", name)
	}
	zap.L().Info("migration applied", zap.String("component", "warehouse"), zap.String("file", name))
	return nil
}
