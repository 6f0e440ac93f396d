package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

// Pool is the subset of *pgxpool.Pool used here; pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres serves the purchases table from a Postgres schema named after the
// BigQuery dataset, for local development and tests.
type Postgres struct {
	pool  Pool
	table string
}

func NewPostgres(pool Pool, schema, table string) *Postgres {
	return &Postgres{
		pool:  pool,
		table: pgx.Identifier{schema, table}.Sanitize(),
	}
}

func (p *Postgres) PurchasedProductIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT DISTINCT product_id
		FROM %s
		WHERE user_id = $1 AND purchased
		ORDER BY product_id`, p.table),
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: query purchases for user %q", userID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan product id")
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate purchases")
	}
	return dedupe(ids), nil
}

func (p *Postgres) Catalog(ctx context.Context) ([]domain.Product, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT DISTINCT product_id, category, price, season
		FROM %s
		ORDER BY product_id, category, price, season`, p.table),
	)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query catalog")
	}
	defer rows.Close()

	var items []domain.Product
	for rows.Next() {
		var prod domain.Product
		if err := rows.Scan(&prod.ID, &prod.Category, &prod.Price, &prod.Season); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan product")
		}
		items = append(items, prod)
	}

	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate catalog")
	}
	return items, nil
}

// CountRows reports how many purchase records the table holds.
func (p *Postgres) CountRows(ctx context.Context) (int, error) {
	var total int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: count rows")
	}
	return total, nil
}

// Table is the sanitized, schema-qualified table name.
func (p *Postgres) Table() string {
	return p.table
}

var _ Warehouse = (*Postgres)(nil)
