package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestPostgresPurchasedProductIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := "u1' OR '1'='1"
	mock.ExpectQuery(`SELECT DISTINCT product_id\s+FROM "sales"."purchases"\s+WHERE user_id = \$1 AND purchased`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).
			AddRow("p1").
			AddRow("p3").
			AddRow("p1"))

	wh := NewPostgres(mock, "sales", "purchases")
	ids, err := wh.PurchasedProductIDs(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT DISTINCT product_id, category, price, season\s+FROM "sales"."purchases"`).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "category", "price", "season"}).
			AddRow("p2", "outerwear", 129.5, "winter").
			AddRow("p1", "sandals", 39.0, "summer"))

	wh := NewPostgres(mock, "sales", "purchases")
	products, err := wh.Catalog(context.Background())
	require.NoError(t, err)

	// query order is kept
	assert.Equal(t, []domain.Product{
		{ID: "p2", Category: "outerwear", Price: 129.5, Season: "winter"},
		{ID: "p1", Category: "sandals", Price: 39.0, Season: "summer"},
	}, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT product_id").
		WillReturnError(errors.New("connection refused"))

	wh := NewPostgres(mock, "sales", "purchases")
	_, err = wh.Catalog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresRowError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT product_id").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).
			AddRow("p1").
			AddRow("p2").
			RowError(1, errors.New("network reset")))

	wh := NewPostgres(mock, "sales", "purchases")
	_, err = wh.PurchasedProductIDs(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network reset")
}

func TestPostgresCountRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "sales"."purchases"`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	wh := NewPostgres(mock, "sales", "purchases")
	n, err := wh.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestMigrateUpRendersIdentifiers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "sales";[\s\S]*CREATE TABLE IF NOT EXISTS "sales"."purchases"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, MigrateUp(context.Background(), mock, "sales", "purchases"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateDown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DROP TABLE IF EXISTS "sales"."purchases"`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))

	require.NoError(t, MigrateDown(context.Background(), mock, "sales", "purchases"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
