// Package seeds fills the Postgres purchases table with deterministic data
// for local development.
package seeds

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/warehouse"
)

const (
	defaultUsers    = 20
	defaultProducts = 50
	// rows per INSERT; 6 params each keeps us under the 65535 bind limit
	insertChunk = 500
)

var (
	categories      = []string{"tops", "bottoms", "outerwear", "shoes", "accessories"}
	seasons         = []string{"spring", "summer", "autumn", "winter"}
	seasonWeights   = []float64{0.25, 0.3, 0.2, 0.25}
	categoryPricing = map[string][2]float64{
		"tops":        {15, 60},
		"bottoms":     {25, 90},
		"outerwear":   {60, 300},
		"shoes":       {40, 180},
		"accessories": {5, 50},
	}
)

// Setup truncates table and inserts one record per (user, product) pair.
// table must already be a sanitized identifier.
func Setup(ctx context.Context, pool warehouse.Pool, table string) error {
	rng := rand.New(rand.NewSource(42))
	log := zap.L().With(zap.String("component", "seed"), zap.String("table", table))

	// Truncate existing data before insert
	log.Info("truncating existing data")
	if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", table)); err != nil {
		return eris.Wrap(err, "seed: truncate")
	}

	products := Products(rng, defaultProducts)
	records := Purchases(rng, Users(defaultUsers), products)

	log.Info("inserting purchase records", zap.Int("records", len(records)))
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for start := 0; start < len(records); start += insertChunk {
		end := min(start+insertChunk, len(records))
		if err := insert(ctx, pool, table, records[start:end], byID); err != nil {
			return eris.Wrap(err, "seed: insert purchases")
		}
	}

	log.Info("seeding complete")
	return nil
}

func Users(n int) []string {
	users := make([]string, 0, n)
	for i := range n {
		users = append(users, fmt.Sprintf("user_%03d", i+1))
	}
	return users
}

func Products(rng *rand.Rand, n int) []domain.Product {
	products := make([]domain.Product, 0, n)
	for i := range n {
		category := categories[i%len(categories)]
		bounds := categoryPricing[category]
		price := bounds[0] + rng.Float64()*(bounds[1]-bounds[0])
		products = append(products, domain.Product{
			ID:       fmt.Sprintf("prod_%03d", i+1),
			Category: category,
			Price:    math.Round(price*100) / 100,
			Season:   weightedChoice(rng, seasons, seasonWeights),
		})
	}
	return products
}

// Purchases marks a power-law share of products as bought by each user, so
// popular products and heavy buyers both exist. Every user keeps at least one
// bought and one unbought product so training sees both classes.
func Purchases(rng *rand.Rand, users []string, products []domain.Product) []domain.PurchaseRecord {
	records := make([]domain.PurchaseRecord, 0, len(users)*len(products))
	for ui, user := range users {
		appetite := powerLawScore(rng)
		for pi, p := range products {
			popularity := 1 - float64(pi)/float64(len(products))
			purchased := rng.Float64() < appetite*popularity
			switch {
			case pi == ui%len(products):
				purchased = true
			case pi == (ui+1)%len(products):
				purchased = false
			}
			records = append(records, domain.PurchaseRecord{UserID: user, ProductID: p.ID, Purchased: purchased})
		}
	}
	return records
}

func insert(ctx context.Context, pool warehouse.Pool, table string, records []domain.PurchaseRecord, products map[string]domain.Product) error {
	rows := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*6)
	for _, rec := range records {
		p := products[rec.ProductID]
		base := len(args)
		rows = append(rows, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, rec.UserID, p.ID, p.Category, p.Price, p.Season, rec.Purchased)
	}
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (user_id, product_id, category, price, season, purchased) VALUES ", table) +
		strings.Join(rows, ", ")
	_, err := pool.Exec(ctx, query, args...)
	return err
}

func powerLawScore(rng *rand.Rand) float64 {
	u := rng.Float64()
	if u == 0 {
		u = 0.001
	}
	raw := math.Pow(u, 2.0)
	if raw < 0.01 {
		raw = 0.01
	}
	return math.Round(raw*100) / 100
}

func weightedChoice(rng *rand.Rand, choices []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return choices[i]
		}
	}
	return choices[len(choices)-1]
}
