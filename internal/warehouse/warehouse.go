// Package warehouse reads purchase history and the product catalog from the
// tabular store that also feeds model training.
package warehouse

import (
	"context"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

// Warehouse is the read side of the purchases table
// {user_id, product_id, category, price, season, purchased}.
type Warehouse interface {
	// PurchasedProductIDs returns the distinct product IDs the user bought.
	PurchasedProductIDs(ctx context.Context, userID string) ([]string, error)
	// Catalog returns every distinct (product_id, category, price, season)
	// tuple in query order.
	Catalog(ctx context.Context) ([]domain.Product, error)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
