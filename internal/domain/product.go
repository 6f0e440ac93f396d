package domain

// Product is a catalog row as read from the warehouse.
type Product struct {
	ID       string  `json:"product_id"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Season   string  `json:"season"`
}

type PurchaseRecord struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Purchased bool   `json:"purchased"`
}

// FeatureRecord is one scoring instance. Field names match the training columns.
type FeatureRecord struct {
	UserID    string  `json:"user_id"`
	ProductID string  `json:"product_id"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
	Season    string  `json:"season"`
}

// NewFeatureRecord pairs a user with a candidate product.
func NewFeatureRecord(userID string, p Product) FeatureRecord {
	return FeatureRecord{
		UserID:    userID,
		ProductID: p.ID,
		Category:  p.Category,
		Price:     p.Price,
		Season:    p.Season,
	}
}
