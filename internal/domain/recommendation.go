package domain

import "math"

// MaxRecommendations caps every RecommendationResult.
const MaxRecommendations = 5

const scoreTolerance = 1e-3

// ScorePair holds the class probabilities for one scored instance.
type ScorePair struct {
	Negative float64 `json:"negative"`
	Positive float64 `json:"positive"`
}

// Valid reports whether both probabilities are in [0,1] and sum to 1.
func (s ScorePair) Valid() bool {
	if s.Negative < 0 || s.Negative > 1 || s.Positive < 0 || s.Positive > 1 {
		return false
	}
	return math.Abs(s.Negative+s.Positive-1) <= scoreTolerance
}

type ScoredCandidate struct {
	Product Product   `json:"product"`
	Score   ScorePair `json:"score"`
}

type RecommendationResult struct {
	UserID string
	Items  []ScoredCandidate
}

type ScoredRecommendation struct {
	ProductID     string  `json:"product_id"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	Season        string  `json:"season"`
	Score         float64 `json:"score"`
	NegativeScore float64 `json:"negative_score"`
}

// Flatten converts ranked candidates into response rows.
func (r *RecommendationResult) Flatten() []ScoredRecommendation {
	out := make([]ScoredRecommendation, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, ScoredRecommendation{
			ProductID:     item.Product.ID,
			Category:      item.Product.Category,
			Price:         item.Product.Price,
			Season:        item.Product.Season,
			Score:         item.Score.Positive,
			NegativeScore: item.Score.Negative,
		})
	}
	return out
}

type RecommendationMeta struct {
	GeneratedAt string `json:"generated_at"`
	TotalCount  int    `json:"total_count"`
	Endpoint    string `json:"endpoint,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type BatchUserResult struct {
	UserID          string                 `json:"user_id"`
	Recommendations []ScoredRecommendation `json:"recommendations,omitempty"`
	Status          string                 `json:"status"`
	Error           string                 `json:"error,omitempty"`
	Message         string                 `json:"message,omitempty"`
}

type BatchSummary struct {
	SuccessCount     int   `json:"success_count"`
	FailedCount      int   `json:"failed_count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

type BatchMeta struct {
	BatchID     string `json:"batch_id"`
	GeneratedAt string `json:"generated_at"`
}

type BatchResponse struct {
	Results  []BatchUserResult `json:"results"`
	Summary  BatchSummary      `json:"summary"`
	Metadata BatchMeta         `json:"metadata"`
}
