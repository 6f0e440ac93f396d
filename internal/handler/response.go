package handler

import "github.com/actuallystonmai/purchase-recommender/internal/domain"

type RecommendationResponse struct {
	UserID          string                        `json:"user_id"`
	Recommendations []domain.ScoredRecommendation `json:"recommendations"`
	Metadata        domain.RecommendationMeta     `json:"metadata"`
}

type BatchRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=100,dive,required,max=128"`
}

type EndpointResponse struct {
	State    string                 `json:"state"`
	Ready    bool                   `json:"ready"`
	Endpoint *domain.EndpointHandle `json:"endpoint,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string   `json:"status"`
	Unavailable []string `json:"unavailable,omitempty"`
}
