package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

// GET /users/{userID}/recommendations
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.validate.Var(userID, "required,max=128,printascii"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid user_id parameter")
		return
	}

	result, err := h.service.GetRecommendations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	endpoint, _ := h.endpoints.Current()
	recs := result.Flatten()
	writeJSON(w, http.StatusOK, RecommendationResponse{
		UserID:          userID,
		Recommendations: recs,
		Metadata: domain.RecommendationMeta{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			TotalCount:  len(recs),
			Endpoint:    endpoint.ResourceName,
		},
	})
}

// GET /endpoint
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.endpoints.Current()
	resp := EndpointResponse{State: h.endpoints.State().String(), Ready: ok}
	if ok {
		resp.Endpoint = &handle
	}
	writeJSON(w, http.StatusOK, resp)
}
