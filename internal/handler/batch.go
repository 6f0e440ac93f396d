package handler

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

const maxBatchUsers = 100

// POST /recommendations/batch
func (h *Handler) GetBatchRecommendations(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON with a user_ids array")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", fmt.Sprintf("user_ids must hold 1 to %d non-empty IDs", maxBatchUsers))
		return
	}

	result, err := h.service.GetBatchRecommendations(r.Context(), req.UserIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
