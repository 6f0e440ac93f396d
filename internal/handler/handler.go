package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/registry"
	"github.com/actuallystonmai/purchase-recommender/internal/service"
)

// Recommender is the part of service.Service the HTTP surface needs.
type Recommender interface {
	GetRecommendations(ctx context.Context, userID string) (*domain.RecommendationResult, error)
	GetBatchRecommendations(ctx context.Context, userIDs []string) (*domain.BatchResponse, error)
}

// EndpointStatus reports the registry's progress.
type EndpointStatus interface {
	Current() (domain.EndpointHandle, bool)
	State() registry.State
}

// Pinger is a backing service /health reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name   string
	pinger Pinger
}

type Option func(*Handler)

// WithDependency adds a backing service to /health. A failed ping turns the
// response into 503.
func WithDependency(name string, p Pinger) Option {
	return func(h *Handler) {
		h.deps = append(h.deps, dependency{name: name, pinger: p})
	}
}

type Handler struct {
	service   Recommender
	endpoints EndpointStatus
	validate  *validator.Validate
	deps      []dependency
}

func NewHandler(svc Recommender, endpoints EndpointStatus, opts ...Option) *Handler {
	h := &Handler{
		service:   svc,
		endpoints: endpoints,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// write JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.String("component", "handler"), zap.Error(err))
	}
}

// writes JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// writeServiceError maps an error kind to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	code, msg := service.CategorizeError(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrEndpointNotReady), errors.Is(err, domain.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrQueryFailed), errors.Is(err, domain.ErrScoringMismatch):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("unhandled service error", zap.String("component", "handler"), zap.Error(err))
	}
	writeError(w, status, code, msg)
}
