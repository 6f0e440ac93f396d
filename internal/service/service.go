package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/metrics"
	"github.com/actuallystonmai/purchase-recommender/internal/model"
	"github.com/actuallystonmai/purchase-recommender/internal/warehouse"
)

const defaultBatchConcurrency = 10

// Scorer scores a batch of feature records. The i-th returned pair belongs to
// the i-th record; implementations must return exactly len(batch) pairs or an
// error.
type Scorer interface {
	Predict(ctx context.Context, endpoint domain.EndpointHandle, batch []domain.FeatureRecord) ([]domain.ScorePair, error)
}

// EndpointSource hands out the resolved endpoint, if any.
type EndpointSource interface {
	Current() (domain.EndpointHandle, bool)
}

type Options struct {
	QueryTimeout     time.Duration
	PredictTimeout   time.Duration
	BatchConcurrency int
}

type Service struct {
	warehouse warehouse.Warehouse
	scorer    Scorer
	endpoints EndpointSource
	opts      Options
}

func NewService(wh warehouse.Warehouse, scorer Scorer, endpoints EndpointSource, opts Options) *Service {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	return &Service{
		warehouse: wh,
		scorer:    scorer,
		endpoints: endpoints,
		opts:      opts,
	}
}

// GetRecommendations recommends against the endpoint the registry resolved.
func (s *Service) GetRecommendations(ctx context.Context, userID string) (*domain.RecommendationResult, error) {
	endpoint, _ := s.endpoints.Current()
	return s.Recommend(ctx, userID, endpoint)
}

// Recommend ranks the products userID has not purchased by the model's
// positive-class probability and returns the top domain.MaxRecommendations.
func (s *Service) Recommend(ctx context.Context, userID string, endpoint domain.EndpointHandle) (result *domain.RecommendationResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome, _ = categorizeError(err)
		case len(result.Items) == 0:
			outcome = "empty"
		}
		metrics.RecordRecommendation(outcome, time.Since(start))
	}()

	if endpoint.IsZero() {
		return nil, &domain.Error{Kind: domain.ErrEndpointNotReady, Op: "service.Recommend"}
	}

	candidates, err := s.candidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	result = &domain.RecommendationResult{UserID: userID, Items: []domain.ScoredCandidate{}}
	if len(candidates) == 0 {
		return result, nil
	}

	scored, err := s.score(ctx, userID, endpoint, candidates)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.Positive > scored[j].Score.Positive
	})
	if len(scored) > domain.MaxRecommendations {
		scored = scored[:domain.MaxRecommendations]
	}
	result.Items = scored
	return result, nil
}

// candidates reads the purchased set and the catalog concurrently and keeps
// the catalog rows the user has not bought, in catalog order.
func (s *Service) candidates(ctx context.Context, userID string) ([]domain.Product, error) {
	queryCtx, cancel := withTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	var (
		purchased []string
		catalog   []domain.Product
	)
	g, gctx := errgroup.WithContext(queryCtx)
	g.Go(func() error {
		defer metrics.ObserveQuery("purchased", time.Now())
		var err error
		purchased, err = s.warehouse.PurchasedProductIDs(gctx, userID)
		return err
	})
	g.Go(func() error {
		defer metrics.ObserveQuery("catalog", time.Now())
		var err error
		catalog, err = s.warehouse.Catalog(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.NewError(queryCtx, domain.ErrQueryFailed, "service.candidates", err)
	}

	owned := make(map[string]struct{}, len(purchased))
	for _, id := range purchased {
		owned[id] = struct{}{}
	}
	candidates := make([]domain.Product, 0, len(catalog))
	for _, p := range catalog {
		if _, ok := owned[p.ID]; ok {
			continue
		}
		candidates = append(candidates, p)
	}
	return candidates, nil
}

// score submits every candidate in one batch and pairs the results back by position.
func (s *Service) score(ctx context.Context, userID string, endpoint domain.EndpointHandle, candidates []domain.Product) ([]domain.ScoredCandidate, error) {
	batch := make([]domain.FeatureRecord, 0, len(candidates))
	for _, p := range candidates {
		batch = append(batch, domain.NewFeatureRecord(userID, p))
	}
	metrics.ScoringBatchSize.Observe(float64(len(batch)))

	predictCtx, cancel := withTimeout(ctx, s.opts.PredictTimeout)
	defer cancel()

	scores, err := s.scorer.Predict(predictCtx, endpoint, batch)
	if err != nil {
		if model.IsModelInferenceError(err) {
			return nil, domain.NewError(predictCtx, domain.ErrScoringMismatch, "service.score", err)
		}
		if model.IsOpen(err) {
			zap.L().Warn("prediction circuit open; skipping endpoint call",
				zap.String("component", "service"),
				zap.String("user_id", userID),
				zap.String("endpoint", endpoint.ResourceName))
		}
		return nil, domain.NewError(predictCtx, domain.ErrServiceUnavailable, "service.score", err)
	}
	if len(scores) != len(batch) {
		return nil, &domain.Error{
			Kind: domain.ErrScoringMismatch,
			Op:   "service.score",
			Err:  fmt.Errorf("%d scores for %d candidates", len(scores), len(batch)),
		}
	}

	scored := make([]domain.ScoredCandidate, len(candidates))
	for i, p := range candidates {
		if !scores[i].Valid() {
			return nil, &domain.Error{Kind: domain.ErrScoringMismatch, Op: "service.score", Err: fmt.Errorf("invalid score pair %v for %s", scores[i], p.ID)}
		}
		scored[i] = domain.ScoredCandidate{Product: p, Score: scores[i]}
	}
	return scored, nil
}

func (s *Service) GetBatchRecommendations(ctx context.Context, userIDs []string) (*domain.BatchResponse, error) {
	start := time.Now()
	endpoint, _ := s.endpoints.Current()

	// Process users concurrently with bounded worker pool
	results := make([]domain.BatchUserResult, len(userIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchConcurrency)

	var mu sync.Mutex
	successCount, failedCount := 0, 0
	for i, userID := range userIDs {
		g.Go(func() error {
			// per-user failures stay in that user's result
			results[i] = s.processUserForBatch(gctx, userID, endpoint)
			mu.Lock()
			if results[i].Status == domain.StatusSuccess {
				successCount++
			} else {
				failedCount++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return &domain.BatchResponse{
		Results: results,
		Summary: domain.BatchSummary{
			SuccessCount:     successCount,
			FailedCount:      failedCount,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
		Metadata: domain.BatchMeta{
			BatchID:     uuid.NewString(),
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Generates recommendations for a single user, capturing errors.
func (s *Service) processUserForBatch(ctx context.Context, userID string, endpoint domain.EndpointHandle) domain.BatchUserResult {
	result, err := s.Recommend(ctx, userID, endpoint)
	if err != nil {
		zap.L().Warn("batch recommendation failed",
			zap.String("component", "service"),
			zap.String("user_id", userID),
			zap.Error(err))
		code, msg := categorizeError(err)
		return domain.BatchUserResult{
			UserID:  userID,
			Status:  domain.StatusFailed,
			Error:   code,
			Message: msg,
		}
	}

	return domain.BatchUserResult{
		UserID:          userID,
		Recommendations: result.Flatten(),
		Status:          domain.StatusSuccess,
	}
}

// categorizeError maps an error to a stable code and a client-safe message.
func categorizeError(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "request_timeout", "the request timed out"
	case errors.Is(err, domain.ErrEndpointNotReady):
		return "endpoint_not_ready", "the prediction endpoint is not ready yet"
	case errors.Is(err, domain.ErrQueryFailed):
		return "query_failed", "failed to read purchase data"
	case errors.Is(err, domain.ErrScoringMismatch):
		return "scoring_mismatch", "the model returned unusable scores"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "model_unavailable", "the recommendation model is unavailable"
	default:
		return "internal_error", "an unexpected error occurred"
	}
}

// CategorizeError exposes the error codes used in batch results to the
// HTTP and console surfaces.
func CategorizeError(err error) (code, message string) {
	return categorizeError(err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
