package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var ready = domain.EndpointHandle{DisplayName: "osusume-endpoint", ResourceName: "endpoints/42"}

type fakeWarehouse struct {
	purchased map[string][]string
	catalog   []domain.Product
	err       error
	delay     time.Duration
}

func (w *fakeWarehouse) PurchasedProductIDs(ctx context.Context, userID string) ([]string, error) {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.purchased[userID], nil
}

func (w *fakeWarehouse) Catalog(ctx context.Context) ([]domain.Product, error) {
	return w.catalog, nil
}

// fakeScorer scores each record with the positive probability stored under
// its product ID.
type fakeScorer struct {
	mu      sync.Mutex
	batches [][]domain.FeatureRecord
	scores  map[string]float64
	drop    int
	err     error
}

func (s *fakeScorer) Predict(ctx context.Context, endpoint domain.EndpointHandle, batch []domain.FeatureRecord) ([]domain.ScorePair, error) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.ScorePair, 0, len(batch))
	for _, rec := range batch {
		p := s.scores[rec.ProductID]
		out = append(out, domain.ScorePair{Negative: 1 - p, Positive: p})
	}
	return out[:len(out)-s.drop], nil
}

func (s *fakeScorer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type fixedEndpoint struct {
	handle domain.EndpointHandle
}

func (f fixedEndpoint) Current() (domain.EndpointHandle, bool) {
	return f.handle, !f.handle.IsZero()
}

func product(id string) domain.Product {
	return domain.Product{ID: id, Category: "tops", Price: 39, Season: "summer"}
}

func catalogOf(ids ...string) []domain.Product {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, product(id))
	}
	return out
}

func newTestService(w *fakeWarehouse, s *fakeScorer) *Service {
	return NewService(w, s, fixedEndpoint{handle: ready}, Options{
		QueryTimeout:   time.Second,
		PredictTimeout: time.Second,
	})
}

func positives(r *domain.RecommendationResult) []float64 {
	out := make([]float64, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, item.Score.Positive)
	}
	return out
}

func ids(r *domain.RecommendationResult) []string {
	out := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, item.Product.ID)
	}
	return out
}

func TestRecommendOrdersByPositiveScore(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a", "b", "c")}
	s := &fakeScorer{scores: map[string]float64{"a": 0.9, "b": 0.5, "c": 0.7}}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.9, 0.7, 0.5}, positives(result))
	assert.Equal(t, []string{"a", "c", "b"}, ids(result))
	assert.Equal(t, "u1", result.UserID)
}

func TestRecommendExcludesPurchased(t *testing.T) {
	w := &fakeWarehouse{
		purchased: map[string][]string{"u1": {"b", "d"}},
		catalog:   catalogOf("a", "b", "c", "d"),
	}
	s := &fakeScorer{scores: map[string]float64{"a": 0.2, "b": 0.99, "c": 0.4, "d": 0.98}}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, ids(result))
	require.Len(t, s.batches, 1)
	assert.Equal(t, []domain.FeatureRecord{
		domain.NewFeatureRecord("u1", product("a")),
		domain.NewFeatureRecord("u1", product("c")),
	}, s.batches[0])
}

func TestRecommendCapsAtFive(t *testing.T) {
	scores := map[string]float64{}
	var catalog []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("p%02d", i)
		catalog = append(catalog, id)
		scores[id] = float64(i) / 20
	}
	w := &fakeWarehouse{catalog: catalogOf(catalog...)}
	s := &fakeScorer{scores: scores}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)

	assert.Len(t, result.Items, domain.MaxRecommendations)
	assert.Equal(t, []string{"p11", "p10", "p09", "p08", "p07"}, ids(result))
	for i := 1; i < len(result.Items); i++ {
		assert.GreaterOrEqual(t, result.Items[i-1].Score.Positive, result.Items[i].Score.Positive)
	}
}

func TestRecommendFewerCandidatesThanCap(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a", "b")}
	s := &fakeScorer{scores: map[string]float64{"a": 0.3, "b": 0.6}}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
}

func TestRecommendTiesKeepCatalogOrder(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("x", "y", "z", "w")}
	s := &fakeScorer{scores: map[string]float64{"x": 0.5, "y": 0.8, "z": 0.5, "w": 0.5}}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "z", "w"}, ids(result))
}

func TestRecommendNoCandidatesSkipsScoring(t *testing.T) {
	w := &fakeWarehouse{
		purchased: map[string][]string{"u1": {"a", "b"}},
		catalog:   catalogOf("a", "b"),
	}
	s := &fakeScorer{}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Zero(t, s.calls())
}

func TestRecommendCountMismatch(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a", "b", "c")}
	s := &fakeScorer{scores: map[string]float64{"a": 0.1, "b": 0.2, "c": 0.3}, drop: 1}

	result, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrScoringMismatch)
}

func TestRecommendInvalidPair(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{scores: map[string]float64{"a": 1.4}}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrScoringMismatch)
}

func TestRecommendMalformedPrediction(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{err: &model.ModelInferenceError{Msg: "prediction 0: expected 2 scores, got 3"}}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrScoringMismatch)
}

func TestRecommendScorerUnavailable(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{err: errors.New("connection reset by peer")}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestRecommendCircuitOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{err: fmt.Errorf("model: predict: %w", gobreaker.ErrOpenState)}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	open := logs.FilterMessage("prediction circuit open; skipping endpoint call")
	require.Equal(t, 1, open.Len())
	assert.Equal(t, "endpoints/42", open.All()[0].ContextMap()["endpoint"])
}

func TestRecommendEndpointNotReady(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", domain.EndpointHandle{})
	assert.ErrorIs(t, err, domain.ErrEndpointNotReady)
	assert.Zero(t, s.calls())
}

func TestRecommendQueryFailed(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a"), err: errors.New("table not found")}
	s := &fakeScorer{}

	_, err := newTestService(w, s).Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrQueryFailed)
	assert.Zero(t, s.calls())
}

func TestRecommendQueryTimeout(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a"), delay: time.Second}
	s := &fakeScorer{}
	svc := NewService(w, s, fixedEndpoint{handle: ready}, Options{QueryTimeout: 10 * time.Millisecond})

	_, err := svc.Recommend(context.Background(), "u1", ready)
	assert.ErrorIs(t, err, domain.ErrQueryFailed)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestGetRecommendationsUsesCurrentEndpoint(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{scores: map[string]float64{"a": 0.6}}

	svc := NewService(w, s, fixedEndpoint{}, Options{})
	_, err := svc.GetRecommendations(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrEndpointNotReady)

	svc = NewService(w, s, fixedEndpoint{handle: ready}, Options{})
	result, err := svc.GetRecommendations(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(result))
}

func TestGetBatchRecommendations(t *testing.T) {
	w := &fakeWarehouse{
		purchased: map[string][]string{"u2": {"a", "b"}},
		catalog:   catalogOf("a", "b"),
	}
	s := &fakeScorer{scores: map[string]float64{"a": 0.4, "b": 0.6}}

	resp, err := newTestService(w, s).GetBatchRecommendations(context.Background(), []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "u1", resp.Results[0].UserID)
	assert.Equal(t, domain.StatusSuccess, resp.Results[0].Status)
	require.Len(t, resp.Results[0].Recommendations, 2)
	assert.Equal(t, "b", resp.Results[0].Recommendations[0].ProductID)
	assert.Empty(t, resp.Results[1].Recommendations)
	assert.Equal(t, 3, resp.Summary.SuccessCount)
	assert.Zero(t, resp.Summary.FailedCount)
	assert.NotEmpty(t, resp.Metadata.BatchID)
}

func TestGetBatchRecommendationsIsolatesFailures(t *testing.T) {
	w := &fakeWarehouse{catalog: catalogOf("a")}
	s := &fakeScorer{err: errors.New("unavailable")}

	resp, err := NewService(w, s, fixedEndpoint{handle: ready}, Options{BatchConcurrency: 2}).
		GetBatchRecommendations(context.Background(), []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Summary.FailedCount)
	for _, r := range resp.Results {
		assert.Equal(t, domain.StatusFailed, r.Status)
		assert.Equal(t, "model_unavailable", r.Error)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&domain.Error{Kind: domain.ErrEndpointNotReady}, "endpoint_not_ready"},
		{&domain.Error{Kind: domain.ErrQueryFailed}, "query_failed"},
		{&domain.Error{Kind: domain.ErrScoringMismatch}, "scoring_mismatch"},
		{&domain.Error{Kind: domain.ErrServiceUnavailable}, "model_unavailable"},
		{&domain.Error{Kind: domain.ErrQueryFailed, Timeout: true}, "request_timeout"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		code, msg := CategorizeError(tt.err)
		assert.Equal(t, tt.code, code)
		assert.NotEmpty(t, msg)
	}
}
