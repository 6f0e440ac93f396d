package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRecommender struct {
	users   []string
	results map[string]*domain.RecommendationResult
	err     error
}

func (f *fakeRecommender) GetRecommendations(ctx context.Context, userID string) (*domain.RecommendationResult, error) {
	f.users = append(f.users, userID)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[userID]; ok {
		return r, nil
	}
	return &domain.RecommendationResult{UserID: userID}, nil
}

func run(t *testing.T, input string, rec Recommender) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, New(strings.NewReader(input), &out, rec).Run(context.Background()))
	return out.String()
}

func TestRunPrintsRankedLines(t *testing.T) {
	rec := &fakeRecommender{results: map[string]*domain.RecommendationResult{
		"u1": {UserID: "u1", Items: []domain.ScoredCandidate{
			{Product: domain.Product{ID: "p1", Category: "tops", Price: 39, Season: "summer"}, Score: domain.ScorePair{Negative: 0.088, Positive: 0.912}},
			{Product: domain.Product{ID: "p2", Category: "shoes", Price: 89.5, Season: "winter"}, Score: domain.ScorePair{Negative: 0.3, Positive: 0.7}},
		}},
	}}

	out := run(t, "u1\nquit\n", rec)

	assert.Contains(t, out, "Recommended products for user u1:")
	assert.Contains(t, out, "product_id: p1, category: tops, price: 39, season: summer, score: 0.91\n")
	assert.Contains(t, out, "product_id: p2, category: shoes, price: 89.5, season: winter, score: 0.70\n")
	assert.Less(t, strings.Index(out, "p1"), strings.Index(out, "p2"))
	assert.Contains(t, out, "Exiting.")
	assert.Equal(t, []string{"u1"}, rec.users)
}

func TestRunQuitIsCaseInsensitive(t *testing.T) {
	rec := &fakeRecommender{}
	run(t, "QuIt\nu1\n", rec)
	assert.Empty(t, rec.users)
}

func TestRunSkipsBlankLines(t *testing.T) {
	rec := &fakeRecommender{}
	run(t, "\n   \nu1\nquit\n", rec)
	assert.Equal(t, []string{"u1"}, rec.users)
}

func TestRunEmptyResult(t *testing.T) {
	out := run(t, "u9\nquit\n", &fakeRecommender{})
	assert.Contains(t, out, "No recommendations for user u9.")
}

func TestRunKeepsGoingAfterError(t *testing.T) {
	rec := &fakeRecommender{err: &domain.Error{Kind: domain.ErrQueryFailed}}
	out := run(t, "u1\nu2\nquit\n", rec)

	assert.Equal(t, []string{"u1", "u2"}, rec.users)
	assert.Contains(t, out, "No recommendations for user u1 (failed to read purchase data).")
	assert.Contains(t, out, "No recommendations for user u2")
}

func TestRunLastLineWithoutNewline(t *testing.T) {
	rec := &fakeRecommender{}
	run(t, "u1\r\nu2", rec)
	assert.Equal(t, []string{"u1", "u2"}, rec.users)
}

func TestRunCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(pr, io.Discard, &fakeRecommender{}).Run(ctx)
	assert.ErrorIs(t, err, ErrInputCancelled)
}
