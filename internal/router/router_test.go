package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/handler"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestHealthAndMetrics(t *testing.T) {
	r := Setup(handler.NewHandler(nil, nil), 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	r := Setup(handler.NewHandler(nil, nil), 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recommendations/batch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
