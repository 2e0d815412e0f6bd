package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsMatchedRoute(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/expenses/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/expenses/42", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("DELETE", "DELETE /api/expenses/{id}", "404")))
}

func TestMiddlewareFoldsUnknownMethods(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	h := m.Middleware(mux)

	for _, method := range []string{"BREW", "PROPFIND", "X-CUSTOM"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, "/api/health", nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues("other", "/api/health", "405")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
}

func TestPoolSaturatedAndHandler(t *testing.T) {
	m := New()
	m.PoolSaturated("queue_full")
	m.PoolSaturated("queue_full")
	m.RateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolSaturated.WithLabelValues("queue_full")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "kakeibo_db_pool_saturated_total"))
	assert.True(t, strings.Contains(body, "kakeibo_http_rate_limited_total 1"))
}
