package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("/items/{id}", http.MethodGet, "No Content"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	after := counterValue(t, HTTPRequestsTotal.WithLabelValues("/items/{id}", http.MethodGet, "No Content"))
	assert.Equal(t, before+1, after)
}

func TestHTTPMetricsMiddleware_OutsideRouter(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }))
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, counterValue(t, HTTPRequestsTotal.WithLabelValues("/plain", http.MethodGet, "OK")), 1.0)
}

func TestSubmissionHelpers(t *testing.T) {
	InitMetrics()
	InitMetrics()

	before := counterValue(t, SubmissionsTotal.WithLabelValues("legal", "scored"))
	ObserveSubmission("legal", 72.5)
	ObserveSubmission("legal", 140) // counted, not observed
	assert.Equal(t, before+2, counterValue(t, SubmissionsTotal.WithLabelValues("legal", "scored")))

	FailSubmission("legal")
	assert.GreaterOrEqual(t, counterValue(t, SubmissionsTotal.WithLabelValues("legal", "failed")), 1.0)

	b := counterValue(t, BookkeepingFailuresTotal.WithLabelValues("archive"))
	FailBookkeeping("archive")
	assert.Equal(t, b+1, counterValue(t, BookkeepingFailuresTotal.WithLabelValues("archive")))

	p := counterValue(t, AITokensTotal.WithLabelValues("m", "prompt"))
	RecordTokens("m", 12, 0)
	assert.Equal(t, p+12, counterValue(t, AITokensTotal.WithLabelValues("m", "prompt")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
