package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of oracle requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Oracle request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Estimated oracle tokens by model and kind (prompt|completion)",
		},
		[]string{"model", "kind"},
	)
	AICacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cache_lookups_total",
			Help: "Oracle response cache lookups by result (hit|miss|error)",
		},
		[]string{"result"},
	)
	ScoringFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoring_fallbacks_total",
			Help: "Oracle scoring attempts that fell back to the local heuristic",
		},
		[]string{"exercise"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Scored submissions by exercise and outcome",
		},
		[]string{"exercise", "outcome"},
	)
	// Scores are normalized to [0,100] before observation.
	SubmissionScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submission_score",
			Help:    "Distribution of submission scores in [0,100]",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"exercise"},
	)
	BookkeepingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_failures_total",
			Help: "Best-effort side effects that failed (archive|progress|event)",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// InitMetrics registers every collector with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			AICacheLookupsTotal,
			ScoringFallbacksTotal,
			SubmissionsTotal,
			SubmissionScore,
			BookkeepingFailuresTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveSubmission records a scored submission. score must already be on the 0..100 scale.
func ObserveSubmission(exercise string, score float64) {
	SubmissionsTotal.WithLabelValues(exercise, "scored").Inc()
	if score >= 0 && score <= 100 {
		SubmissionScore.WithLabelValues(exercise).Observe(score)
	}
}

// FailSubmission counts a submission that could not be scored.
func FailSubmission(exercise string) {
	SubmissionsTotal.WithLabelValues(exercise, "failed").Inc()
}

// FailBookkeeping counts a failed best-effort side effect.
func FailBookkeeping(kind string) {
	BookkeepingFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordTokens adds estimated token usage for one oracle exchange.
func RecordTokens(model string, prompt, completion int) {
	if prompt > 0 {
		AITokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		AITokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
}
