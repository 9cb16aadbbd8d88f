package services

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestMetric = promauto.NewSummaryVec(
		prometheus.SummaryOpts{Name: "baes_manager_request", Help: "Request latency by route"},
		[]string{"method", "route"},
	)

	carteUploadMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baes_manager_carte_uploads",
		Help: "Number of plan images stored successfully.",
	})

	carteAssignConflictMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baes_manager_carte_assign_conflicts",
		Help: "Number of carte assignments rejected because the carte was already assigned.",
	})
)

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unknown"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unknown"
}

func requestMetrics(next http.Handler) http.Handler {
	handler := func(w http.ResponseWriter, r *http.Request) {
		// the route pattern is only complete once the subrouters have matched
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			requestMetric.WithLabelValues(r.Method, routePattern(r)).Observe(v)
		}))
		defer timer.ObserveDuration()

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(handler)
}
