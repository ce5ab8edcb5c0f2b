// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sealrelay",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sealrelay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sealrelay",
		Name:      "messages_stored_total",
		Help:      "Messages accepted past the integrity guard.",
	})

	ReplaysDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sealrelay",
		Name:      "replays_detected_total",
		Help:      "Submissions rejected by replay-log collision.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sealrelay",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
