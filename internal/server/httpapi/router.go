package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sealrelay/internal/server/metrics"
	"sealrelay/internal/server/usecase"
)

// Request headers. Mutating endpoints require the signature header; every
// endpoint requires the user and device headers.
const (
	HeaderSignature = "X-Seal-Signature"
	HeaderUser      = "X-Seal-User"
	HeaderDevice    = "X-Seal-Device"
)

// New assembles the server's router.
func New(keys *usecase.Keys, msgs *usecase.Messages, limiter *RateLimiter) http.Handler {
	h := &handlers{keys: keys, msgs: msgs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(requireAuthHeaders)

		r.Post("/v1/keys", h.uploadKeys)
		r.Get("/v1/keys/count", h.preKeyCount)
		r.Post("/v1/keys/rotate", h.rotate)
		r.Get("/v1/keys/rotations", h.rotationHistory)
		r.Get("/v1/keys/{userID}/{deviceID}", h.fetchBundle)

		r.Post("/v1/messages", h.sendMessage)
		r.Get("/v1/messages", h.fetchMessages)

		r.Post("/v1/receipts", h.pushReceipts)
		r.Get("/v1/receipts", h.fetchReceipts)
	})
	return r
}

// requireAuthHeaders makes sure the caller identifies itself. Signature
// verification is per-endpoint; identification is universal.
func requireAuthHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUser) == "" || r.Header.Get(HeaderDevice) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity headers"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
