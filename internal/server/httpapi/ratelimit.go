package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"sealrelay/internal/server/metrics"
	"sealrelay/pkg/apperr"
)

// Windows is the shared counter table the limiter rides on.
type Windows interface {
	IncrWindow(ctx context.Context, key string, windowStart time.Time) (int, error)
	SweepWindows(ctx context.Context, cutoff time.Time) (int, error)
}

// sweepChance is the per-request probability of sweeping expired windows.
const sweepChance = 100

// RateLimiter enforces per-IP and per-user sliding-window limits over a
// shared counter table. Expired windows are swept on roughly one request in
// a hundred rather than on every request.
type RateLimiter struct {
	windows    Windows
	ipPerMin   int
	userPerMin int
	now        func() time.Time
}

func NewRateLimiter(windows Windows, ipPerMin, userPerMin int) *RateLimiter {
	return &RateLimiter{
		windows:    windows,
		ipPerMin:   ipPerMin,
		userPerMin: userPerMin,
		now:        time.Now,
	}
}

// Sweep removes windows older than two minutes. Called at startup and
// probabilistically from the request path.
func (rl *RateLimiter) Sweep(ctx context.Context) (int, error) {
	return rl.windows.SweepWindows(ctx, rl.now().Add(-2*time.Minute))
}

// windowKey hashes the identifier so raw addresses and user ids never land
// in the counter table.
func windowKey(kind, id string) string {
	sum := sha256.Sum256([]byte(kind + ":" + id))
	return kind + ":" + hex.EncodeToString(sum[:16])
}

// Middleware rejects requests over either limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		window := rl.now().Truncate(time.Minute)

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		count, err := rl.windows.IncrWindow(r.Context(), windowKey("ip", ip), window)
		if err != nil {
			writeError(w, err)
			return
		}
		if count > rl.ipPerMin {
			rl.reject(w, window, "too many requests from this address")
			return
		}

		if user := r.Header.Get(HeaderUser); user != "" {
			count, err := rl.windows.IncrWindow(r.Context(), windowKey("user", user), window)
			if err != nil {
				writeError(w, err)
				return
			}
			if count > rl.userPerMin {
				rl.reject(w, window, "too many requests for this user")
				return
			}
		}

		if rand.Intn(sweepChance) == 0 {
			if _, err := rl.Sweep(r.Context()); err != nil {
				log.Warningf("rate window sweep: %v", err)
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, window time.Time, msg string) {
	metrics.RateLimited.Inc()
	retry := int(window.Add(time.Minute).Sub(rl.now()).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, apperr.Transient(msg))
}
