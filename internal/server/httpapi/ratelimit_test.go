package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindows struct {
	counts map[string]int
	swept  int
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{counts: make(map[string]int)}
}

func (f *fakeWindows) IncrWindow(_ context.Context, key string, windowStart time.Time) (int, error) {
	k := key + "|" + windowStart.Format(time.RFC3339)
	f.counts[k]++
	return f.counts[k], nil
}

func (f *fakeWindows) SweepWindows(_ context.Context, _ time.Time) (int, error) {
	f.swept++
	return 0, nil
}

func limitedHandler(windows Windows, ipPerMin, userPerMin int, now time.Time) http.Handler {
	rl := NewRateLimiter(windows, ipPerMin, userPerMin)
	rl.now = func() time.Time { return now }
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func doReq(h http.Handler, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	req.RemoteAddr = "192.0.2.7:4242"
	if user != "" {
		req.Header.Set(HeaderUser, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_UserLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	h := limitedHandler(newFakeWindows(), 100, 3, now)

	for i := 0; i < 3; i++ {
		rec := doReq(h, "alice")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := doReq(h, "alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// A different user is counted independently.
	rec = doReq(h, "bob")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiter_IPLimitCoversAnonymous(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := limitedHandler(newFakeWindows(), 2, 100, now)

	require.Equal(t, http.StatusNoContent, doReq(h, "").Code)
	require.Equal(t, http.StatusNoContent, doReq(h, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, doReq(h, "").Code)
}

func TestRateLimiter_NewWindowResetsCount(t *testing.T) {
	windows := newFakeWindows()
	now := time.Date(2025, 6, 1, 12, 0, 59, 0, time.UTC)
	h := limitedHandler(windows, 100, 1, now)

	require.Equal(t, http.StatusNoContent, doReq(h, "alice").Code)
	require.Equal(t, http.StatusTooManyRequests, doReq(h, "alice").Code)

	h = limitedHandler(windows, 100, 1, now.Add(time.Second))
	assert.Equal(t, http.StatusNoContent, doReq(h, "alice").Code)
}
