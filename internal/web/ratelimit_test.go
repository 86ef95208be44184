package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:80", "2001:db8::1"},
		{"192.0.2.1", "192.0.2.1"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.remote
		assert.Equal(t, tc.want, clientIP(r), tc.remote)
	}
}

func TestClientLimiter_BurstThenDeny(t *testing.T) {
	l := newClientLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "clients are limited independently")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"), "a token is refilled after one second")
}

func TestClientLimiter_ForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("idle")
	now = now.Add(clientIdleAfter + sweepEvery + time.Second)
	l.allow("active")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "idle")
	assert.Contains(t, l.clients, "active")
}

func TestRateLimit_Middleware(t *testing.T) {
	e := newTestEnv(t, stubSensor{reading: validReading})
	router := NewServer(":0", e.handlers, RateLimit{RPS: 0.001, Burst: 2}).Router()

	get := func(path string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "198.51.100.7:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/sensor"))
	assert.Equal(t, http.StatusOK, get("/sensor"))
	assert.Equal(t, http.StatusTooManyRequests, get("/sensor"))
	assert.Equal(t, http.StatusOK, get("/healthz"), "health checks are not throttled")
}
