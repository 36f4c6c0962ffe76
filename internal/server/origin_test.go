package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func requestWithOrigin(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"native client without origin", []string{"http://localhost:8080"}, "", true},
		{"listed origin", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"http://LOCALHOST:8080"}, "HTTP://localhost:8080", true},
		{"unlisted origin", []string{"http://localhost:8080"}, "http://evil.example", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"malformed origin header", []string{"http://localhost:8080"}, "not a url", false},
		{"nothing configured", nil, "http://localhost:8080", false},
		{"invalid entries ignored", []string{"bogus", " http://ok.example "}, "http://ok.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed)
			assert.Equal(t, tt.want, p.checkOrigin(requestWithOrigin(tt.origin)))
		})
	}
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{Burst: 2, RefillInterval: time.Second})
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(10 * time.Second)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}

func TestRateLimiterInvalidConfig(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	assert.True(t, rl.allow())
}
