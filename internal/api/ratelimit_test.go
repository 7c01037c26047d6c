package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	ip := "203.0.113.7"

	if !rl.Allow(ip) || !rl.Allow(ip) {
		t.Fatal("burst of 2 should admit two immediate requests")
	}
	if rl.Allow(ip) {
		t.Fatal("third immediate request should be limited")
	}

	// At 10 rps a token accrues in 100ms.
	time.Sleep(150 * time.Millisecond)
	if !rl.Allow(ip) {
		t.Fatal("token should have refilled")
	}
}

func TestRateLimiter_IPsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)

	if !rl.Allow("203.0.113.1") {
		t.Fatal("first ip should pass")
	}
	if rl.Allow("203.0.113.1") {
		t.Fatal("first ip should be limited")
	}
	if !rl.Allow("203.0.113.2") {
		t.Fatal("second ip should have its own bucket")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	rl := NewRateLimiter(0.5, 1)
	ip := "203.0.113.8"

	if got := rl.RetryAfter(ip); got != 0 {
		t.Errorf("untouched ip RetryAfter = %d, want 0", got)
	}

	rl.Allow(ip)
	if rl.Allow(ip) {
		t.Fatal("second request should be limited")
	}
	// One token at 0.5 rps takes 2 seconds.
	if got := rl.RetryAfter(ip); got != 2 {
		t.Errorf("RetryAfter = %d, want 2", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	hits := 0
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "198.51.100.1:4242"

	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req2.RemoteAddr = "198.51.100.2:4242"
	rec = httptest.NewRecorder()
	h(rec, req2)
	if rec.Code != http.StatusOK {
		t.Fatalf("other ip status = %d, want 200", rec.Code)
	}

	if hits != 2 {
		t.Errorf("handler hits = %d, want 2", hits)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"host port", "192.0.2.10:5353", "", "192.0.2.10"},
		{"bare host", "192.0.2.11", "", "192.0.2.11"},
		{"forwarded", "10.0.0.1:80", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"ipv6", "[2001:db8::1]:443", "", "2001:db8::1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(req); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
