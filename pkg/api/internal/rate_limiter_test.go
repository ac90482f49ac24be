package internal

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func allowed(rl *RateLimiter, key string) bool {
	ok, _ := rl.Allow(key)
	return ok
}

func TestRateLimiter_AllowWithinWindow(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !allowed(limiter, "10.0.0.1") || !allowed(limiter, "10.0.0.1") {
		t.Fatal("Expected first two requests to be allowed")
	}

	now = now.Add(20 * time.Second)
	ok, wait := limiter.Allow("10.0.0.1")
	if ok {
		t.Fatal("Expected third request to be rejected")
	}
	if wait != 40*time.Second {
		t.Errorf("Expected 40s until the window reopens, got %v", wait)
	}
	if !allowed(limiter, "10.0.0.2") {
		t.Fatal("Expected other IP to be allowed")
	}

	now = now.Add(40 * time.Second)
	if !allowed(limiter, "10.0.0.1") {
		t.Fatal("Expected request after window reset to be allowed")
	}
}

func TestRateLimiter_CleanupRemovesExpired(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		limiter.Allow("192.168.1." + strconv.Itoa(i))
	}
	if limiter.Len() != 50 {
		t.Fatalf("Expected 50 tracked clients, got %d", limiter.Len())
	}

	now = now.Add(2 * time.Minute)
	limiter.Cleanup()
	if limiter.Len() != 0 {
		t.Errorf("Expected all entries expired, got %d", limiter.Len())
	}
}

func TestRateLimiter_SweepsOncePerWindow(t *testing.T) {
	limiter := NewRateLimiter(1000, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		limiter.Allow("ip-" + strconv.Itoa(i))
	}

	now = now.Add(30 * time.Second)
	limiter.Allow("late")
	if limiter.Len() != 21 {
		t.Fatalf("Expected no sweep inside the window, got %d clients", limiter.Len())
	}

	now = now.Add(30 * time.Second)
	limiter.Allow("fresh")
	if limiter.Len() != 2 {
		t.Errorf("Expected only late and fresh after the sweep, got %d", limiter.Len())
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{59*time.Second + time.Millisecond, 60},
		{time.Minute, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.wait); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.wait, got, tt.want)
		}
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", "198.51.100.1, 10.0.0.1", "10.0.0.2:1234", "198.51.100.1"},
		{"remote addr with port", "", "203.0.113.7:51234", "203.0.113.7"},
		{"remote addr without port", "", "203.0.113.7", "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
