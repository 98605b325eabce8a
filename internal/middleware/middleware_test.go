package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRequestIDGenerated(t *testing.T) {
	r := newRouter(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated X-Request-ID header")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	r := newRouter(RequestID())

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	limiter := NewIPRateLimiter(1, 3)
	r := newRouter(limiter.Middleware())

	statuses := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	for i := 0; i < 3; i++ {
		if statuses[i] != http.StatusOK {
			t.Errorf("request %d: status %d, want 200", i, statuses[i])
		}
	}
	if statuses[4] != http.StatusTooManyRequests {
		t.Errorf("request 5: status %d, want 429", statuses[4])
	}
}

func TestRateLimitPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	r := newRouter(limiter.Middleware())

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest("GET", "/ping", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(first, req1)

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest("GET", "/ping", nil)
	req2.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(second, req2)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Errorf("distinct IPs should not share a bucket: %d, %d", first.Code, second.Code)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	r := newRouter(CORS())

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q, want http://localhost:5173", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	r := newRouter(CORS())

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(CORS())

	req := httptest.NewRequest("OPTIONS", "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestCORSExtraOriginsFromEnv(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	origins := AllowedOrigins()
	found := 0
	for _, o := range origins {
		if o == "https://app.example.com" || o == "https://staging.example.com" {
			found++
		}
	}
	if found != 2 {
		t.Errorf("env origins not merged, got %v", origins)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newRouter(Security())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
