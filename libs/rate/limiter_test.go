package rate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Time) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func limitedRouter(l Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(l, func(c *gin.Context) string { return c.GetHeader("X-User") }, nil))
	r.POST("/trades/buy", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doRequest(r *gin.Engine, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/trades/buy", nil)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareLimitsPerKey(t *testing.T) {
	r := limitedRouter(NewMemory(1, time.Minute))

	if w := doRequest(r, "alice"); w.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", w.Code)
	}
	w := doRequest(r, "alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if w := doRequest(r, "bob"); w.Code != http.StatusOK {
		t.Fatalf("expected other key allowed, got %d", w.Code)
	}
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	r := limitedRouter(NewMemory(1, time.Minute))
	for i := 0; i < 3; i++ {
		if w := doRequest(r, ""); w.Code != http.StatusOK {
			t.Fatalf("expected unkeyed request allowed, got %d", w.Code)
		}
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	r := limitedRouter(failingLimiter{})
	if w := doRequest(r, "alice"); w.Code != http.StatusOK {
		t.Fatalf("expected fail-open, got %d", w.Code)
	}
}
