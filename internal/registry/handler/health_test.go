package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/health"
	"github.com/jmerrifield20/certledger/internal/registry/handler"
	"go.uber.org/zap"
)

func setupHealthRouter(t *testing.T, probes ...health.Probe) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	checker := health.New(health.Config{}, zap.NewNop(), probes...)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	handler.NewHealthHandler(checker).Register(r)
	return r
}

func TestHealthz_200(t *testing.T) {
	router := setupHealthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyz_200_allBackendsUp(t *testing.T) {
	router := setupHealthRouter(t,
		health.ProbeFunc("ledger", func(context.Context) error { return nil }),
		health.ProbeFunc("content", func(context.Context) error { return nil }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReadyz_503_backendDown(t *testing.T) {
	router := setupHealthRouter(t,
		health.ProbeFunc("ledger", func(context.Context) error { return nil }),
		health.ProbeFunc("content", func(context.Context) error { return errors.New("redis: connection refused") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Ready    bool                            `json:"ready"`
		Backends map[string]health.BackendStatus `json:"backends"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready || resp.Backends["content"].Healthy || !resp.Backends["ledger"].Healthy {
		t.Errorf("unexpected readiness body: %+v", resp)
	}
}

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 1))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusNoContent {
		t.Fatalf("first request: expected 204, got %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.RemoteAddr = "198.51.100.1:4000"
	ow := httptest.NewRecorder()
	r.ServeHTTP(ow, other)
	if ow.Code != http.StatusNoContent {
		t.Errorf("other client should not be limited, got %d", ow.Code)
	}
}
