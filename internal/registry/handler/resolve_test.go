package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/registry/handler"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"go.uber.org/zap"
)

// ── Stub resolver ────────────────────────────────────────────────────────

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*model.Resolution, error) {
	return nil, fmt.Errorf("%w: serial at 3: connection reset", resolver.ErrEnumeration)
}

func (failingResolver) ResolveMany(context.Context, []string) ([]*model.Resolution, error) {
	return nil, fmt.Errorf("%w: %w", resolver.ErrEnumeration, errors.New("timeout"))
}

func (failingResolver) CacheStats() resolver.CacheStats { return resolver.CacheStats{} }

// ── Tests ────────────────────────────────────────────────────────────────

func TestResolve_unknownInput_200(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"", "?domain=", "?domain=not%20a%20domain", "?domain=localhost"} {
		w := f.do(t, http.MethodGet, "/api/v1/resolve"+q, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", q, w.Code)
		}
		if got := decode(t, w)["status"]; got != string(model.StatusUnknown) {
			t.Errorf("%q: expected unknown, got %v", q, got)
		}
	}
}

func TestResolve_insecureWithoutCertificates(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/resolve?domain=example.com", "", nil)
	resp := decode(t, w)
	if resp["status"] != string(model.StatusInsecure) || resp["host"] != "example.com" {
		t.Errorf("unexpected resolution: %v", resp)
	}
}

func TestResolveBatch(t *testing.T) {
	f := newFixture(t)
	f.registerCert(t, f.token(t, "alice"), "secure.example.com", "SN-1")

	w := f.do(t, http.MethodPost, "/api/v1/resolve/batch", "", map[string][]string{
		"domains": {"secure.example.com", "https://secure.example.com/x", "other.example.com", ""},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	results := decode(t, w)["results"].([]any)
	want := []model.SecurityStatus{model.StatusSecure, model.StatusSecure, model.StatusInsecure, model.StatusUnknown}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, r := range results {
		if got := r.(map[string]any)["status"]; got != string(want[i]) {
			t.Errorf("result %d: expected %s, got %v", i, want[i], got)
		}
	}
}

func TestResolveBatch_400_tooMany(t *testing.T) {
	f := newFixture(t)
	domains := make([]string, 101)
	for i := range domains {
		domains[i] = fmt.Sprintf("d%d.example.com", i)
	}
	w := f.do(t, http.MethodPost, "/api/v1/resolve/batch", "", map[string][]string{"domains": domains})
	expectCode(t, w, http.StatusBadRequest, handler.CodeInvalidRequest)
}

func TestResolve_503_onEnumerationFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.NewResolveHandler(failingResolver{}, zap.NewNop()).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resolve?domain=example.com", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	expectCode(t, w, http.StatusServiceUnavailable, handler.CodeEnumerationFailed)
}

func TestResolveCache(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/resolve/cache", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode(t, w)["cached"]; got != false {
		t.Errorf("expected uncached resolver, got %v", got)
	}
}
