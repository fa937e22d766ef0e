package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/contentstore"
	internaldns "github.com/jmerrifield20/certledger/internal/dns"
	"github.com/jmerrifield20/certledger/internal/identity"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/handler"
	"github.com/jmerrifield20/certledger/internal/registry/service"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"go.uber.org/zap"
)

const testMaxContent = 4 << 10

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// ── Stub DNS ─────────────────────────────────────────────────────────────

type fakeDNS struct {
	mu      sync.Mutex
	records map[string][]string // domain -> published challenge values
}

func (d *fakeDNS) publish(domain, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[domain] = append(d.records[domain], value)
}

func (d *fakeDNS) lookup(_ context.Context, domain string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	values, ok := d.records[domain]
	if !ok {
		return nil, internaldns.ErrRecordNotFound
	}
	return append([]string(nil), values...), nil
}

// ── Fixture ──────────────────────────────────────────────────────────────

type fixture struct {
	router *gin.Engine
	eng    *engine.Engine
	ledger *trustledger.MemoryLedger
	store  *contentstore.MemoryStore
	tokens *identity.TokenIssuer
	dns    *fakeDNS
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	ledger := trustledger.New()
	eng, err := engine.Open(context.Background(), ledger, engine.Config{RequireChallenge: true}, logger)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(eng.Close)

	store := contentstore.NewMemoryStore(testMaxContent)
	tokens := identity.NewTokenIssuer(signingKey(t), "http://registry.test", 0)
	dns := &fakeDNS{records: make(map[string][]string)}

	certSvc := service.NewCertificateService(eng, store, logger)
	verifySvc := service.NewDomainVerificationService(eng, dns.lookup, logger)
	res := resolver.New(eng, resolver.Config{}, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	certHandler := handler.NewCertificateHandler(eng, certSvc, tokens, logger)
	certHandler.SetMaxUpload(testMaxContent)
	certHandler.Register(v1)
	handler.NewChallengeHandler(verifySvc, tokens, logger).Register(v1)
	handler.NewContentHandler(store, testMaxContent, logger).Register(v1)
	handler.NewResolveHandler(res, logger).Register(v1)
	handler.NewLedgerHandler(ledger, logger).Register(v1)

	return &fixture{router: r, eng: eng, ledger: ledger, store: store, tokens: tokens, dns: dns}
}

func (f *fixture) token(t *testing.T, account string, scopes ...string) string {
	t.Helper()
	tok, err := f.tokens.Issue(account, scopes)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// do sends a JSON request. body may be nil.
func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// upload sends a multipart certificate upload.
func (f *fixture) upload(t *testing.T, token, fileName string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data) //nolint:errcheck
	for k, v := range fields {
		mw.WriteField(k, v) //nolint:errcheck
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// verifyDomain runs the challenge flow over HTTP for account.
func (f *fixture) verifyDomain(t *testing.T, token, domain string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/challenges", token, map[string]string{"domain": domain})
	if w.Code != http.StatusCreated {
		t.Fatalf("start challenge: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	ch := decode(t, w)["challenge"].(map[string]any)
	f.dns.publish(domain, ch["challenge_value"].(string))

	w = f.do(t, http.MethodPost, "/api/v1/challenges/"+ch["id"].(string)+"/verify", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify challenge: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// registerCert verifies domain and uploads a certificate with serial.
func (f *fixture) registerCert(t *testing.T, token, domain, serial string) {
	t.Helper()
	f.verifyDomain(t, token, domain)
	w := f.upload(t, token, serial+".pem", pemFor(domain), map[string]string{"serial_number": serial})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func pemFor(domain string) []byte {
	return []byte("-----BEGIN CERTIFICATE-----\nsubject=C=US, O=Example, CN=" + domain + "\nMIIB\n-----END CERTIFICATE-----\n")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if code == "" {
		return
	}
	if got := decode(t, w)["code"]; got != code {
		t.Errorf("expected code %q, got %v", code, got)
	}
}
