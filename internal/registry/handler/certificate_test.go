package handler_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jmerrifield20/certledger/internal/registry/handler"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/registry/service"
)

func TestCertificateLifecycle_endToEnd(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")

	f.registerCert(t, alice, "example.com", "SN-1")

	w := f.do(t, http.MethodGet, "/api/v1/certificates/SN-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cert := decode(t, w)
	if cert["domain"] != "example.com" || cert["owner"] != "alice" || cert["revoked"] != false {
		t.Errorf("unexpected certificate: %v", cert)
	}
	if !strings.HasPrefix(cert["content_id"].(string), "sha256:") {
		t.Errorf("unexpected content id %v", cert["content_id"])
	}

	w = f.do(t, http.MethodGet, "/api/v1/certificates/SN-1/content", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("content: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != string(pemFor("example.com")) {
		t.Errorf("downloaded bytes differ from upload")
	}
	if got := w.Header().Get("X-Content-Hash"); got != service.ContentHash(pemFor("example.com")) {
		t.Errorf("unexpected X-Content-Hash %q", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/resolve?domain=https://Example.com/login", "", nil)
	res := decode(t, w)
	if res["status"] != string(model.StatusSecure) {
		t.Fatalf("expected secure, got %v", res)
	}

	w = f.do(t, http.MethodPost, "/api/v1/certificates/SN-1/revoke", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/resolve?domain=example.com", "", nil)
	if got := decode(t, w)["status"]; got != string(model.StatusInsecure) {
		t.Errorf("expected insecure after revoke, got %v", got)
	}
}

func TestUpload_derivesDomainAndSerial(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.verifyDomain(t, alice, "shop.example.org")

	w := f.upload(t, alice, "shop cert.pem", pemFor("shop.example.org"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	cert := decode(t, w)["certificate"].(map[string]any)
	if cert["domain"] != "shop.example.org" {
		t.Errorf("expected domain from CN, got %v", cert["domain"])
	}
	if !strings.HasPrefix(cert["serial_number"].(string), "CERT-") {
		t.Errorf("expected generated serial, got %v", cert["serial_number"])
	}
}

func TestUpload_noCommonName_422(t *testing.T) {
	f := newFixture(t)
	w := f.upload(t, f.token(t, "alice"), "x.pem", []byte("no subject here"), nil)
	expectCode(t, w, http.StatusUnprocessableEntity, handler.CodeNoCommonName)
}

func TestUpload_missingFile_400(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/certificates/upload", f.token(t, "alice"), map[string]string{"x": "y"})
	expectCode(t, w, http.StatusBadRequest, handler.CodeInvalidRequest)
}

func TestUpload_tooLarge_413(t *testing.T) {
	f := newFixture(t)
	big := make([]byte, testMaxContent+1)
	for i := range big {
		big[i] = 'a'
	}
	w := f.upload(t, f.token(t, "alice"), "big.pem", big, map[string]string{"domain": "example.com"})
	expectCode(t, w, http.StatusRequestEntityTooLarge, handler.CodeContentTooLarge)
}

func TestCreateCertificate_401_noToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/certificates", "", model.RegisterRequest{
		Domain: "example.com", SerialNumber: "SN-1", ContentID: "sha256:x", ContentHash: "0x1",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateCertificate_403_withoutChallenge(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/certificates", f.token(t, "alice"), model.RegisterRequest{
		Domain: "example.com", SerialNumber: "SN-1", ContentID: "sha256:x", ContentHash: "0x1",
	})
	expectCode(t, w, http.StatusForbidden, handler.CodeNotAuthorized)
}

func TestCreateCertificate_400_missingFields(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/certificates", f.token(t, "alice"), map[string]string{"domain": "example.com"})
	expectCode(t, w, http.StatusBadRequest, handler.CodeInvalidRequest)
}

func TestCreateCertificate_201_preUploaded(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.verifyDomain(t, alice, "example.com")

	id, err := f.store.Put(context.Background(), []byte("cert-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	w := f.do(t, http.MethodPost, "/api/v1/certificates", alice, model.RegisterRequest{
		Domain: "example.com", SerialNumber: "SN-9", ContentID: id, ContentHash: service.ContentHash([]byte("cert-bytes")),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	receipt := decode(t, w)["receipt"].(map[string]any)
	if receipt["ledger_index"].(float64) < 1 {
		t.Errorf("expected a ledger index, got %v", receipt)
	}
}

func TestCreateCertificate_409_duplicateSerial(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.registerCert(t, alice, "example.com", "SN-1")

	w := f.do(t, http.MethodPost, "/api/v1/certificates", alice, model.RegisterRequest{
		Domain: "example.com", SerialNumber: "SN-1", ContentID: "sha256:x", ContentHash: "0x1",
	})
	expectCode(t, w, http.StatusConflict, handler.CodeDuplicateSerial)
}

func TestRevoke_403_notOwner(t *testing.T) {
	f := newFixture(t)
	f.registerCert(t, f.token(t, "alice"), "example.com", "SN-1")

	w := f.do(t, http.MethodPost, "/api/v1/certificates/SN-1/revoke", f.token(t, "bob"), nil)
	expectCode(t, w, http.StatusForbidden, handler.CodeNotOwner)
}

func TestRevoke_409_twice(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.registerCert(t, alice, "example.com", "SN-1")

	f.do(t, http.MethodPost, "/api/v1/certificates/SN-1/revoke", alice, nil)
	w := f.do(t, http.MethodPost, "/api/v1/certificates/SN-1/revoke", alice, nil)
	expectCode(t, w, http.StatusConflict, handler.CodeAlreadyRevoked)
}

func TestGetCertificate_404(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/certificates/nope", "", nil)
	expectCode(t, w, http.StatusNotFound, handler.CodeNotFound)
}

func TestEnumeration_countIndexAndOwner(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")
	f.registerCert(t, alice, "a.example.com", "SN-A")
	f.registerCert(t, bob, "b.example.com", "SN-B")
	f.registerCert(t, alice, "c.example.com", "SN-C")

	w := f.do(t, http.MethodGet, "/api/v1/certificates/count", "", nil)
	if got := decode(t, w)["total"]; got != float64(3) {
		t.Errorf("expected total 3, got %v", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/certificates/index/1", "", nil)
	if got := decode(t, w)["serial_number"]; got != "SN-B" {
		t.Errorf("expected SN-B at index 1, got %v", got)
	}

	w = f.do(t, http.MethodGet, "/api/v1/certificates/index/3", "", nil)
	expectCode(t, w, http.StatusNotFound, handler.CodeNotFound)

	w = f.do(t, http.MethodGet, "/api/v1/accounts/alice/certificates", "", nil)
	serials := decode(t, w)["serials"].([]any)
	if len(serials) != 2 || serials[0] != "SN-A" || serials[1] != "SN-C" {
		t.Errorf("unexpected alice serials: %v", serials)
	}

	w = f.do(t, http.MethodGet, "/api/v1/accounts/nobody/certificates", "", nil)
	if got := decode(t, w)["count"]; got != float64(0) {
		t.Errorf("expected 0 for unknown owner, got %v", got)
	}
}

func TestListCertificates_pagination(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.registerCert(t, alice, "a.example.com", "SN-A")
	f.registerCert(t, alice, "b.example.com", "SN-B")
	f.registerCert(t, alice, "c.example.com", "SN-C")

	w := f.do(t, http.MethodGet, "/api/v1/certificates?offset=1&limit=1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	certs := resp["certificates"].([]any)
	if len(certs) != 1 || certs[0].(map[string]any)["serial_number"] != "SN-B" {
		t.Errorf("unexpected page: %v", certs)
	}
	if resp["total"] != float64(3) {
		t.Errorf("expected total 3, got %v", resp["total"])
	}

	w = f.do(t, http.MethodGet, "/api/v1/certificates?offset=10", "", nil)
	if got := decode(t, w)["certificates"].([]any); len(got) != 0 {
		t.Errorf("expected empty page past the end, got %v", got)
	}
}

func TestListCertificates_400_badParams(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"offset=-1", "offset=x", "limit=0", "limit=abc"} {
		w := f.do(t, http.MethodGet, "/api/v1/certificates?"+q, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestContentDownload_500_onHashMismatch(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	f.verifyDomain(t, alice, "example.com")

	id, _ := f.store.Put(context.Background(), []byte("real bytes"))
	w := f.do(t, http.MethodPost, "/api/v1/certificates", alice, model.RegisterRequest{
		Domain: "example.com", SerialNumber: "SN-X", ContentID: id, ContentHash: "0xdeadbeef",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/certificates/SN-X/content", "", nil)
	expectCode(t, w, http.StatusInternalServerError, handler.CodeContentCorrupt)
}
