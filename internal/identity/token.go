package identity

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience is the "aud" claim of every account token. Tokens minted for
// other services with the same key are rejected.
const Audience = "certledger-registry"

// knownScopes lists the scopes an account token may carry.
var knownScopes = []string{ScopeChallengeComplete}

// accountPattern constrains account ids. They become certificate owners on
// the ledger and path segments under /accounts/.
var accountPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

var (
	ErrInvalidAccount = errors.New("invalid account id")
	ErrUnknownScope   = errors.New("unknown scope")
)

// AccountClaims are the JWT claims of an account token.
type AccountClaims struct {
	jwt.RegisteredClaims
	Account string   `json:"account"`
	Scopes  []string `json:"scopes,omitempty"`
}

// TokenIssuer issues and verifies account tokens signed with RS256.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	kid    string
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer: The "iss" claim value; typically the registry's base URL.
//	ttl:    Token lifetime (default: 24 hours).
func NewTokenIssuer(key *rsa.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{
		key:    key,
		pub:    &key.PublicKey,
		kid:    keyID(&key.PublicKey),
		issuer: issuer,
		ttl:    ttl,
	}
}

// ValidAccount reports whether account is a usable account id: 1 to 64
// lower-case letters, digits, dots, underscores or hyphens, starting with a
// letter or digit.
func ValidAccount(account string) error {
	if !accountPattern.MatchString(account) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return nil
}

// NormalizeScopes checks every scope is known and returns them sorted
// without duplicates.
func NormalizeScopes(scopes []string) ([]string, error) {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !slices.Contains(knownScopes, s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, s)
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Issue creates a signed token for account with the requested scopes.
func (t *TokenIssuer) Issue(account string, scopes []string) (string, error) {
	if err := ValidAccount(account); err != nil {
		return "", err
	}
	scopes, err := NormalizeScopes(scopes)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   account,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Account: account,
		Scopes:  scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = t.kid
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an account token, returning its claims on
// success. A token signed under a different key id fails before its
// signature is checked, which is what a caller sees after key rotation.
func (t *TokenIssuer) Verify(tokenStr string) (*AccountClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AccountClaims{},
		func(tok *jwt.Token) (any, error) {
			if kid, _ := tok.Header["kid"].(string); kid != t.kid {
				return nil, fmt.Errorf("token signed by unknown key %q", kid)
			}
			return t.pub, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid || claims.Account != claims.Subject {
		return nil, fmt.Errorf("invalid token claims")
	}
	if err := ValidAccount(claims.Account); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}
	return claims, nil
}

// KeyID returns the "kid" header stamped on issued tokens: the first 16
// bytes of the SHA-256 of the PKIX public key, unpadded base64url.
func (t *TokenIssuer) KeyID() string { return t.kid }

// PublicKeyPEM returns the RSA public key in PKIX PEM format.
func (t *TokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(t.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

func keyID(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
