package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/identity"
	"go.uber.org/zap"
)

// AdminSecretHeader carries the operator secret for token issuance.
const AdminSecretHeader = "X-Admin-Secret"

// TokenHandler issues account tokens to operators and publishes the
// verification key.
type TokenHandler struct {
	tokens      *identity.TokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewTokenHandler creates a TokenHandler. With an empty adminSecret token
// issuance is disabled and only the public key is served.
func NewTokenHandler(tokens *identity.TokenIssuer, adminSecret string, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, adminSecret: adminSecret, logger: logger}
}

// Register mounts the token routes on the given router group.
func (h *TokenHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/tokens/public-key", h.PublicKey)
	if h.adminSecret != "" {
		rg.POST("/tokens", h.Issue)
	}
}

type issueTokenRequest struct {
	Account string   `json:"account" binding:"required"`
	Scopes  []string `json:"scopes"`
}

// Issue handles POST /tokens.
func (h *TokenHandler) Issue(c *gin.Context) {
	presented := c.GetHeader(AdminSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.adminSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret", "code": "unauthorized"})
		return
	}

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tok, err := h.tokens.Issue(req.Account, req.Scopes)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("account token issued",
		zap.String("account", req.Account),
		zap.Strings("scopes", req.Scopes),
		zap.String("kid", h.tokens.KeyID()),
	)
	c.JSON(http.StatusCreated, gin.H{
		"token":      tok,
		"token_type": "Bearer",
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}

// PublicKey handles GET /tokens/public-key.
func (h *TokenHandler) PublicKey(c *gin.Context) {
	pem, err := h.tokens.PublicKeyPEM()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Header("X-Key-ID", h.tokens.KeyID())
	c.Data(http.StatusOK, "application/x-pem-file", []byte(pem))
}
