package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/certledger/internal/identity"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/service"
	"go.uber.org/zap"
)

// ChallengeHandler serves the domain-ownership challenge routes.
type ChallengeHandler struct {
	svc    *service.DomainVerificationService
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(svc *service.DomainVerificationService, tokens *identity.TokenIssuer, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the challenge routes on the given router group.
func (h *ChallengeHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireAccount(h.tokens)

	ch := rg.Group("/challenges")
	{
		ch.POST("", auth, h.Start)
		ch.GET("/:id", h.Get)
		ch.POST("/:id/verify", auth, h.Verify)
		ch.POST("/:id/complete", auth, identity.RequireScope(identity.ScopeChallengeComplete), h.Complete)
	}
}

type startChallengeRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type completeChallengeRequest struct {
	Observed string `json:"observed" binding:"required"`
}

// Start handles POST /challenges: issues a challenge for the caller.
func (h *ChallengeHandler) Start(c *gin.Context) {
	var req startChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ch, err := h.svc.Start(c.Request.Context(), req.Domain, identity.AccountFromCtx(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"challenge": ch,
		"instructions": fmt.Sprintf(
			"Publish a DNS TXT record at %s with value %q, then POST /api/v1/challenges/%s/verify",
			ch.TXTHost, ch.TXTRecord, ch.ID,
		),
	})
}

// Get handles GET /challenges/:id.
func (h *ChallengeHandler) Get(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}

	ch, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Verify handles POST /challenges/:id/verify: the registry looks up the TXT
// record itself. Only the requester may trigger the check.
func (h *ChallengeHandler) Verify(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	current, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if current.Requester != identity.AccountFromCtx(c) {
		writeError(c, h.logger, fmt.Errorf("%w: challenge belongs to another account", engine.ErrNotOwner))
		return
	}

	ch, err := h.svc.Verify(ctx, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": ch, "verified": true})
}

// Complete handles POST /challenges/:id/complete for trusted external
// verifiers holding the challenge:complete scope.
func (h *ChallengeHandler) Complete(c *gin.Context) {
	id, ok := challengeID(c)
	if !ok {
		return
	}

	var req completeChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ch, err := h.svc.Complete(c.Request.Context(), id, req.Observed)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": ch, "verified": true})
}

func challengeID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid challenge id")
		return uuid.Nil, false
	}
	return id, true
}
