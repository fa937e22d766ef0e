package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"go.uber.org/zap"
)

const maxBatchDomains = 100

// DomainResolver classifies domains. *resolver.Resolver satisfies it.
type DomainResolver interface {
	Resolve(ctx context.Context, input string) (*model.Resolution, error)
	ResolveMany(ctx context.Context, inputs []string) ([]*model.Resolution, error)
	CacheStats() resolver.CacheStats
}

// ResolveHandler answers "is this domain secure?" queries.
type ResolveHandler struct {
	res    DomainResolver
	logger *zap.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(res DomainResolver, logger *zap.Logger) *ResolveHandler {
	return &ResolveHandler{res: res, logger: logger}
}

// Register mounts the resolve routes on the given router group.
func (h *ResolveHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/resolve")
	{
		r.GET("", h.Resolve)
		r.POST("/batch", h.ResolveBatch)
		r.GET("/cache", h.Cache)
	}
}

// Resolve handles GET /resolve?domain=. Unknown input is a 200 with
// status "unknown", not an error.
func (h *ResolveHandler) Resolve(c *gin.Context) {
	res, err := h.res.Resolve(c.Request.Context(), c.Query("domain"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	RecordResolution(res.Status)
	c.JSON(http.StatusOK, res)
}

type batchResolveRequest struct {
	Domains []string `json:"domains" binding:"required"`
}

// ResolveBatch handles POST /resolve/batch against a single snapshot.
func (h *ResolveHandler) ResolveBatch(c *gin.Context) {
	var req batchResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Domains) > maxBatchDomains {
		badRequest(c, fmt.Sprintf("at most %d domains per batch", maxBatchDomains))
		return
	}

	results, err := h.res.ResolveMany(c.Request.Context(), req.Domains)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	for _, r := range results {
		RecordResolution(r.Status)
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// Cache handles GET /resolve/cache.
func (h *ResolveHandler) Cache(c *gin.Context) {
	c.JSON(http.StatusOK, h.res.CacheStats())
}
