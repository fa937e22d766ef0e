package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/identity"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/registry/service"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500

	// DefaultMaxUpload bounds a multipart certificate upload.
	DefaultMaxUpload = 1 << 20
)

// CertificateRegistry is the engine surface used by CertificateHandler.
type CertificateRegistry interface {
	Register(ctx context.Context, caller string, req model.RegisterRequest) (*model.Certificate, engine.Receipt, error)
	Get(ctx context.Context, serial string) (*model.Certificate, error)
	CertificatesOf(ctx context.Context, owner string) ([]string, error)
	TotalCount(ctx context.Context) (int, error)
	SerialAt(ctx context.Context, index int) (string, error)
	Page(ctx context.Context, offset, limit int) ([]*model.Certificate, int, error)
	Version(ctx context.Context) (int, error)
}

// CertificateHandler serves the certificate registry routes.
type CertificateHandler struct {
	registry  CertificateRegistry
	certs     *service.CertificateService
	tokens    *identity.TokenIssuer
	maxUpload int64
	logger    *zap.Logger
}

// NewCertificateHandler creates a CertificateHandler.
func NewCertificateHandler(registry CertificateRegistry, certs *service.CertificateService, tokens *identity.TokenIssuer, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		registry:  registry,
		certs:     certs,
		tokens:    tokens,
		maxUpload: DefaultMaxUpload,
		logger:    logger,
	}
}

// SetMaxUpload overrides the upload size limit.
func (h *CertificateHandler) SetMaxUpload(n int64) {
	if n > 0 {
		h.maxUpload = n
	}
}

// Register mounts the certificate routes on the given router group.
func (h *CertificateHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireAccount(h.tokens)

	certs := rg.Group("/certificates")
	{
		certs.POST("", auth, h.Create)
		certs.POST("/upload", auth, h.Upload)
		certs.GET("", h.List)
		certs.GET("/count", h.Count)
		certs.GET("/index/:idx", h.SerialAt)
		certs.GET("/:serial", h.Get)
		certs.GET("/:serial/content", h.Content)
		certs.POST("/:serial/revoke", auth, h.Revoke)
	}
	rg.GET("/accounts/:owner/certificates", h.ListByOwner)
}

// Create handles POST /certificates for content that was already stored.
func (h *CertificateHandler) Create(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	caller := identity.AccountFromCtx(c)
	cert, receipt, err := h.registry.Register(c.Request.Context(), caller, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"certificate": cert, "receipt": receipt})
}

// Upload handles POST /certificates/upload. The multipart form carries the
// certificate in "file" and optional "domain" and "serial_number" fields.
func (h *CertificateHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+64<<10)

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	if fh.Size > h.maxUpload {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("certificate file exceeds %d bytes", h.maxUpload),
			"code":  CodeContentTooLarge,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload))
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return
	}

	sub, err := h.certs.Submit(c.Request.Context(), identity.AccountFromCtx(c), service.SubmitRequest{
		FileName:     fh.Filename,
		Data:         data,
		Domain:       c.PostForm("domain"),
		SerialNumber: c.PostForm("serial_number"),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// List handles GET /certificates?offset=&limit= in global registration order.
func (h *CertificateHandler) List(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	certs, total, err := h.registry.Page(c.Request.Context(), offset, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if certs == nil {
		certs = []*model.Certificate{}
	}

	c.JSON(http.StatusOK, gin.H{
		"certificates": certs,
		"total":        total,
		"offset":       offset,
		"limit":        limit,
	})
}

// Count handles GET /certificates/count. The version changes with every
// included mutation, so readers can tell whether a cached view is current.
func (h *CertificateHandler) Count(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.registry.TotalCount(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	v, err := h.registry.Version(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	SetCertificatesGauge(n)
	c.JSON(http.StatusOK, gin.H{"total": n, "version": v})
}

// SerialAt handles GET /certificates/index/:idx.
func (h *CertificateHandler) SerialAt(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		badRequest(c, "idx must be a non-negative integer")
		return
	}

	serial, err := h.registry.SerialAt(c.Request.Context(), idx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": idx, "serial_number": serial})
}

// Get handles GET /certificates/:serial.
func (h *CertificateHandler) Get(c *gin.Context) {
	cert, err := h.registry.Get(c.Request.Context(), c.Param("serial"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// Content handles GET /certificates/:serial/content, serving the stored
// bytes only after their keccak-256 hash matches the record.
func (h *CertificateHandler) Content(c *gin.Context) {
	cert, data, err := h.certs.Download(c.Request.Context(), c.Param("serial"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Header("X-Content-ID", cert.ContentID)
	c.Header("X-Content-Hash", cert.ContentHash)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.SerialNumber+".pem"))
	c.Data(http.StatusOK, "application/x-pem-file", data)
}

// Revoke handles POST /certificates/:serial/revoke.
func (h *CertificateHandler) Revoke(c *gin.Context) {
	serial := c.Param("serial")
	receipt, err := h.certs.Revoke(c.Request.Context(), identity.AccountFromCtx(c), serial)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"serial_number": serial, "revoked": true, "receipt": receipt})
}

// ListByOwner handles GET /accounts/:owner/certificates.
func (h *CertificateHandler) ListByOwner(c *gin.Context) {
	owner := c.Param("owner")
	serials, err := h.registry.CertificatesOf(c.Request.Context(), owner)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if serials == nil {
		serials = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "serials": serials, "count": len(serials)})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
