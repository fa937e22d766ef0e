package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/contentstore"
	"go.uber.org/zap"
)

// ContentHandler exposes the content-addressed blob store.
type ContentHandler struct {
	store   contentstore.Store
	maxSize int64
	logger  *zap.Logger
}

// NewContentHandler creates a ContentHandler accepting bodies up to maxSize bytes.
func NewContentHandler(store contentstore.Store, maxSize int64, logger *zap.Logger) *ContentHandler {
	if maxSize <= 0 {
		maxSize = DefaultMaxUpload
	}
	return &ContentHandler{store: store, maxSize: maxSize, logger: logger}
}

// Register mounts the content routes on the given router group.
func (h *ContentHandler) Register(rg *gin.RouterGroup) {
	ct := rg.Group("/content")
	{
		ct.POST("", h.Put)
		ct.GET("/:id", h.Get)
	}
}

// Put handles POST /content with the raw bytes as the body.
func (h *ContentHandler) Put(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.logger, contentstore.ErrTooLarge)
			return
		}
		badRequest(c, "cannot read request body")
		return
	}

	id, err := h.store.Put(c.Request.Context(), data)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"content_id": id, "size": len(data)})
}

// Get handles GET /content/:id.
func (h *ContentHandler) Get(c *gin.Context) {
	data, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Header("X-Content-ID", c.Param("id"))
	c.Data(http.StatusOK, "application/octet-stream", data)
}
