package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"go.uber.org/zap"
)

const maxLedgerScan = 200

var errScanLimit = errors.New("scan limit reached")

// LedgerHandler exposes read-only HTTP endpoints for the trust ledger.
type LedgerHandler struct {
	ledger trustledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger trustledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries", h.ListEntries)
		l.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /ledger: chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify: walks the full chain.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ListEntries handles GET /ledger/entries?from=&limit=.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	from, err := queryInt(c, "from", 0)
	if err != nil || from < 0 {
		badRequest(c, "from must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	if limit > maxLedgerScan {
		limit = maxLedgerScan
	}

	entries := make([]*trustledger.Entry, 0, limit)
	err = h.ledger.Scan(c.Request.Context(), from, func(e *trustledger.Entry) error {
		entries = append(entries, e)
		if len(entries) == limit {
			return errScanLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errScanLimit) {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "from": from, "count": len(entries)})
}

// GetEntry handles GET /ledger/entries/:idx.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		badRequest(c, "idx must be a non-negative integer")
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}
