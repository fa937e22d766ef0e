package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/contentstore"
	"github.com/jmerrifield20/certledger/internal/identity"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/service"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/jmerrifield20/certledger/pkg/hostname"
	"go.uber.org/zap"
)

// Error codes carried in the "code" field of every error body.
const (
	CodeNotFound               = "not_found"
	CodeContentNotFound        = "content_not_found"
	CodeDuplicateSerial        = "duplicate_serial"
	CodeAlreadyRevoked         = "already_revoked"
	CodeChallengeAlreadyActive = "challenge_already_active"
	CodeNotOwner               = "not_owner"
	CodeNotAuthorized          = "not_authorized"
	CodeChallengeMismatch      = "challenge_mismatch"
	CodeVerificationFailed     = "verification_failed"
	CodeMalformedDomain        = "malformed_domain"
	CodeInvalidRequest         = "invalid_request"
	CodeNoCommonName           = "no_common_name"
	CodeInvalidContentID       = "invalid_content_id"
	CodeEmptyContent           = "empty_content"
	CodeContentTooLarge        = "content_too_large"
	CodeChallengeExpired       = "challenge_expired"
	CodeChallengeInactive      = "challenge_inactive"
	CodeStoreUnavailable       = "store_unavailable"
	CodeLedgerUnavailable      = "ledger_unavailable"
	CodeEnumerationFailed      = "enumeration_failed"
	CodeShuttingDown           = "shutting_down"
	CodeOutcomeUnknown         = "outcome_unknown"
	CodeContentCorrupt         = "content_corrupt"
	CodeInternal               = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: wrapped errors match the first sentinel in the chain that
// appears here, so the more specific sentinels come first.
var errorTable = []errorMapping{
	{service.ErrVerificationFailed, http.StatusUnprocessableEntity, CodeVerificationFailed},
	{service.ErrContentHashMismatch, http.StatusInternalServerError, CodeContentCorrupt},
	{contentstore.ErrCorrupt, http.StatusInternalServerError, CodeContentCorrupt},
	{engine.ErrOutcomeUnknown, http.StatusAccepted, CodeOutcomeUnknown},
	{engine.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{trustledger.ErrEntryNotFound, http.StatusNotFound, CodeNotFound},
	{contentstore.ErrNotFound, http.StatusNotFound, CodeContentNotFound},
	{engine.ErrDuplicateSerial, http.StatusConflict, CodeDuplicateSerial},
	{engine.ErrAlreadyRevoked, http.StatusConflict, CodeAlreadyRevoked},
	{engine.ErrChallengeAlreadyActive, http.StatusConflict, CodeChallengeAlreadyActive},
	{engine.ErrNotOwner, http.StatusForbidden, CodeNotOwner},
	{engine.ErrNotAuthorized, http.StatusForbidden, CodeNotAuthorized},
	{engine.ErrChallengeMismatch, http.StatusUnprocessableEntity, CodeChallengeMismatch},
	{engine.ErrChallengeExpired, http.StatusGone, CodeChallengeExpired},
	{engine.ErrChallengeInactive, http.StatusGone, CodeChallengeInactive},
	{engine.ErrMalformedDomain, http.StatusUnprocessableEntity, CodeMalformedDomain},
	{hostname.ErrEmpty, http.StatusUnprocessableEntity, CodeMalformedDomain},
	{service.ErrNoCommonName, http.StatusUnprocessableEntity, CodeNoCommonName},
	{engine.ErrInvalidRequest, http.StatusUnprocessableEntity, CodeInvalidRequest},
	{identity.ErrInvalidAccount, http.StatusUnprocessableEntity, CodeInvalidRequest},
	{identity.ErrUnknownScope, http.StatusUnprocessableEntity, CodeInvalidRequest},
	{contentstore.ErrInvalidID, http.StatusUnprocessableEntity, CodeInvalidContentID},
	{contentstore.ErrEmptyContent, http.StatusUnprocessableEntity, CodeEmptyContent},
	{contentstore.ErrTooLarge, http.StatusRequestEntityTooLarge, CodeContentTooLarge},
	{contentstore.ErrUnavailable, http.StatusServiceUnavailable, CodeStoreUnavailable},
	{engine.ErrLedgerUnavailable, http.StatusServiceUnavailable, CodeLedgerUnavailable},
	{resolver.ErrEnumeration, http.StatusServiceUnavailable, CodeEnumerationFailed},
	{engine.ErrClosed, http.StatusServiceUnavailable, CodeShuttingDown},
}

// StatusFor returns the HTTP status and error code for err.
func StatusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError translates err into the JSON error body and aborts the request.
// Internal errors are logged and their detail withheld from the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
		msg = "internal error"
	case status == http.StatusServiceUnavailable:
		logger.Warn("backend unavailable", zap.String("path", c.FullPath()), zap.Error(err))
	case status == http.StatusAccepted:
		msg = "request accepted but not yet included in the ledger"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// badRequest writes a 400 for malformed input that never reached the core.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": CodeInvalidRequest})
}
