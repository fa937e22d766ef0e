package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched with errors.Is against any error returned by Client.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateSerial        = errors.New("serial number already registered")
	ErrAlreadyRevoked         = errors.New("certificate already revoked")
	ErrChallengeAlreadyActive = errors.New("an active challenge already exists for this domain")
	ErrNotOwner               = errors.New("caller is not the owner")
	ErrNotAuthorized          = errors.New("no verified challenge for this domain")
	ErrChallengeMismatch      = errors.New("observed value does not match the challenge")
	ErrVerificationFailed     = errors.New("dns verification failed")
	ErrMalformedDomain        = errors.New("malformed domain")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrChallengeExpired       = errors.New("challenge expired")
	ErrChallengeInactive      = errors.New("challenge no longer active")
	ErrContentTooLarge        = errors.New("content too large")
	ErrContentCorrupt         = errors.New("stored content failed integrity check")
	ErrStoreUnavailable       = errors.New("backend unavailable")
	ErrOutcomeUnknown         = errors.New("accepted but not yet included in the ledger")
	ErrUnauthorized           = errors.New("missing or invalid token")
	ErrForbidden              = errors.New("insufficient scope")
	ErrRateLimited            = errors.New("rate limit exceeded")
)

var codeErrors = map[string]error{
	"not_found":                ErrNotFound,
	"content_not_found":        ErrNotFound,
	"duplicate_serial":         ErrDuplicateSerial,
	"already_revoked":          ErrAlreadyRevoked,
	"challenge_already_active": ErrChallengeAlreadyActive,
	"not_owner":                ErrNotOwner,
	"not_authorized":           ErrNotAuthorized,
	"challenge_mismatch":       ErrChallengeMismatch,
	"verification_failed":      ErrVerificationFailed,
	"malformed_domain":         ErrMalformedDomain,
	"invalid_request":          ErrInvalidRequest,
	"no_common_name":           ErrInvalidRequest,
	"invalid_content_id":       ErrInvalidRequest,
	"empty_content":            ErrInvalidRequest,
	"content_too_large":        ErrContentTooLarge,
	"challenge_expired":        ErrChallengeExpired,
	"challenge_inactive":       ErrChallengeInactive,
	"content_corrupt":          ErrContentCorrupt,
	"store_unavailable":        ErrStoreUnavailable,
	"ledger_unavailable":       ErrStoreUnavailable,
	"enumeration_failed":       ErrStoreUnavailable,
	"shutting_down":            ErrStoreUnavailable,
	"outcome_unknown":          ErrOutcomeUnknown,
	"unauthorized":             ErrUnauthorized,
	"insufficient_scope":       ErrForbidden,
	"rate_limited":             ErrRateLimited,
}

// APIError is a non-success response from the registry.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("registry returned HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("registry returned HTTP %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the error code to its sentinel.
func (e *APIError) Unwrap() error {
	if err, ok := codeErrors[e.Code]; ok {
		return err
	}
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// parseAPIError builds an APIError from a response body, tolerating bodies
// that are not the JSON error shape.
func parseAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &APIError{Status: status, Code: payload.Code, Message: string(body)}
	}
	return &APIError{Status: status, Code: payload.Code, Message: payload.Error}
}
