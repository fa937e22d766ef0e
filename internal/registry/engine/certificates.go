package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/model"
	"go.uber.org/zap"
)

// Register records a new certificate owned by caller.
//
// It fails with ErrMalformedDomain, ErrInvalidRequest, ErrDuplicateSerial, or
// ErrNotAuthorized when challenges are required and (domain, caller) has no
// verified challenge. A verified challenge for the pair is consumed by the
// same ledger entry that creates the certificate.
func (e *Engine) Register(ctx context.Context, caller string, req model.RegisterRequest) (*model.Certificate, Receipt, error) {
	v, receipt, err := e.do(ctx, "register", e.planRegister(caller, req))
	if err != nil {
		return nil, receipt, err
	}
	cert := v.(*model.Certificate)
	e.logger.Info("certificate registered",
		zap.String("serial", cert.SerialNumber),
		zap.String("domain", cert.Domain),
		zap.String("owner", cert.Owner),
		zap.Int("ledger_index", receipt.Index),
	)
	return cert, receipt, nil
}

// SubmitRegister queues a registration and returns without waiting for it.
func (e *Engine) SubmitRegister(ctx context.Context, caller string, req model.RegisterRequest) (*Pending, error) {
	return e.submit(ctx, "register", e.planRegister(caller, req))
}

func (e *Engine) planRegister(caller string, req model.RegisterRequest) planFunc {
	return func(s *state, _ time.Time) (plan, error) {
		domain, err := normalizeDomain(req.Domain)
		if err != nil {
			return plan{}, err
		}
		serial := strings.TrimSpace(req.SerialNumber)
		switch {
		case caller == "":
			return plan{}, fmt.Errorf("%w: caller is required", ErrInvalidRequest)
		case serial == "":
			return plan{}, fmt.Errorf("%w: serial_number is required", ErrInvalidRequest)
		case req.ContentID == "":
			return plan{}, fmt.Errorf("%w: content_id is required", ErrInvalidRequest)
		case req.ContentHash == "":
			return plan{}, fmt.Errorf("%w: content_hash is required", ErrInvalidRequest)
		}

		if _, exists := s.certs[serial]; exists {
			return plan{}, fmt.Errorf("serial %q: %w", serial, ErrDuplicateSerial)
		}

		var challengeID string
		if ch, ok := s.activeChallenge(domain, caller); ok && ch.Status == model.ChallengeVerified {
			challengeID = ch.ID.String()
		}
		if e.cfg.RequireChallenge && challengeID == "" {
			return plan{}, fmt.Errorf("register %s for %s: %w", domain, caller, ErrNotAuthorized)
		}

		payload := registerPayload{
			Serial:      serial,
			Domain:      domain,
			ContentID:   req.ContentID,
			ContentHash: req.ContentHash,
			Owner:       caller,
			ChallengeID: challengeID,
		}
		return plan{
			intents: []intent{{subject: serial, action: ActionRegister, actor: caller, payload: payload}},
			result:  func(s *state) any { return s.certs[serial].Clone() },
		}, nil
	}
}

// Revoke marks the certificate revoked. Only the owner may revoke, and only once.
// It fails with ErrNotFound, ErrNotOwner or ErrAlreadyRevoked, leaving state unchanged.
func (e *Engine) Revoke(ctx context.Context, caller, serial string) (Receipt, error) {
	_, receipt, err := e.do(ctx, "revoke", e.planRevoke(caller, serial))
	if err != nil {
		return receipt, err
	}
	e.logger.Info("certificate revoked",
		zap.String("serial", serial),
		zap.String("owner", caller),
		zap.Int("ledger_index", receipt.Index),
	)
	return receipt, nil
}

// SubmitRevoke queues a revocation and returns without waiting for it.
func (e *Engine) SubmitRevoke(ctx context.Context, caller, serial string) (*Pending, error) {
	return e.submit(ctx, "revoke", e.planRevoke(caller, serial))
}

func (e *Engine) planRevoke(caller, serial string) planFunc {
	return func(s *state, _ time.Time) (plan, error) {
		cert, ok := s.certs[serial]
		switch {
		case !ok:
			return plan{}, fmt.Errorf("certificate %q: %w", serial, ErrNotFound)
		case cert.Owner != caller:
			return plan{}, fmt.Errorf("certificate %q: %w", serial, ErrNotOwner)
		case cert.Revoked:
			return plan{}, fmt.Errorf("certificate %q: %w", serial, ErrAlreadyRevoked)
		}
		return plan{
			intents: []intent{{subject: serial, action: ActionRevoke, actor: caller, payload: revokePayload{Serial: serial}}},
		}, nil
	}
}

// ── Reads ───────────────────────────────────────────────────────────────────

// Get returns a copy of the certificate with the given serial.
func (e *Engine) Get(_ context.Context, serial string) (*model.Certificate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cert, ok := e.st.certs[serial]
	if !ok {
		return nil, fmt.Errorf("certificate %q: %w", serial, ErrNotFound)
	}
	return cert.Clone(), nil
}

// CertificatesOf returns the serials registered by owner in insertion order.
// Revoked certificates stay in the list.
func (e *Engine) CertificatesOf(_ context.Context, owner string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	serials := e.st.byOwner[owner]
	out := make([]string, len(serials))
	copy(out, serials)
	return out, nil
}

// TotalCount returns the number of certificates ever registered.
func (e *Engine) TotalCount(_ context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.st.global), nil
}

// SerialAt returns the serial at position index of the global insertion order.
func (e *Engine) SerialAt(_ context.Context, index int) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.st.global) {
		return "", fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return e.st.global[index], nil
}

// Page returns up to limit certificates starting at offset in insertion
// order, together with the total count.
func (e *Engine) Page(_ context.Context, offset, limit int) ([]*model.Certificate, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := len(e.st.global)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []*model.Certificate{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]*model.Certificate, 0, end-offset)
	for _, serial := range e.st.global[offset:end] {
		out = append(out, e.st.certs[serial].Clone())
	}
	return out, total, nil
}
