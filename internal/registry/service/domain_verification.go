package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	internaldns "github.com/jmerrifield20/certledger/internal/dns"
	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"go.uber.org/zap"
)

// challengeEngine is the challenge half of the engine.
// *engine.Engine satisfies this interface.
type challengeEngine interface {
	StartChallenge(ctx context.Context, domain, requester string) (*model.Challenge, error)
	GetChallenge(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	CompleteChallenge(ctx context.Context, id uuid.UUID, observed string) (*model.Challenge, error)
	ExpireChallenges(ctx context.Context) (int, error)
}

// lookupFn returns the challenge values published in DNS for domain.
// In production this is internaldns.Lookup; in tests it can be stubbed.
type lookupFn func(ctx context.Context, domain string) ([]string, error)

// DomainVerificationService is the off-ledger verifier: it reads the TXT
// record a challenge asks for and reports what it saw to the engine.
type DomainVerificationService struct {
	engine challengeEngine
	lookup lookupFn
	logger *zap.Logger
}

// NewDomainVerificationService creates a DomainVerificationService.
// Pass nil for lookup to use real DNS lookups.
func NewDomainVerificationService(eng challengeEngine, lookup lookupFn, logger *zap.Logger) *DomainVerificationService {
	if lookup == nil {
		lookup = func(ctx context.Context, domain string) ([]string, error) {
			return internaldns.Lookup(ctx, nil, domain)
		}
	}
	return &DomainVerificationService{engine: eng, lookup: lookup, logger: logger}
}

// Start issues a new challenge for (domain, requester). The owner must publish
// the returned TXTRecord at TXTHost before calling Verify.
func (s *DomainVerificationService) Start(ctx context.Context, domain, requester string) (*model.Challenge, error) {
	ch, err := s.engine.StartChallenge(ctx, domain, requester)
	if err != nil {
		return nil, err
	}
	decorate(ch)
	s.logger.Info("DNS challenge started",
		zap.String("domain", ch.Domain),
		zap.String("txt_host", ch.TXTHost),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return ch, nil
}

// Get returns the current state of a challenge by ID.
func (s *DomainVerificationService) Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	ch, err := s.engine.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	decorate(ch)
	return ch, nil
}

// Verify looks up the TXT record for the challenge and, when the expected
// value is published, completes it with that observation.
func (s *DomainVerificationService) Verify(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	ch, err := s.engine.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Status != model.ChallengePending {
		// The engine decides: idempotent for verified, an error otherwise.
		return s.Complete(ctx, id, ch.Value)
	}

	values, err := s.lookup(ctx, ch.Domain)
	if err != nil {
		s.logger.Info("DNS challenge verification failed",
			zap.String("domain", ch.Domain),
			zap.String("id", id.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, err.Error())
	}
	for _, v := range values {
		if v == ch.Value {
			return s.Complete(ctx, id, v)
		}
	}

	s.logger.Info("DNS challenge value not published",
		zap.String("domain", ch.Domain),
		zap.String("id", id.String()),
		zap.Int("records", len(values)),
	)
	return nil, fmt.Errorf("%w: %s does not carry %q: %w",
		ErrVerificationFailed, internaldns.TXTHost(ch.Domain), internaldns.TXTRecord(ch.Value), engine.ErrChallengeMismatch)
}

// Complete reports an observation made by an external verifier.
func (s *DomainVerificationService) Complete(ctx context.Context, id uuid.UUID, observed string) (*model.Challenge, error) {
	ch, err := s.engine.CompleteChallenge(ctx, id, observed)
	if err != nil {
		return nil, err
	}
	decorate(ch)
	return ch, nil
}

// ExpireStale records every overdue challenge as expired.
// Safe to call from a background goroutine.
func (s *DomainVerificationService) ExpireStale(ctx context.Context) (int, error) {
	return s.engine.ExpireChallenges(ctx)
}

// decorate fills the computed DNS fields of ch.
func decorate(ch *model.Challenge) {
	ch.TXTHost = internaldns.TXTHost(ch.Domain)
	ch.TXTRecord = internaldns.TXTRecord(ch.Value)
}

// ErrVerificationFailed is returned when the expected TXT record could not be observed.
var ErrVerificationFailed = errors.New("dns verification failed")
