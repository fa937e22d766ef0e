package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"go.uber.org/zap"
)

// StartChallenge issues a new pending challenge binding domain to requester.
//
// It fails with ErrChallengeAlreadyActive while a non-expired pending or a
// verified challenge exists for the pair. A pending challenge found past its
// expiry is first recorded as expired.
func (e *Engine) StartChallenge(ctx context.Context, domain, requester string) (*model.Challenge, error) {
	v, receipt, err := e.do(ctx, "start_challenge", e.planStart(domain, requester))
	if err != nil {
		return nil, err
	}
	ch := v.(*model.Challenge)
	e.logger.Info("challenge started",
		zap.String("id", ch.ID.String()),
		zap.String("domain", ch.Domain),
		zap.String("requester", ch.Requester),
		zap.Time("expires_at", ch.ExpiresAt),
		zap.Int("ledger_index", receipt.Index),
	)
	return ch, nil
}

func (e *Engine) planStart(domain, requester string) planFunc {
	return func(s *state, now time.Time) (plan, error) {
		host, err := normalizeDomain(domain)
		if err != nil {
			return plan{}, err
		}
		if requester == "" {
			return plan{}, fmt.Errorf("%w: requester is required", ErrInvalidRequest)
		}

		var intents []intent
		if prev, ok := s.activeChallenge(host, requester); ok {
			if prev.Active(now) {
				return plan{}, fmt.Errorf("%s for %s (challenge %s): %w", host, requester, prev.ID, ErrChallengeAlreadyActive)
			}
			intents = append(intents, expireIntent(prev))
		}

		value, err := e.cfg.Token()
		if err != nil {
			return plan{}, fmt.Errorf("generate challenge value: %w", err)
		}
		id := uuid.New()
		intents = append(intents, intent{
			subject: id.String(),
			action:  ActionChallengeStart,
			actor:   requester,
			payload: challengeStartPayload{
				ID:        id.String(),
				Domain:    host,
				Requester: requester,
				Value:     value,
				TTL:       int64(e.cfg.ChallengeTTL),
			},
		})

		return plan{
			intents: intents,
			result:  func(s *state) any { return s.challenges[id].Clone() },
		}, nil
	}
}

// CompleteChallenge records the value an external verifier observed in DNS.
//
// A matching value within the window moves the challenge to verified. A
// mismatch fails with ErrChallengeMismatch and leaves it pending. Completing
// past expiry records the expiry and fails with ErrChallengeExpired.
// Repeating a successful completion returns the verified challenge.
func (e *Engine) CompleteChallenge(ctx context.Context, id uuid.UUID, observed string) (*model.Challenge, error) {
	v, receipt, err := e.do(ctx, "complete_challenge", e.planComplete(id, observed))
	if err != nil {
		e.logger.Info("challenge completion rejected",
			zap.String("id", id.String()),
			zap.Error(err),
		)
		return nil, err
	}
	ch := v.(*model.Challenge)
	if receipt.Entries > 0 {
		e.logger.Info("challenge verified",
			zap.String("id", ch.ID.String()),
			zap.String("domain", ch.Domain),
			zap.String("requester", ch.Requester),
			zap.Int("ledger_index", receipt.Index),
		)
	}
	return ch, nil
}

func (e *Engine) planComplete(id uuid.UUID, observed string) planFunc {
	return func(s *state, now time.Time) (plan, error) {
		ch, ok := s.challenges[id]
		if !ok {
			return plan{}, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
		}
		result := func(s *state) any { return s.challenges[id].Clone() }
		matches := subtle.ConstantTimeCompare([]byte(observed), []byte(ch.Value)) == 1

		switch ch.Status {
		case model.ChallengeVerified:
			if !matches {
				return plan{}, fmt.Errorf("challenge %s: %w", id, ErrChallengeMismatch)
			}
			return plan{result: result}, nil
		case model.ChallengeExpired:
			return plan{}, fmt.Errorf("challenge %s: %w", id, ErrChallengeExpired)
		case model.ChallengeConsumed:
			return plan{}, fmt.Errorf("challenge %s: %w", id, ErrChallengeInactive)
		}

		if ch.Overdue(now) {
			return plan{
				intents: []intent{expireIntent(ch)},
				reject:  fmt.Errorf("challenge %s: %w", id, ErrChallengeExpired),
			}, nil
		}
		if !matches {
			return plan{}, fmt.Errorf("challenge %s: %w", id, ErrChallengeMismatch)
		}

		return plan{
			intents: []intent{{
				subject: id.String(),
				action:  ActionChallengeVerify,
				actor:   trustledger.SystemActor,
				payload: challengeVerifyPayload{ID: id.String(), Observed: observed},
			}},
			result: result,
		}, nil
	}
}

// ExpireChallenges records every overdue pending challenge as expired and
// returns how many were expired. Safe to call from a background goroutine.
func (e *Engine) ExpireChallenges(ctx context.Context) (int, error) {
	v, _, err := e.do(ctx, "expire_challenges", func(s *state, now time.Time) (plan, error) {
		var overdue []*model.Challenge
		for _, ch := range s.challenges {
			if ch.Overdue(now) {
				overdue = append(overdue, ch)
			}
		}
		sort.Slice(overdue, func(i, j int) bool {
			if !overdue[i].CreatedAt.Equal(overdue[j].CreatedAt) {
				return overdue[i].CreatedAt.Before(overdue[j].CreatedAt)
			}
			return overdue[i].ID.String() < overdue[j].ID.String()
		})

		intents := make([]intent, 0, len(overdue))
		for _, ch := range overdue {
			intents = append(intents, expireIntent(ch))
		}
		n := len(intents)
		return plan{intents: intents, result: func(*state) any { return n }}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("expire challenges: %w", err)
	}
	n := v.(int)
	if n > 0 {
		e.logger.Info("expired stale challenges", zap.Int("count", n))
	}
	return n, nil
}

// GetChallenge returns a copy of the challenge. A pending challenge past its
// expiry is reported as expired even before the expiry is recorded.
func (e *Engine) GetChallenge(_ context.Context, id uuid.UUID) (*model.Challenge, error) {
	e.mu.RLock()
	ch, ok := e.st.challenges[id]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	cp := ch.Clone()
	e.mu.RUnlock()

	if cp.Overdue(e.cfg.Clock()) {
		cp.Status = model.ChallengeExpired
	}
	return cp, nil
}

// ActiveChallenge returns the pending or verified challenge for the pair.
func (e *Engine) ActiveChallenge(_ context.Context, domain, requester string) (*model.Challenge, error) {
	host, err := normalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	ch, ok := e.st.activeChallenge(host, requester)
	var cp *model.Challenge
	if ok {
		cp = ch.Clone()
	}
	e.mu.RUnlock()

	if cp == nil || !cp.Active(e.cfg.Clock()) {
		return nil, fmt.Errorf("active challenge for %s and %s: %w", host, requester, ErrNotFound)
	}
	return cp, nil
}

func expireIntent(ch *model.Challenge) intent {
	return intent{
		subject: ch.ID.String(),
		action:  ActionChallengeExpire,
		actor:   trustledger.SystemActor,
		payload: challengeExpirePayload{ID: ch.ID.String()},
	}
}
