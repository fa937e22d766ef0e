package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/jmerrifield20/certledger/pkg/hostname"
)

// Ledger actions written by the engine.
const (
	ActionRegister        = "certificate.register"
	ActionRevoke          = "certificate.revoke"
	ActionChallengeStart  = "challenge.start"
	ActionChallengeVerify = "challenge.verify"
	ActionChallengeExpire = "challenge.expire"
)

// Entry payloads. Field names are part of the ledger format.

type registerPayload struct {
	Serial      string `cbor:"serial"`
	Domain      string `cbor:"domain"`
	ContentID   string `cbor:"content_id"`
	ContentHash string `cbor:"content_hash"`
	Owner       string `cbor:"owner"`
	ChallengeID string `cbor:"challenge_id,omitempty"`
}

type revokePayload struct {
	Serial string `cbor:"serial"`
}

type challengeStartPayload struct {
	ID        string `cbor:"id"`
	Domain    string `cbor:"domain"`
	Requester string `cbor:"requester"`
	Value     string `cbor:"value"`
	TTL       int64  `cbor:"ttl_ns"`
}

type challengeVerifyPayload struct {
	ID       string `cbor:"id"`
	Observed string `cbor:"observed"`
}

type challengeExpirePayload struct {
	ID string `cbor:"id"`
}

// pairKey identifies the (domain, requester) pair a challenge attests.
type pairKey struct {
	domain    string
	requester string
}

// state is the projection of the ledger. It is mutated only by apply.
type state struct {
	certs      map[string]*model.Certificate
	global     []string
	byOwner    map[string][]string
	challenges map[uuid.UUID]*model.Challenge
	active     map[pairKey]uuid.UUID // pending or verified challenge per pair
	height     int
}

func newState() *state {
	return &state{
		certs:      make(map[string]*model.Certificate),
		byOwner:    make(map[string][]string),
		challenges: make(map[uuid.UUID]*model.Challenge),
		active:     make(map[pairKey]uuid.UUID),
	}
}

// apply folds a single included ledger entry into the state.
func (s *state) apply(e *trustledger.Entry) error {
	var err error
	switch e.Action {
	case ActionRegister:
		err = s.applyRegister(e)
	case ActionRevoke:
		err = s.applyRevoke(e)
	case ActionChallengeStart:
		err = s.applyChallengeStart(e)
	case ActionChallengeVerify:
		err = s.applyChallengeVerify(e)
	case ActionChallengeExpire:
		err = s.applyChallengeExpire(e)
	case trustledger.ActionGenesis:
	default:
		err = fmt.Errorf("unknown action %q", e.Action)
	}
	if err != nil {
		return fmt.Errorf("apply entry %d (%s): %w", e.Index, e.Action, err)
	}
	s.height = e.Index + 1
	return nil
}

func (s *state) applyRegister(e *trustledger.Entry) error {
	var p registerPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if _, exists := s.certs[p.Serial]; exists {
		return fmt.Errorf("serial %q: %w", p.Serial, ErrDuplicateSerial)
	}

	s.certs[p.Serial] = &model.Certificate{
		SerialNumber: p.Serial,
		Domain:       p.Domain,
		ContentID:    p.ContentID,
		ContentHash:  p.ContentHash,
		Owner:        p.Owner,
		CreatedAt:    e.Timestamp,
		LedgerIndex:  e.Index,
	}
	s.global = append(s.global, p.Serial)
	s.byOwner[p.Owner] = append(s.byOwner[p.Owner], p.Serial)

	if p.ChallengeID != "" {
		ch, err := s.challengeByString(p.ChallengeID)
		if err != nil {
			return err
		}
		ch.Status = model.ChallengeConsumed
		ch.ConsumedBy = p.Serial
		s.release(ch)
	}
	return nil
}

func (s *state) applyRevoke(e *trustledger.Entry) error {
	var p revokePayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	cert, ok := s.certs[p.Serial]
	if !ok {
		return fmt.Errorf("serial %q: %w", p.Serial, ErrNotFound)
	}
	ts := e.Timestamp
	cert.Revoked = true
	cert.RevokedAt = &ts
	return nil
}

func (s *state) applyChallengeStart(e *trustledger.Entry) error {
	var p challengeStartPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("challenge id %q: %w", p.ID, err)
	}

	ch := &model.Challenge{
		ID:        id,
		Domain:    p.Domain,
		Requester: p.Requester,
		Value:     p.Value,
		Status:    model.ChallengePending,
		CreatedAt: e.Timestamp,
		ExpiresAt: e.Timestamp.Add(time.Duration(p.TTL)),
	}
	s.challenges[id] = ch
	s.active[pairKey{domain: ch.Domain, requester: ch.Requester}] = id
	return nil
}

func (s *state) applyChallengeVerify(e *trustledger.Entry) error {
	var p challengeVerifyPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	ch, err := s.challengeByString(p.ID)
	if err != nil {
		return err
	}
	ts := e.Timestamp
	ch.Status = model.ChallengeVerified
	ch.VerifiedAt = &ts
	return nil
}

func (s *state) applyChallengeExpire(e *trustledger.Entry) error {
	var p challengeExpirePayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	ch, err := s.challengeByString(p.ID)
	if err != nil {
		return err
	}
	ch.Status = model.ChallengeExpired
	s.release(ch)
	return nil
}

// release drops ch from the active index if it still holds its pair.
func (s *state) release(ch *model.Challenge) {
	key := pairKey{domain: ch.Domain, requester: ch.Requester}
	if s.active[key] == ch.ID {
		delete(s.active, key)
	}
}

func (s *state) challengeByString(raw string) (*model.Challenge, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("challenge id %q: %w", raw, err)
	}
	ch, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	return ch, nil
}

// activeChallenge returns the challenge currently holding the pair, if any.
func (s *state) activeChallenge(domain, requester string) (*model.Challenge, bool) {
	id, ok := s.active[pairKey{domain: domain, requester: requester}]
	if !ok {
		return nil, false
	}
	ch, ok := s.challenges[id]
	return ch, ok
}

// normalizeDomain maps every invalid domain, including a blank one, to ErrMalformedDomain.
func normalizeDomain(domain string) (string, error) {
	host, err := hostname.Normalize(domain)
	if err != nil {
		if errors.Is(err, hostname.ErrEmpty) {
			return "", fmt.Errorf("%w: domain is required", ErrMalformedDomain)
		}
		return "", err
	}
	return host, nil
}
