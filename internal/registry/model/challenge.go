package model

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the lifecycle state of a domain-ownership challenge.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeConsumed ChallengeStatus = "consumed"
	ChallengeExpired  ChallengeStatus = "expired"
)

// Challenge is an in-flight or retained proof that Requester controls Domain.
type Challenge struct {
	ID         uuid.UUID       `json:"id"`
	Domain     string          `json:"domain"`
	Requester  string          `json:"requester"`
	Value      string          `json:"challenge_value"`
	Status     ChallengeStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
	ConsumedBy string          `json:"consumed_by,omitempty"` // serial of the registering certificate
	TXTHost    string          `json:"txt_host,omitempty"`    // computed; not stored in the ledger
	TXTRecord  string          `json:"txt_record,omitempty"`  // computed; not stored in the ledger
}

// Overdue reports whether a pending challenge has passed its expiry at now.
// Verified challenges never become overdue.
func (c *Challenge) Overdue(now time.Time) bool {
	return c.Status == ChallengePending && now.After(c.ExpiresAt)
}

// Active reports whether the challenge still blocks a new one for its pair.
func (c *Challenge) Active(now time.Time) bool {
	switch c.Status {
	case ChallengeVerified:
		return true
	case ChallengePending:
		return !c.Overdue(now)
	default:
		return false
	}
}

// Clone returns a deep copy of c.
func (c *Challenge) Clone() *Challenge {
	cp := *c
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		cp.VerifiedAt = &t
	}
	return &cp
}
