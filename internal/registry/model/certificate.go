package model

import "time"

// Certificate is the registry record binding a domain to stored certificate bytes.
// Every field except Revoked and RevokedAt is immutable once created.
type Certificate struct {
	SerialNumber string     `json:"serial_number"`
	Domain       string     `json:"domain"`
	ContentID    string     `json:"content_id"`
	ContentHash  string     `json:"content_hash"`
	Owner        string     `json:"owner"`
	CreatedAt    time.Time  `json:"created_at"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	LedgerIndex  int        `json:"ledger_index"`
}

// Clone returns a deep copy of c.
func (c *Certificate) Clone() *Certificate {
	cp := *c
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// RegisterRequest carries the caller-supplied fields of a new certificate.
type RegisterRequest struct {
	Domain       string `json:"domain"        binding:"required"`
	SerialNumber string `json:"serial_number" binding:"required"`
	ContentID    string `json:"content_id"    binding:"required"`
	ContentHash  string `json:"content_hash"  binding:"required"`
}
