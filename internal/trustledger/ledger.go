package trustledger

import (
	"context"
	"errors"
)

// Ledger is the interface for the append-only hash-chain log.
// Both MemoryLedger and PostgresLedger implement this interface.
type Ledger interface {
	// Append adds a new entry chained to the previous one. payload is encoded
	// as deterministic CBOR and its SHA-256 is stored as DataHash. The ledger
	// assigns Index and Timestamp.
	Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Scan calls fn for every entry with Index >= from, in order.
	// Iteration stops at the first error returned by fn.
	Scan(ctx context.Context, from int, fn func(*Entry) error) error

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

// ErrEntryNotFound is returned by Get for an index outside the chain.
var ErrEntryNotFound = errors.New("ledger entry not found")
