package trustledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It does not survive restarts.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// New creates a MemoryLedger initialised with the canonical genesis entry.
func New() *MemoryLedger {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

// NewWithClock is like New but stamps entries with now.
func NewWithClock(now func() time.Time) *MemoryLedger {
	return &MemoryLedger{
		entries: []*Entry{newGenesis(now())},
		now:     now,
	}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, subject, action, actor string, payload any) (*Entry, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	ts := l.now()
	// Inclusion time never runs backwards along the chain.
	if ts.Before(prev.Timestamp) {
		ts = prev.Timestamp
	}

	entry := &Entry{
		Index:     len(l.entries),
		Timestamp: ts,
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		DataHash:  sha256Sum(data),
		PrevHash:  prev.Hash,
		Payload:   data,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	return copyEntry(entry), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d: %w", index, ErrEntryNotFound)
	}
	return copyEntry(l.entries[index]), nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Scan implements Ledger.
func (l *MemoryLedger) Scan(ctx context.Context, from int, fn func(*Entry) error) error {
	l.mu.RLock()
	snapshot := l.entries
	l.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	for i := from; i < len(snapshot); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(copyEntry(snapshot[i])); err != nil {
			return err
		}
	}
	return nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		if err := checkLink(l.entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	return &cp
}
