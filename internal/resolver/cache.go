package resolver

import (
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/model"
)

// snapshot is one complete enumeration of the registry, indexed by host.
type snapshot struct {
	version   int // source version observed before enumeration; -1 if unversioned
	byHost    map[string][]*model.Certificate
	total     int
	loadedAt  time.Time
	expiresAt time.Time
}

// snapshotCache holds at most one snapshot and drops it after a TTL.
type snapshotCache struct {
	mu   sync.RWMutex
	snap *snapshot
	ttl  time.Duration
	now  func() time.Time
}

func newSnapshotCache(ttl time.Duration, now func() time.Time) *snapshotCache {
	return &snapshotCache{ttl: ttl, now: now}
}

func (s *snapshot) expired(now time.Time) bool {
	return now.After(s.expiresAt)
}

// get returns the cached snapshot if it has not expired.
func (c *snapshotCache) get() (*snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.snap.expired(c.now()) {
		return nil, false
	}
	return c.snap, true
}

// set stores snap, stamping its expiry.
func (c *snapshotCache) set(snap *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap.expiresAt = snap.loadedAt.Add(c.ttl)
	c.snap = snap
}

// invalidate drops the snapshot.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
}

// evict drops the snapshot if it has expired and reports whether it did.
func (c *snapshotCache) evict() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && c.snap.expired(c.now()) {
		c.snap = nil
		return true
	}
	return false
}

// peek returns the snapshot regardless of expiry.
func (c *snapshotCache) peek() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
