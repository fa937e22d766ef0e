package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/resolver"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

// ── Stub source ────────────────────────────────────────────────────────────

type stubSource struct {
	mu      sync.Mutex
	certs   []*model.Certificate
	version int
	failOn  string // serial whose Get fails
	counts  atomic.Int64
}

func (s *stubSource) add(c *model.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs = append(s.certs, c)
	s.version++
}

func (s *stubSource) TotalCount(context.Context) (int, error) {
	s.counts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.certs), nil
}

func (s *stubSource) SerialAt(_ context.Context, i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.certs) {
		return "", engine.ErrNotFound
	}
	return s.certs[i].SerialNumber, nil
}

func (s *stubSource) Get(_ context.Context, serial string) (*model.Certificate, error) {
	if serial == s.failOn {
		return nil, errors.New("node timeout")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.certs {
		if c.SerialNumber == serial {
			return c.Clone(), nil
		}
	}
	return nil, engine.ErrNotFound
}

func (s *stubSource) Version(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

// unversioned exposes only the Source methods of s.
type unversioned struct{ s *stubSource }

func (u unversioned) TotalCount(ctx context.Context) (int, error) { return u.s.TotalCount(ctx) }
func (u unversioned) SerialAt(ctx context.Context, i int) (string, error) {
	return u.s.SerialAt(ctx, i)
}
func (u unversioned) Get(ctx context.Context, serial string) (*model.Certificate, error) {
	return u.s.Get(ctx, serial)
}

// pagedSource adds bulk reads to stubSource. The page size it serves is
// capped at maxLimit, like a registry clamping the limit parameter.
type pagedSource struct {
	*stubSource
	maxLimit int
	failAt   int // offset whose page fails; -1 for none
	shortAt  int // offset whose page comes back one short; -1 for none
	pages    atomic.Int64
}

func (p *pagedSource) Page(_ context.Context, offset, limit int) ([]*model.Certificate, int, error) {
	p.pages.Add(1)
	if offset == p.failAt {
		return nil, 0, errors.New("node timeout")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	total := len(p.certs)
	limit = min(limit, p.maxLimit)
	end := min(offset+limit, total)
	if offset == p.shortAt {
		end--
	}
	out := make([]*model.Certificate, 0, end-offset)
	for _, c := range p.certs[offset:end] {
		out = append(out, c.Clone())
	}
	return out, total, nil
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func cert(serial, domain string, minute int, revoked bool) *model.Certificate {
	return &model.Certificate{
		SerialNumber: serial,
		Domain:       domain,
		Owner:        "account-0",
		CreatedAt:    base.Add(time.Duration(minute) * time.Minute),
		Revoked:      revoked,
	}
}

// ── Classification ─────────────────────────────────────────────────────────

func TestResolve_unknownInput(t *testing.T) {
	src := &stubSource{}
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	for _, in := range []string{"", "   ", "not a url", "localhost", "http://"} {
		res, err := r.Resolve(ctx, in)
		require.NoError(t, err, in)
		assert.Equal(t, model.StatusUnknown, res.Status, in)
		assert.Nil(t, res.Certificate, in)
	}
	assert.Zero(t, src.counts.Load(), "unknown input must not enumerate")
}

func TestResolve_secureAndInsecure(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-secure", "secure.com", 0, false))
	src.add(cert("S-insecure", "insecure.com", 1, true))
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	res, err := r.Resolve(ctx, "https://Secure.com/login?next=/")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSecure, res.Status)
	assert.Equal(t, "secure.com", res.Host)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, "S-secure", res.Certificate.SerialNumber)
	assert.Equal(t, 1, res.Candidates)

	res, err = r.Resolve(ctx, "insecure.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInsecure, res.Status)
	assert.Nil(t, res.Certificate)

	res, err = r.Resolve(ctx, "never-registered.org")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInsecure, res.Status)
}

func TestResolve_tieBreak(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-late", "secure.com", 5, false))
	src.add(cert("S-b", "secure.com", 1, false))
	src.add(cert("S-a", "secure.com", 1, false))
	src.add(cert("S-earliest", "secure.com", 0, true))
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	res, err := r.Resolve(ctx, "secure.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSecure, res.Status)
	assert.Equal(t, "S-a", res.Certificate.SerialNumber, "earliest non-revoked, then lowest serial")
	assert.Equal(t, 3, res.Candidates)
}

func TestResolve_allOrNothing(t *testing.T) {
	src := &stubSource{failOn: "S-3"}
	for i := 0; i < 10; i++ {
		src.add(cert(fmt.Sprintf("S-%d", i), "secure.com", i, false))
	}
	r := resolver.New(src, resolver.Config{Concurrency: 3}, zap.NewNop())

	res, err := r.Resolve(ctx, "secure.com")
	require.ErrorIs(t, err, resolver.ErrEnumeration)
	assert.Contains(t, err.Error(), "node timeout")
	assert.Nil(t, res)
}

func TestResolve_pagedSourceUsesBulkReads(t *testing.T) {
	src := &pagedSource{stubSource: &stubSource{}, maxLimit: 5, failAt: -1, shortAt: -1}
	for i := 0; i < 23; i++ {
		src.add(cert(fmt.Sprintf("S-%02d", i), fmt.Sprintf("d%d.com", i), i, i == 7))
	}
	r := resolver.New(src, resolver.Config{PageSize: 10, Concurrency: 2}, zap.NewNop())

	results, err := r.ResolveMany(ctx, []string{"d0.com", "d22.com", "d7.com", "nowhere.com"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSecure, results[0].Status)
	assert.Equal(t, model.StatusSecure, results[1].Status)
	assert.Equal(t, "S-22", results[1].Certificate.SerialNumber)
	assert.Equal(t, model.StatusInsecure, results[2].Status)
	assert.Equal(t, model.StatusInsecure, results[3].Status)

	// The source serves 5 per page, so 23 records take 5 pages.
	assert.Equal(t, int64(5), src.pages.Load())
	assert.Zero(t, src.counts.Load(), "per-record enumeration must not run")
}

func TestResolve_pagedSourceFailureFailsWhole(t *testing.T) {
	for name, src := range map[string]*pagedSource{
		"error":      {stubSource: &stubSource{}, maxLimit: 4, failAt: 8, shortAt: -1},
		"short page": {stubSource: &stubSource{}, maxLimit: 4, failAt: -1, shortAt: 4},
	} {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 12; i++ {
				src.add(cert(fmt.Sprintf("S-%d", i), "secure.com", i, false))
			}
			r := resolver.New(src, resolver.Config{PageSize: 4}, zap.NewNop())

			res, err := r.Resolve(ctx, "secure.com")
			require.ErrorIs(t, err, resolver.ErrEnumeration)
			assert.Nil(t, res)
		})
	}
}

func TestResolve_againstEngine(t *testing.T) {
	eng, err := engine.Open(ctx, trustledger.New(), engine.Config{}, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close()

	_, _, err = eng.Register(ctx, "account-0", model.RegisterRequest{Domain: "secure.com", SerialNumber: "A", ContentID: "c", ContentHash: "h"})
	require.NoError(t, err)
	_, _, err = eng.Register(ctx, "account-1", model.RegisterRequest{Domain: "insecure.com", SerialNumber: "B", ContentID: "c", ContentHash: "h"})
	require.NoError(t, err)

	r := resolver.New(eng, resolver.Config{CacheTTL: time.Hour}, zap.NewNop())

	res, err := r.Resolve(ctx, "insecure.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSecure, res.Status)

	_, err = eng.Revoke(ctx, "account-1", "B")
	require.NoError(t, err)

	// The engine's version moved, so the cached snapshot is not reused.
	res, err = r.Resolve(ctx, "insecure.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInsecure, res.Status)
}

// ── Caching ────────────────────────────────────────────────────────────────

func TestResolve_snapshotReusedWhileVersionUnchanged(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-1", "secure.com", 0, false))
	r := resolver.New(src, resolver.Config{CacheTTL: time.Hour}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, "secure.com")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), src.counts.Load())

	src.add(cert("S-2", "other.com", 1, false))
	res, err := r.Resolve(ctx, "other.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSecure, res.Status)
	assert.Equal(t, int64(2), src.counts.Load())
}

func TestResolve_snapshotExpires(t *testing.T) {
	var (
		mu  sync.Mutex
		now = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	src := &stubSource{}
	src.add(cert("S-1", "secure.com", 0, false))
	r := resolver.New(unversioned{src}, resolver.Config{CacheTTL: time.Minute, Clock: clock}, zap.NewNop())

	_, err := r.Resolve(ctx, "secure.com")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "secure.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.counts.Load())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = r.Resolve(ctx, "secure.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.counts.Load())
}

func TestResolve_noCacheEnumeratesEveryTime(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-1", "secure.com", 0, false))
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, "secure.com")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), src.counts.Load())
	assert.False(t, r.CacheStats().Cached)
}

func TestInvalidateAndCacheStats(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-1", "secure.com", 0, false))
	src.add(cert("S-2", "secure.com", 1, false))
	src.add(cert("S-3", "other.com", 2, true))
	r := resolver.New(unversioned{src}, resolver.Config{CacheTTL: time.Hour}, zap.NewNop())

	_, err := r.Resolve(ctx, "secure.com")
	require.NoError(t, err)

	stats := r.CacheStats()
	assert.True(t, stats.Cached)
	assert.Equal(t, 3, stats.Certificates)
	assert.Equal(t, 1, stats.Domains)
	assert.Equal(t, -1, stats.Version)

	r.Invalidate()
	assert.False(t, r.CacheStats().Cached)

	_, err = r.Resolve(ctx, "secure.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.counts.Load())
}

func TestResolveMany(t *testing.T) {
	src := &stubSource{}
	src.add(cert("S-1", "secure.com", 0, false))
	src.add(cert("S-2", "insecure.com", 1, true))
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	inputs := []string{"insecure.com", "", "https://secure.com", "nowhere.net"}
	results, err := r.ResolveMany(ctx, inputs)
	require.NoError(t, err)
	require.Len(t, results, 4)

	want := []model.SecurityStatus{model.StatusInsecure, model.StatusUnknown, model.StatusSecure, model.StatusInsecure}
	for i, res := range results {
		assert.Equal(t, inputs[i], res.Input)
		assert.Equal(t, want[i], res.Status, inputs[i])
	}
	assert.Equal(t, int64(1), src.counts.Load(), "one enumeration for the whole batch")
}

func TestResolveMany_onlyUnknown(t *testing.T) {
	src := &stubSource{}
	r := resolver.New(src, resolver.Config{}, zap.NewNop())

	results, err := r.ResolveMany(ctx, []string{"", "bad input"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, src.counts.Load())
}

func TestResolve_concurrentCallersShareOneEnumeration(t *testing.T) {
	src := &stubSource{}
	for i := 0; i < 50; i++ {
		src.add(cert(fmt.Sprintf("S-%02d", i), fmt.Sprintf("d%d.com", i), i, false))
	}
	r := resolver.New(src, resolver.Config{CacheTTL: time.Hour}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(ctx, "d7.com")
			assert.NoError(t, err)
			if res != nil {
				assert.Equal(t, model.StatusSecure, res.Status)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, src.counts.Load(), int64(20))
	assert.Equal(t, 50, r.CacheStats().Domains)
}

func TestStartCacheEviction_nonPositiveInterval(t *testing.T) {
	r := resolver.New(&stubSource{}, resolver.Config{CacheTTL: time.Hour}, zap.NewNop())
	evictCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A ticker with a non-positive interval panics inside the goroutine.
	r.StartCacheEviction(evictCtx, -time.Second)
	r.StartCacheEviction(evictCtx, 0)
	time.Sleep(20 * time.Millisecond)
}
