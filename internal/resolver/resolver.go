// Package resolver answers "is this domain currently secure?" by enumerating
// every certificate in a registry and classifying the domain against them.
//
// Enumeration is an all-or-nothing barrier: either every record is fetched
// and the domain is classified against the complete set, or the resolution
// fails. A session snapshot of the enumeration is cached with a TTL and is
// discarded early when the source reports a newer version.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/pkg/hostname"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source is the read side of a certificate registry.
// *engine.Engine and *client.Client satisfy it.
type Source interface {
	TotalCount(ctx context.Context) (int, error)
	SerialAt(ctx context.Context, index int) (string, error)
	Get(ctx context.Context, serial string) (*model.Certificate, error)
}

// Pager is implemented by sources that can return certificates in bulk, in
// global insertion order, together with the current total. Enumeration
// prefers it over per-record SerialAt/Get calls.
type Pager interface {
	Page(ctx context.Context, offset, limit int) ([]*model.Certificate, int, error)
}

// Versioned is implemented by sources that can report a monotonically
// increasing state version. Cached snapshots are reused only while it is unchanged.
type Versioned interface {
	Version(ctx context.Context) (int, error)
}

// Config holds resolver configuration.
type Config struct {
	CacheTTL    time.Duration    // 0 disables the snapshot cache
	Concurrency int              // parallel record or page fetches (default 16)
	PageSize    int              // certificates per bulk read from a Pager (default 500)
	Clock       func() time.Time // default time.Now
}

// Resolver classifies domains against a Source.
type Resolver struct {
	src    Source
	cfg    Config
	cache  *snapshotCache
	loads  singleflight.Group
	logger *zap.Logger
}

// New creates a Resolver.
func New(src Source, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	r := &Resolver{src: src, cfg: cfg, logger: logger}
	if cfg.CacheTTL > 0 {
		r.cache = newSnapshotCache(cfg.CacheTTL, cfg.Clock)
	}
	return r
}

// Resolve classifies input.
//
// Input that does not normalize to a host name yields StatusUnknown and a nil
// error. Otherwise the result is StatusSecure with the earliest-registered
// non-revoked certificate for the host (ties broken by serial), or
// StatusInsecure. An enumeration failure is returned as an error wrapping
// ErrEnumeration; it never produces a partial classification.
func (r *Resolver) Resolve(ctx context.Context, input string) (*model.Resolution, error) {
	host, err := hostname.Normalize(input)
	if err != nil {
		return &model.Resolution{Input: input, Status: model.StatusUnknown}, nil
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return classify(snap, input, host), nil
}

// ResolveMany classifies every input against one shared snapshot. Results
// are returned in input order.
func (r *Resolver) ResolveMany(ctx context.Context, inputs []string) ([]*model.Resolution, error) {
	out := make([]*model.Resolution, len(inputs))
	hosts := make([]string, len(inputs))
	needSnapshot := false
	for i, in := range inputs {
		host, err := hostname.Normalize(in)
		if err != nil {
			out[i] = &model.Resolution{Input: in, Status: model.StatusUnknown}
			continue
		}
		hosts[i] = host
		needSnapshot = true
	}
	if !needSnapshot {
		return out, nil
	}

	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		if out[i] == nil {
			out[i] = classify(snap, in, hosts[i])
		}
	}
	return out, nil
}

// Invalidate drops the cached snapshot. Called after a local mutation.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.invalidate()
	}
}

// CacheStats describes the cached snapshot.
type CacheStats struct {
	Cached       bool      `json:"cached"`
	Version      int       `json:"version"`
	Certificates int       `json:"certificates"`
	Domains      int       `json:"domains"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
}

// CacheStats returns the state of the snapshot cache (for metrics/health).
func (r *Resolver) CacheStats() CacheStats {
	if r.cache == nil {
		return CacheStats{}
	}
	snap := r.cache.peek()
	if snap == nil {
		return CacheStats{}
	}
	return CacheStats{
		Cached:       true,
		Version:      snap.version,
		Certificates: snap.total,
		Domains:      len(snap.byHost),
		LoadedAt:     snap.loadedAt,
	}
}

// StartCacheEviction starts a background goroutine that periodically drops
// an expired snapshot. Cancel ctx to stop it.
func (r *Resolver) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if r.cache == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if r.cache.evict() {
					r.logger.Debug("snapshot evicted")
				}
			}
		}
	}()
}

// snapshot returns a current snapshot, enumerating the source when the cache
// is empty, expired or behind the source version.
func (r *Resolver) snapshot(ctx context.Context) (*snapshot, error) {
	if r.cache != nil {
		if snap, ok := r.cache.get(); ok && r.fresh(ctx, snap) {
			return snap, nil
		}
	}

	v, err, _ := r.loads.Do("snapshot", func() (any, error) {
		snap, err := r.enumerate(ctx)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.set(snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// fresh reports whether snap still reflects the source.
func (r *Resolver) fresh(ctx context.Context, snap *snapshot) bool {
	vs, ok := r.src.(Versioned)
	if !ok {
		return true
	}
	v, err := vs.Version(ctx)
	if err != nil {
		r.logger.Warn("source version check failed; reloading snapshot", zap.Error(err))
		return false
	}
	return v == snap.version
}

// enumerate fetches every certificate. Any single failure fails the whole call.
func (r *Resolver) enumerate(ctx context.Context) (*snapshot, error) {
	start := r.cfg.Clock()
	version := -1
	if vs, ok := r.src.(Versioned); ok {
		v, err := vs.Version(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: version: %w", ErrEnumeration, err)
		}
		version = v
	}

	var records []*model.Certificate
	var err error
	if p, ok := r.src.(Pager); ok {
		records, err = r.fetchPages(ctx, p)
	} else {
		records, err = r.fetchEach(ctx)
	}
	if err != nil {
		r.logger.Warn("registry enumeration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
	}
	total := len(records)

	snap := &snapshot{
		version:  version,
		byHost:   make(map[string][]*model.Certificate),
		total:    total,
		loadedAt: r.cfg.Clock(),
	}
	for _, cert := range records {
		if cert.Revoked {
			continue
		}
		host, err := hostname.Normalize(cert.Domain)
		if err != nil {
			r.logger.Debug("skipping certificate with unusable domain",
				zap.String("serial", cert.SerialNumber),
				zap.String("domain", cert.Domain),
			)
			continue
		}
		snap.byHost[host] = append(snap.byHost[host], cert)
	}
	for _, certs := range snap.byHost {
		sort.Slice(certs, func(i, j int) bool {
			if !certs[i].CreatedAt.Equal(certs[j].CreatedAt) {
				return certs[i].CreatedAt.Before(certs[j].CreatedAt)
			}
			return certs[i].SerialNumber < certs[j].SerialNumber
		})
	}

	r.logger.Debug("registry enumerated",
		zap.Int("certificates", total),
		zap.Int("domains", len(snap.byHost)),
		zap.Int("version", version),
		zap.Duration("took", r.cfg.Clock().Sub(start)),
	)
	return snap, nil
}

// fetchEach reads the total, then every serial and record one by one.
func (r *Resolver) fetchEach(ctx context.Context) ([]*model.Certificate, error) {
	total, err := r.src.TotalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("total count: %w", err)
	}

	records := make([]*model.Certificate, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := 0; i < total; i++ {
		g.Go(func() error {
			serial, err := r.src.SerialAt(gctx, i)
			if err != nil {
				return fmt.Errorf("serial at %d: %w", i, err)
			}
			cert, err := r.src.Get(gctx, serial)
			if err != nil {
				return fmt.Errorf("certificate %s: %w", serial, err)
			}
			records[i] = cert
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// fetchPages reads the first page to learn the total and the page size the
// source actually serves, then fetches the remaining pages in parallel.
// Records past the first page's total are ignored so the snapshot is bounded.
func (r *Resolver) fetchPages(ctx context.Context, p Pager) ([]*model.Certificate, error) {
	first, total, err := p.Page(ctx, 0, r.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("page at 0: %w", err)
	}
	records := make([]*model.Certificate, total)
	if total == 0 {
		return records, nil
	}
	step := min(len(first), total)
	if step == 0 {
		return nil, fmt.Errorf("page at 0: empty page with total %d", total)
	}
	copy(records, first[:step])

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for offset := step; offset < total; offset += step {
		g.Go(func() error {
			page, _, err := p.Page(gctx, offset, step)
			if err != nil {
				return fmt.Errorf("page at %d: %w", offset, err)
			}
			want := min(step, total-offset)
			if len(page) < want {
				return fmt.Errorf("page at %d: got %d certificates, want %d", offset, len(page), want)
			}
			copy(records[offset:offset+want], page[:want])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func classify(snap *snapshot, input, host string) *model.Resolution {
	res := &model.Resolution{Input: input, Host: host, Status: model.StatusInsecure}
	if certs := snap.byHost[host]; len(certs) > 0 {
		res.Status = model.StatusSecure
		res.Certificate = certs[0].Clone()
		res.Candidates = len(certs)
	}
	return res
}

const defaultPageSize = 500

// ErrEnumeration is returned when the registry could not be enumerated completely.
var ErrEnumeration = errors.New("registry enumeration failed")
