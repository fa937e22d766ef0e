package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/engine"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ── Fake clock ─────────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ── Ledger wrappers ────────────────────────────────────────────────────────

// failingLedger rejects every Append while fail is set.
type failingLedger struct {
	trustledger.Ledger
	mu   sync.Mutex
	fail bool
}

func (l *failingLedger) setFail(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = v
}

func (l *failingLedger) Append(ctx context.Context, subject, action, actor string, payload any) (*trustledger.Entry, error) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return nil, errors.New("node unreachable")
	}
	return l.Ledger.Append(ctx, subject, action, actor, payload)
}

// gatedLedger holds every Append until release is closed.
type gatedLedger struct {
	trustledger.Ledger
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLedger) Append(ctx context.Context, subject, action, actor string, payload any) (*trustledger.Entry, error) {
	select {
	case l.entered <- struct{}{}:
	default:
	}
	<-l.release
	return l.Ledger.Append(ctx, subject, action, actor, payload)
}

// ── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	eng    *engine.Engine
	ledger *trustledger.MemoryLedger
	clock  *fakeClock
	token  string
}

const testTTL = 15 * time.Minute

func newHarness(t *testing.T, requireChallenge bool) *harness {
	t.Helper()
	clock := newFakeClock()
	ledger := trustledger.NewWithClock(clock.Now)
	h := &harness{ledger: ledger, clock: clock}
	h.eng = openEngine(t, ledger, clock, requireChallenge)
	return h
}

func openEngine(t *testing.T, ledger trustledger.Ledger, clock *fakeClock, requireChallenge bool) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(context.Background(), ledger, engine.Config{
		RequireChallenge: requireChallenge,
		ChallengeTTL:     testTTL,
		Clock:            clock.Now,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

// verify runs the full challenge flow for (domain, account).
func (h *harness) verify(t *testing.T, domain, account string) *model.Challenge {
	t.Helper()
	ctx := context.Background()
	ch, err := h.eng.StartChallenge(ctx, domain, account)
	require.NoError(t, err)
	done, err := h.eng.CompleteChallenge(ctx, ch.ID, ch.Value)
	require.NoError(t, err)
	require.Equal(t, model.ChallengeVerified, done.Status)
	return done
}

// register verifies the pair and registers serial for domain.
func (h *harness) register(t *testing.T, account, domain, serial string) *model.Certificate {
	t.Helper()
	h.verify(t, domain, account)
	cert, _, err := h.eng.Register(context.Background(), account, req(domain, serial))
	require.NoError(t, err)
	return cert
}

func req(domain, serial string) model.RegisterRequest {
	return model.RegisterRequest{
		Domain:       domain,
		SerialNumber: serial,
		ContentID:    "sha256:" + serial,
		ContentHash:  "0x" + serial,
	}
}
