// Package engine is the authoritative state machine for certificates and
// domain-ownership challenges.
//
// Every mutation is a message to a single actor goroutine. The actor
// validates the message against current state, appends the resulting entries
// to the trust ledger and only then applies them, one message at a time. The
// ledger therefore provides the total order, the inclusion timestamp and the
// completion signal; state is a projection that Open rebuilds by replaying
// the ledger. Reads are lock-guarded snapshots and never wait on the queue.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/trustledger"
	"github.com/jmerrifield20/certledger/pkg/hostname"
	"go.uber.org/zap"
)

// Config holds engine configuration. Zero values select the defaults.
type Config struct {
	// RequireChallenge gates Register on a verified challenge for (domain, caller).
	RequireChallenge bool
	// ChallengeTTL is the completion window of a new challenge (default 15m).
	ChallengeTTL time.Duration
	// QueueSize bounds the number of submitted but unprocessed mutations (default 64).
	QueueSize int
	// AppendTimeout bounds a single ledger append (default 10s).
	AppendTimeout time.Duration
	// Clock returns the current time for expiry decisions (default time.Now UTC).
	Clock func() time.Time
	// Token returns a fresh random challenge value (default 32 random bytes, base64url).
	Token func() (string, error)
	// OnAppend, when set, is called with the action of every included entry.
	OnAppend func(action string)
}

// Receipt describes the ledger inclusion of a mutation.
type Receipt struct {
	Index     int       `json:"ledger_index"`
	Hash      string    `json:"ledger_hash"`
	Timestamp time.Time `json:"included_at"`
	Entries   int       `json:"entries"`
}

// Engine owns all registry and challenge state.
type Engine struct {
	ledger trustledger.Ledger
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex // guards st; only the actor takes the write lock
	st        *state
	ops       chan *op
	quit      chan struct{}
	done      chan struct{}
	runCtx    context.Context
	cancelRun context.CancelFunc

	closeMu sync.RWMutex
	closed  bool
}

// Open replays ledger into a fresh state and starts the actor.
func Open(ctx context.Context, ledger trustledger.Ledger, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 15 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Token == nil {
		cfg.Token = randomToken
	}

	st := newState()
	replayed := 0
	if err := ledger.Scan(ctx, 1, func(entry *trustledger.Entry) error {
		if err := st.apply(entry); err != nil {
			return err
		}
		replayed++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}
	if st.height == 0 {
		st.height = 1 // genesis only
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger,
		st:        st,
		ops:       make(chan *op, cfg.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	go e.loop()

	logger.Info("registry engine ready",
		zap.Int("replayed_entries", replayed),
		zap.Int("certificates", len(st.global)),
		zap.Int("challenges", len(st.challenges)),
		zap.Bool("require_challenge", cfg.RequireChallenge),
	)
	return e, nil
}

// Close stops the actor. Mutations still queued fail with ErrClosed.
// Close is safe to call more than once.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	close(e.quit)
	<-e.done
	e.cancelRun()

	for {
		select {
		case o := <-e.ops:
			o.finish(nil, Receipt{}, ErrClosed)
		default:
			return
		}
	}
}

// ── Submission ──────────────────────────────────────────────────────────────

// intent is a ledger entry the actor will append and apply.
type intent struct {
	subject string
	action  string
	actor   string
	payload any
}

// plan is the actor's decision for one mutation. Intents are included in
// order; reject, if set, is reported after they are included.
type plan struct {
	intents []intent
	reject  error
	result  func(s *state) any
}

type planFunc func(s *state, now time.Time) (plan, error)

type op struct {
	name    string
	plan    planFunc
	doneCh  chan struct{}
	value   any
	receipt Receipt
	err     error
}

func (o *op) finish(v any, r Receipt, err error) {
	o.value, o.receipt, o.err = v, r, err
	close(o.doneCh)
}

// Pending is the completion signal of a submitted mutation. Done is closed
// once the mutation is included in the ledger or definitively rejected.
type Pending struct {
	o *op
}

// Done returns a channel closed on completion.
func (p *Pending) Done() <-chan struct{} { return p.o.doneCh }

// Wait blocks until completion or until ctx ends. When ctx ends first it
// returns ErrOutcomeUnknown; the mutation stays submitted.
func (p *Pending) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-p.o.doneCh:
		return p.o.receipt, p.o.err
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("%s: %w: %w", p.o.name, ErrOutcomeUnknown, ctx.Err())
	}
}

func (e *Engine) submit(ctx context.Context, name string, fn planFunc) (*Pending, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	o := &op{name: name, plan: fn, doneCh: make(chan struct{})}
	select {
	case e.ops <- o:
		return &Pending{o: o}, nil
	case <-ctx.Done():
		// Never queued, so never applied.
		return nil, ctx.Err()
	}
}

// do submits fn and waits for its completion.
func (e *Engine) do(ctx context.Context, name string, fn planFunc) (any, Receipt, error) {
	p, err := e.submit(ctx, name, fn)
	if err != nil {
		return nil, Receipt{}, err
	}
	receipt, err := p.Wait(ctx)
	if err != nil {
		return nil, receipt, err
	}
	return p.o.value, receipt, nil
}

// ── Actor ───────────────────────────────────────────────────────────────────

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case o := <-e.ops:
			e.execute(o)
		}
	}
}

func (e *Engine) execute(o *op) {
	// The actor is the only writer, so planning reads state without the lock.
	p, err := o.plan(e.st, e.cfg.Clock())
	if err != nil {
		o.finish(nil, Receipt{}, err)
		return
	}

	var receipt Receipt
	for _, in := range p.intents {
		entry, err := e.append(in)
		if err != nil {
			e.logger.Error("ledger append failed",
				zap.String("op", o.name),
				zap.String("action", in.action),
				zap.String("subject", in.subject),
				zap.Error(err),
			)
			o.finish(nil, receipt, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
			return
		}

		e.mu.Lock()
		applyErr := e.st.apply(entry)
		e.mu.Unlock()
		if applyErr != nil {
			// The entry is on the ledger but state could not follow it.
			e.logger.Error("apply included entry", zap.Int("idx", entry.Index), zap.Error(applyErr))
			o.finish(nil, receipt, applyErr)
			return
		}

		receipt = Receipt{
			Index:     entry.Index,
			Hash:      entry.Hash,
			Timestamp: entry.Timestamp,
			Entries:   receipt.Entries + 1,
		}
		if e.cfg.OnAppend != nil {
			e.cfg.OnAppend(entry.Action)
		}
	}

	if p.reject != nil {
		o.finish(nil, receipt, p.reject)
		return
	}

	var v any
	if p.result != nil {
		e.mu.RLock()
		v = p.result(e.st)
		e.mu.RUnlock()
	}
	o.finish(v, receipt, nil)
}

func (e *Engine) append(in intent) (*trustledger.Entry, error) {
	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.AppendTimeout)
	defer cancel()
	return e.ledger.Append(ctx, in.subject, in.action, in.actor, in.payload)
}

// Version returns the ledger height reflected by the current state. It
// increases with every included mutation.
func (e *Engine) Version(_ context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.height, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sentinel errors for the registry engine.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateSerial        = errors.New("serial number already registered")
	ErrNotOwner               = errors.New("caller is not the certificate owner")
	ErrNotAuthorized          = errors.New("no verified challenge for domain and caller")
	ErrAlreadyRevoked         = errors.New("certificate already revoked")
	ErrChallengeAlreadyActive = errors.New("a challenge is already active for this domain and requester")
	ErrChallengeMismatch      = errors.New("observed value does not match challenge")
	ErrChallengeExpired       = errors.New("challenge has expired; start a new one")
	ErrChallengeInactive      = errors.New("challenge is no longer active")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrLedgerUnavailable      = errors.New("ledger unavailable")
	ErrOutcomeUnknown         = errors.New("submitted but not yet included; outcome unknown")
	ErrClosed                 = errors.New("registry engine closed")

	// ErrMalformedDomain is returned when a domain does not normalize to a host name.
	ErrMalformedDomain = hostname.ErrMalformed
)
