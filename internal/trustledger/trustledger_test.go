package trustledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/certledger/internal/trustledger"
)

var ctx = context.Background()

type registerPayload struct {
	Serial string `cbor:"serial"`
	Domain string `cbor:"domain"`
}

func TestNew_genesisEntry(t *testing.T) {
	l := trustledger.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != trustledger.ActionGenesis {
		t.Errorf("expected action 'genesis', got %q", entry.Action)
	}
	if entry.Hash != trustledger.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := trustledger.New()

	e1, err := l.Append(ctx, "CERT-1", "certificate.register", "alice", registerPayload{Serial: "CERT-1", Domain: "secure.com"})
	if err != nil {
		t.Fatal(err)
	}

	e2, err := l.Append(ctx, "CERT-1", "certificate.revoke", "alice", map[string]string{"serial": "CERT-1"})
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e2.Index != 2 {
		t.Errorf("e2.Index: got %d, want 2", e2.Index)
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_payloadRoundTrip(t *testing.T) {
	l := trustledger.New()
	in := registerPayload{Serial: "CERT-7", Domain: "example.com"}

	e, err := l.Append(ctx, in.Serial, "certificate.register", "bob", in)
	if err != nil {
		t.Fatal(err)
	}

	got, err := l.Get(ctx, e.Index)
	if err != nil {
		t.Fatal(err)
	}
	var out registerPayload
	if err := got.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Errorf("payload: got %+v, want %+v", out, in)
	}
}

func TestAppend_timestampsNeverDecrease(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Second), base}
	i := 0
	l := trustledger.NewWithClock(func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	})

	e1, _ := l.Append(ctx, "a", "x", "y", nil)
	e2, _ := l.Append(ctx, "b", "x", "y", nil)
	if e2.Timestamp.Before(e1.Timestamp) {
		t.Errorf("timestamp went backwards: %v < %v", e2.Timestamp, e1.Timestamp)
	}
}

func TestVerify_valid(t *testing.T) {
	l := trustledger.New()
	_, _ = l.Append(ctx, "CERT-1", "certificate.register", "alice", nil)
	_, _ = l.Append(ctx, "CERT-1", "certificate.revoke", "alice", nil)

	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestScan_fromIndex(t *testing.T) {
	l := trustledger.New()
	for _, s := range []string{"a", "b", "c"} {
		if _, err := l.Append(ctx, s, "certificate.register", "alice", nil); err != nil {
			t.Fatal(err)
		}
	}

	var subjects []string
	err := l.Scan(ctx, 2, func(e *trustledger.Entry) error {
		subjects = append(subjects, e.Subject)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 2 || subjects[0] != "b" || subjects[1] != "c" {
		t.Errorf("Scan(2): got %v, want [b c]", subjects)
	}
}

func TestScan_stopsOnError(t *testing.T) {
	l := trustledger.New()
	_, _ = l.Append(ctx, "a", "x", "y", nil)
	_, _ = l.Append(ctx, "b", "x", "y", nil)

	stop := errors.New("stop")
	calls := 0
	err := l.Scan(ctx, 0, func(*trustledger.Entry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Scan error: got %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 callback, got %d", calls)
	}
}

func TestGet_outOfRange(t *testing.T) {
	l := trustledger.New()
	_, err := l.Get(ctx, 5)
	if !errors.Is(err, trustledger.ErrEntryNotFound) {
		t.Errorf("Get(5): got %v, want ErrEntryNotFound", err)
	}
}

func TestGet_returnsCopy(t *testing.T) {
	l := trustledger.New()
	e, _ := l.Append(ctx, "a", "x", "y", map[string]int{"n": 1})

	got, _ := l.Get(ctx, e.Index)
	got.Payload[0] ^= 0xff
	got.Subject = "tampered"

	if err := l.Verify(ctx); err != nil {
		t.Errorf("mutating a returned entry must not affect the chain: %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	l := trustledger.New()
	e, _ := l.Append(ctx, "CERT-1", "certificate.register", "alice", nil)

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestVerify_genesisOnlyChain(t *testing.T) {
	l := trustledger.New()
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() on genesis-only chain should pass: %v", err)
	}
}

func TestRoot_genesisOnly(t *testing.T) {
	l := trustledger.New()
	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != trustledger.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q, want GenesisHash", root)
	}
}
