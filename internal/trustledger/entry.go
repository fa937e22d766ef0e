package trustledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// All subsequent entry hashes chain from this constant rather than from a
// computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ActionGenesis is the action recorded on entry 0.
const ActionGenesis = "genesis"

// SystemActor is the actor recorded on entries not attributable to an account.
const SystemActor = "certledger-system"

// Entry is a single record in the ledger.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"` // inclusion time, assigned by the ledger
	Subject   string    `json:"subject"`   // serial number or challenge id
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`     // account id or SystemActor
	DataHash  string    `json:"data_hash"` // SHA-256 of Payload
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Payload   []byte    `json:"payload,omitempty"` // core deterministic CBOR
}

// Decode unmarshals the entry payload into v.
func (e *Entry) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("entry %d has no payload", e.Index)
	}
	if err := cbor.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode entry %d payload: %w", e.Index, err)
	}
	return nil
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// encodePayload returns the deterministic CBOR encoding of payload.
func encodePayload(payload any) ([]byte, error) {
	b, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// checkLink validates curr against its predecessor.
func checkLink(prev, curr *Entry) error {
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.DataHash != sha256Sum(curr.Payload) {
		return fmt.Errorf("entry %d payload does not match data hash", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}

func newGenesis(now time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: now,
		Action:    ActionGenesis,
		Actor:     SystemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}
