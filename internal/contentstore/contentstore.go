// Package contentstore is the content-addressed blob store behind certificate
// uploads. Content IDs are OCI digests ("sha256:<hex>") of the stored bytes,
// so putting the same bytes twice yields the same ID and Get can verify what
// it returns.
package contentstore

import (
	"context"
	"errors"
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// Store persists immutable blobs keyed by their content ID.
type Store interface {
	// Put stores data and returns its content ID. It is idempotent.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes stored under id.
	Get(ctx context.Context, id string) ([]byte, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// IDOf returns the content ID of data.
func IDOf(data []byte) string {
	return digest.FromBytes(data).String()
}

// ParseID validates id and returns it in canonical form.
func ParseID(id string) (digest.Digest, error) {
	d, err := digest.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %s", ErrInvalidID, id, err.Error())
	}
	return d, nil
}

// verify checks that data hashes to d.
func verify(d digest.Digest, data []byte) error {
	v := d.Verifier()
	if _, err := v.Write(data); err != nil {
		return err
	}
	if !v.Verified() {
		return fmt.Errorf("%w: %s", ErrCorrupt, d)
	}
	return nil
}

func checkSize(data []byte, max int64) error {
	if len(data) == 0 {
		return ErrEmptyContent
	}
	if max > 0 && int64(len(data)) > max {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), max)
	}
	return nil
}

// Sentinel errors for content stores.
var (
	ErrNotFound     = errors.New("content not found")
	ErrInvalidID    = errors.New("invalid content id")
	ErrCorrupt      = errors.New("stored content does not match its id")
	ErrEmptyContent = errors.New("content is empty")
	ErrTooLarge     = errors.New("content too large")
	ErrUnavailable  = errors.New("content store unavailable")
)
