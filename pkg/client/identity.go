package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoToken is returned by LoadToken when no token has been saved.
var ErrNoToken = errors.New("no saved account token")

// LoadToken reads an account token written by SaveToken.
//
//	tok, err := client.LoadToken(os.ExpandEnv("$HOME/.certctl/token"))
func LoadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// SaveToken writes token to path with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// NewFromTokenFile creates a client authenticated with the token saved at path.
func NewFromTokenFile(base, path string, opts ...Option) (*Client, error) {
	tok, err := LoadToken(path)
	if err != nil {
		return nil, err
	}
	return New(base, append([]Option{WithBearerToken(tok)}, opts...)...)
}
