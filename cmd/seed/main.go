// cmd/seed populates a running registry with demo certificates through its
// HTTP API: secure.com (valid), insecure.com (registered then revoked) and
// -count more example<N>.com certificates spread over a few accounts.
//
// Domain control is proven with the external-verifier path: a seed verifier
// token with the challenge:complete scope reports each challenge value, so no
// real DNS records are needed. The registry must have an admin secret set.
//
// Usage:
//
//	CERTLEDGER_ADMIN_SECRET=dev go run ./cmd/seed
//	go run ./cmd/seed -registry http://localhost:8080 -admin-secret dev -count 10 -revoke 2
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jmerrifield20/certledger/internal/identity"
	"github.com/jmerrifield20/certledger/pkg/client"
)

const verifierAccount = "seed-verifier"

var accounts = []string{"alice", "bob", "carol"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	registry := flag.String("registry", envOr("CERTLEDGER_REGISTRY", "http://localhost:8080"), "registry base URL")
	secret := flag.String("admin-secret", os.Getenv("CERTLEDGER_ADMIN_SECRET"), "registry operator secret")
	count := flag.Int("count", 5, "additional example certificates to register")
	revoke := flag.Int("revoke", 0, "random certificates of the first account to revoke afterwards")
	flag.Parse()

	if *secret == "" {
		return errors.New("admin secret required (-admin-secret or CERTLEDGER_ADMIN_SECRET)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s, err := newSeeder(ctx, *registry, *secret)
	if err != nil {
		return err
	}
	fmt.Printf("seeding %s\n", *registry)

	if _, err := s.register(ctx, accounts[0], "secure.com", "secure-cert.pem",
		"This is a secure certificate for secure.com"); err != nil {
		return err
	}

	serial, err := s.register(ctx, accounts[1], "insecure.com", "insecure-cert.pem",
		"This is a certificate for insecure.com (to be revoked)")
	if err != nil {
		return err
	}
	if _, err := s.clients[accounts[1]].Revoke(ctx, serial); err != nil {
		return fmt.Errorf("revoke %s: %w", serial, err)
	}
	fmt.Printf("  revoke %-20s %s\n", "insecure.com", serial)

	for i := 1; i <= *count; i++ {
		owner := accounts[rand.IntN(len(accounts))]
		domain := fmt.Sprintf("example%d.com", i)
		if _, err := s.register(ctx, owner, domain, fmt.Sprintf("test-cert-%d.pem", i),
			fmt.Sprintf("This is test certificate number %d", i)); err != nil {
			return err
		}
	}

	if *revoke > 0 {
		if err := s.revokeRandom(ctx, accounts[0], *revoke); err != nil {
			return err
		}
	}

	total, err := s.anon.TotalCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nseed complete: %d certificates registered\n", total)
	return nil
}

type seeder struct {
	anon     *client.Client
	verifier *client.Client
	clients  map[string]*client.Client
}

func newSeeder(ctx context.Context, registry, secret string) (*seeder, error) {
	anon, err := client.New(registry)
	if err != nil {
		return nil, err
	}
	s := &seeder{anon: anon, clients: make(map[string]*client.Client)}

	if s.verifier, err = s.accountClient(ctx, registry, secret, verifierAccount, identity.ScopeChallengeComplete); err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if s.clients[a], err = s.accountClient(ctx, registry, secret, a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *seeder) accountClient(ctx context.Context, registry, secret, account string, scopes ...string) (*client.Client, error) {
	tok, err := s.anon.IssueToken(ctx, secret, account, scopes)
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", account, err)
	}
	return client.New(registry, client.WithBearerToken(tok))
}

// register proves control of domain for owner, then uploads a demo file.
func (s *seeder) register(ctx context.Context, owner, domain, fileName, text string) (string, error) {
	c := s.clients[owner]

	ch, err := c.StartChallenge(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("start challenge for %s: %w", domain, err)
	}
	if _, err := s.verifier.CompleteChallenge(ctx, ch.ID.String(), ch.Value); err != nil {
		return "", fmt.Errorf("complete challenge for %s: %w", domain, err)
	}

	content := fmt.Sprintf("%s\nIssued to: %s\nDate: %s\n", text, owner, time.Now().UTC().Format(time.RFC3339))
	reg, err := c.Upload(ctx, fileName, []byte(content), domain, "")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", fileName, err)
	}
	fmt.Printf("  cert   %-20s %s  owner=%s\n", domain, reg.Certificate.SerialNumber, owner)
	return reg.Certificate.SerialNumber, nil
}

func (s *seeder) revokeRandom(ctx context.Context, owner string, n int) error {
	c := s.clients[owner]
	serials, err := c.CertificatesOf(ctx, owner)
	if err != nil {
		return err
	}
	rand.Shuffle(len(serials), func(i, j int) { serials[i], serials[j] = serials[j], serials[i] })

	revoked := 0
	for _, serial := range serials {
		if revoked == n {
			break
		}
		if _, err := c.Revoke(ctx, serial); err != nil {
			if errors.Is(err, client.ErrAlreadyRevoked) {
				continue
			}
			fmt.Printf("  failed to revoke %s: %v\n", serial, err)
			continue
		}
		revoked++
		fmt.Printf("  revoke %s\n", serial)
	}
	fmt.Printf("revoked %d of %d requested\n", revoked, n)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
