// Package dns holds the DNS side of domain-ownership challenges: where the
// TXT record lives, what it contains, and how to read it back.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	txtHostPrefix   = "_certledger-challenge."
	txtRecordPrefix = "certledger-challenge="
)

// TXTResolver looks up TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, host string) ([]string, error)
}

// TXTHost returns the DNS hostname where the TXT record must be placed for domain.
func TXTHost(domain string) string {
	return txtHostPrefix + strings.TrimSuffix(domain, ".")
}

// TXTRecord returns the TXT record value that publishes a challenge value.
func TXTRecord(value string) string {
	return txtRecordPrefix + value
}

// ParseTXTRecord extracts the challenge value from a TXT record. ok is false
// for records that are not challenge records.
func ParseTXTRecord(record string) (value string, ok bool) {
	record = strings.TrimSpace(strings.Trim(record, `"`))
	if !strings.HasPrefix(record, txtRecordPrefix) {
		return "", false
	}
	value = strings.TrimPrefix(record, txtRecordPrefix)
	return value, value != ""
}

// Lookup returns every challenge value currently published for domain.
// A nil resolver uses net.DefaultResolver.
func Lookup(ctx context.Context, resolver TXTResolver, domain string) ([]string, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	host := TXTHost(domain)

	txts, err := resolver.LookupTXT(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w at %s", ErrRecordNotFound, host)
		}
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}

	var values []string
	for _, txt := range txts {
		if v, ok := ParseTXTRecord(txt); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrRecordNotFound, host)
	}
	return values, nil
}

// Verify checks that expected is published for domain.
func Verify(ctx context.Context, resolver TXTResolver, domain, expected string) error {
	values, err := Lookup(ctx, resolver, domain)
	if err != nil {
		return err
	}
	for _, v := range values {
		if v == expected {
			return nil
		}
	}
	return fmt.Errorf("%w at %s; expected %q", ErrRecordNotFound, TXTHost(domain), TXTRecord(expected))
}

// ErrRecordNotFound is returned when no matching challenge TXT record is published.
var ErrRecordNotFound = errors.New("challenge TXT record not found")
