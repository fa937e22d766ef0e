// Package dnspublish places challenge TXT records through a DNS provider's
// API, so an operator holding provider credentials can complete a challenge
// without editing the zone by hand.
package dnspublish

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmerrifield20/certledger/internal/dns"
	"github.com/jmerrifield20/certledger/internal/registry/model"
)

// RecordTypeTXT is the only record type published.
const RecordTypeTXT = "TXT"

// Publisher manages TXT records at a DNS provider.
type Publisher interface {
	// Name returns the provider name.
	Name() string
	// PublishTXT creates or updates the TXT record at fqdn to value.
	PublishTXT(ctx context.Context, fqdn, value string) error
	// RemoveTXT deletes the TXT record at fqdn. A missing record is not an error.
	RemoveTXT(ctx context.Context, fqdn string) error
}

// SplitZone splits fqdn into its hosted zone and the relative record name
// within it. With zone empty the last two labels are taken as the zone,
// which is wrong under multi-label suffixes such as co.uk; callers hosting
// such zones pass the zone explicitly.
func SplitZone(fqdn, zone string) (string, string, error) {
	fqdn = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(fqdn)), ".")
	zone = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(zone)), ".")
	labels := strings.Split(fqdn, ".")
	if len(labels) < 2 || labels[0] == "" {
		return "", "", fmt.Errorf("cannot split %q into zone and record", fqdn)
	}

	var rr string
	switch {
	case zone == "":
		zone = strings.Join(labels[len(labels)-2:], ".")
		rr = strings.Join(labels[:len(labels)-2], ".")
	case fqdn == zone:
	case strings.HasSuffix(fqdn, "."+zone):
		rr = strings.TrimSuffix(fqdn, "."+zone)
	default:
		return "", "", fmt.Errorf("%q is not inside zone %q", fqdn, zone)
	}
	if rr == "" {
		rr = "@"
	}
	return zone, rr, nil
}

// Challenge publishes the TXT record proving ch.
func Challenge(ctx context.Context, p Publisher, ch *model.Challenge) error {
	host := dns.TXTHost(ch.Domain)
	if err := p.PublishTXT(ctx, host, dns.TXTRecord(ch.Value)); err != nil {
		return fmt.Errorf("%s: publish %s: %w", p.Name(), host, err)
	}
	return nil
}

// Cleanup removes the TXT record for ch.
func Cleanup(ctx context.Context, p Publisher, ch *model.Challenge) error {
	host := dns.TXTHost(ch.Domain)
	if err := p.RemoveTXT(ctx, host); err != nil {
		return fmt.Errorf("%s: remove %s: %w", p.Name(), host, err)
	}
	return nil
}
