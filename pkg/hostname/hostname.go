// Package hostname normalizes user-supplied domain input into the canonical
// form used as the registry's lookup key.
//
// Accepted input ranges from bare names ("Secure.Example.com") to full URLs
// ("https://secure.example.com:8443/login?x=1"). The scheme, userinfo, port,
// path, query and fragment are discarded, the host is lower-cased and any
// trailing root dot is removed.
package hostname

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	maxHostLen  = 253
	maxLabelLen = 63
)

// Normalize returns the canonical host for input.
// It fails with ErrEmpty for blank input and ErrMalformed for anything that
// does not contain a syntactically valid multi-label host name.
func Normalize(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrEmpty
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformed, input)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if err := validate(host); err != nil {
		return "", fmt.Errorf("%w: %q: %s", ErrMalformed, input, err.Error())
	}
	return host, nil
}

// MustNormalize is like Normalize but panics on error. Useful in tests.
func MustNormalize(input string) string {
	h, err := Normalize(input)
	if err != nil {
		panic(err)
	}
	return h
}

// Equal reports whether a and b name the same host, ignoring case.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

func validate(host string) error {
	if host == "" {
		return errors.New("missing host")
	}
	if len(host) > maxHostLen {
		return fmt.Errorf("host longer than %d characters", maxHostLen)
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return errors.New("host must contain at least two labels")
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return errors.New("empty label")
	}
	if len(label) > maxLabelLen {
		return fmt.Errorf("label %q longer than %d characters", label, maxLabelLen)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return fmt.Errorf("label %q contains invalid character %q", label, r)
		}
	}
	return nil
}

var (
	// ErrEmpty is returned for blank input.
	ErrEmpty = errors.New("empty domain")
	// ErrMalformed is returned when input does not contain a valid host name.
	ErrMalformed = errors.New("malformed domain")
)
