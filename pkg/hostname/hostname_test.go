package hostname_test

import (
	"errors"
	"testing"

	"github.com/jmerrifield20/certledger/pkg/hostname"
)

func TestNormalize_valid(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"secure.com", "secure.com"},
		{"  Secure.Example.COM ", "secure.example.com"},
		{"https://secure.example.com", "secure.example.com"},
		{"http://secure.example.com/login?next=/", "secure.example.com"},
		{"https://user:pw@secure.example.com:8443/path#frag", "secure.example.com"},
		{"secure.example.com/some/path", "secure.example.com"},
		{"secure.example.com.", "secure.example.com"},
		{"xn--bcher-kva.example", "xn--bcher-kva.example"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got, err := hostname.Normalize(tc.input)
			if err != nil {
				t.Fatalf("Normalize(%q): unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q): got %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalize_empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := hostname.Normalize(in); !errors.Is(err, hostname.ErrEmpty) {
			t.Errorf("Normalize(%q): got %v, want ErrEmpty", in, err)
		}
	}
}

func TestNormalize_malformed(t *testing.T) {
	cases := []string{
		"not a url",
		"localhost",
		"https://",
		"exa mple.com",
		"-bad.example.com",
		"bad-.example.com",
		"under_score.example.com",
		"double..dot.com",
		"https://%zz.com",
	}

	for _, in := range cases {
		in := in
		t.Run(in, func(t *testing.T) {
			if _, err := hostname.Normalize(in); !errors.Is(err, hostname.ErrMalformed) {
				t.Errorf("Normalize(%q): got %v, want ErrMalformed", in, err)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !hostname.Equal("Secure.COM", "secure.com.") {
		t.Error("expected case- and root-dot-insensitive match")
	}
	if hostname.Equal("secure.com", "insecure.com") {
		t.Error("distinct hosts must not be equal")
	}
}
