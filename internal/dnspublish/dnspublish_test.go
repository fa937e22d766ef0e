package dnspublish_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/certledger/internal/dnspublish"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	records map[string]string
	err     error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) PublishTXT(_ context.Context, fqdn, value string) error {
	if p.err != nil {
		return p.err
	}
	p.records[fqdn] = value
	return nil
}

func (p *recordingPublisher) RemoveTXT(_ context.Context, fqdn string) error {
	delete(p.records, fqdn)
	return nil
}

func TestSplitZone(t *testing.T) {
	tests := []struct {
		in, hosted, zone, rr string
	}{
		{"_certledger-challenge.secure.com", "", "secure.com", "_certledger-challenge"},
		{"_certledger-challenge.www.secure.com.", "", "secure.com", "_certledger-challenge.www"},
		{"Secure.COM", "", "secure.com", "@"},
		{"_certledger-challenge.example.co.uk", "example.co.uk", "example.co.uk", "_certledger-challenge"},
		{"_certledger-challenge.www.example.co.uk", "Example.co.uk.", "example.co.uk", "_certledger-challenge.www"},
		{"example.co.uk", "example.co.uk", "example.co.uk", "@"},
	}
	for _, tc := range tests {
		zone, rr, err := dnspublish.SplitZone(tc.in, tc.hosted)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.zone, zone, tc.in)
		assert.Equal(t, tc.rr, rr, tc.in)
	}

	_, _, err := dnspublish.SplitZone("localhost", "")
	require.Error(t, err)
	_, _, err = dnspublish.SplitZone("_certledger-challenge.other.co.uk", "example.co.uk")
	require.Error(t, err)
	// A suffix match must fall on a label boundary.
	_, _, err = dnspublish.SplitZone("_certledger-challenge.badexample.co.uk", "example.co.uk")
	require.Error(t, err)
}

func TestChallengeAndCleanup(t *testing.T) {
	p := &recordingPublisher{records: map[string]string{}}
	ch := &model.Challenge{ID: uuid.New(), Domain: "secure.com", Value: "tok"}

	require.NoError(t, dnspublish.Challenge(context.Background(), p, ch))
	assert.Equal(t, "certledger-challenge=tok", p.records["_certledger-challenge.secure.com"])

	require.NoError(t, dnspublish.Cleanup(context.Background(), p, ch))
	assert.Empty(t, p.records)
}

func TestChallenge_wrapsProviderError(t *testing.T) {
	boom := errors.New("quota exceeded")
	p := &recordingPublisher{records: map[string]string{}, err: boom}
	ch := &model.Challenge{ID: uuid.New(), Domain: "secure.com", Value: "tok"}

	err := dnspublish.Challenge(context.Background(), p, ch)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "recording")
}
