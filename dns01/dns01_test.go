package dns01

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTXTValue(t *testing.T) {
	testCases := []struct {
		name     string
		keyAuth  string
		expected string
	}{
		{
			name:     "empty key authorization",
			keyAuth:  "",
			expected: "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU",
		},
		{
			name:     "short input",
			keyAuth:  "token.thumbprint",
			expected: "61rBZ_4knHblO0MNoxFsXZ_eTFUHum0B6IVRbhvUn5I",
		},
		{
			name:     "token abc123 with thumbprint xyz789",
			keyAuth:  "abc123.xyz789",
			expected: "G-8xfPds2qvDProC32UqmRCUpamN1sDQcg3l4729e08",
		},
		{
			name:     "realistic key authorization",
			keyAuth:  "LoqXcYV8q5ONbJQxbmR7SCTNo3tiAXDfowyjxAjEuX0.9jg46WB3rR_AHD-EBXdN7cBkH1WOu0tA3M9fm21mqTI",
			expected: "LPsIwTo7o8BoG0-vjCyGQGBWSVIPxI-i_X336eUOQZo",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, TXTValue(tc.keyAuth))
		})
	}
}

func TestChallengeFQDN(t *testing.T) {
	require.Equal(t,
		"_acme-challenge.www.example.com", ChallengeFQDN("www.example.com"))
	// A wildcard is authorized at the base name.
	require.Equal(t,
		"_acme-challenge.example.com", ChallengeFQDN("*.example.com"))
}

func TestRecordName(t *testing.T) {
	testCases := []struct {
		name     string
		rec      Record
		expected string
	}{
		{
			name:     "subdomain",
			rec:      Record{Zone: "example.com", FQDN: "_acme-challenge.www.example.com"},
			expected: "_acme-challenge.www",
		},
		{
			name:     "apex",
			rec:      Record{Zone: "example.com", FQDN: "_acme-challenge.example.com"},
			expected: "_acme-challenge",
		},
		{
			name:     "trailing dot on the FQDN",
			rec:      Record{Zone: "example.com", FQDN: "_acme-challenge.www.example.com."},
			expected: "_acme-challenge.www",
		},
		{
			name:     "trailing dot on the zone",
			rec:      Record{Zone: "example.com.", FQDN: "_acme-challenge.www.example.com"},
			expected: "_acme-challenge.www",
		},
		{
			name:     "deep subdomain",
			rec:      Record{Zone: "example.com", FQDN: "_acme-challenge.a.b.example.com"},
			expected: "_acme-challenge.a.b",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.rec.Name())
		})
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("example.com.", "*.example.com", "token.thumbprint")
	require.Equal(t, "example.com", rec.Zone)
	require.Equal(t, "_acme-challenge.example.com", rec.FQDN)
	require.Equal(t, "61rBZ_4knHblO0MNoxFsXZ_eTFUHum0B6IVRbhvUn5I", rec.Value)
	require.Equal(t, "_acme-challenge", rec.Name())
}

// recordedCall captures one Provider method invocation.
type recordedCall struct {
	zone, name, value string
}

// fakeProvider records CreateTXT/DeleteTXT calls in memory.
type fakeProvider struct {
	mu      sync.Mutex
	err     error
	creates []recordedCall
	deletes []recordedCall
}

func (f *fakeProvider) CreateTXT(ctx context.Context, zone, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.creates = append(f.creates, recordedCall{zone: zone, name: name, value: value})
	return nil
}

func (f *fakeProvider) DeleteTXT(ctx context.Context, zone, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, recordedCall{zone: zone, name: name})
	return nil
}

func TestNewSolverDefaults(t *testing.T) {
	solver := NewSolver(&fakeProvider{}, SolverConfig{})
	require.Equal(t, DEFAULT_PROPAGATION_TIMEOUT, solver.config.PropagationTimeout)
	require.Equal(t, DEFAULT_PROPAGATION_INTERVAL, solver.config.PropagationInterval)
	require.Equal(t, RecursiveNameservers, solver.config.Nameservers)
	require.False(t, solver.config.RecursiveOnly)
}

func TestSolverPublish(t *testing.T) {
	provider := &fakeProvider{}
	solver := NewSolver(provider, SolverConfig{})

	rec := NewRecord("example.com", "www.example.com", "key-auth")
	require.NoError(t, solver.Publish(context.Background(), rec))
	require.Equal(t, []recordedCall{
		{zone: "example.com", name: "_acme-challenge.www", value: TXTValue("key-auth")},
	}, provider.creates)
	require.Empty(t, provider.deletes)
}

func TestSolverCleanup(t *testing.T) {
	provider := &fakeProvider{}
	solver := NewSolver(provider, SolverConfig{})

	rec := NewRecord("example.com", "www.example.com", "key-auth")
	require.NoError(t, solver.Cleanup(context.Background(), rec))
	require.Equal(t, []recordedCall{
		{zone: "example.com", name: "_acme-challenge.www"},
	}, provider.deletes)
	require.Empty(t, provider.creates)
}

func TestSolverProviderErrors(t *testing.T) {
	apiDown := errors.New("provider API down")
	provider := &fakeProvider{err: apiDown}
	solver := NewSolver(provider, SolverConfig{})

	rec := NewRecord("example.com", "www.example.com", "key-auth")
	require.ErrorIs(t, solver.Publish(context.Background(), rec), apiDown)
	require.ErrorIs(t, solver.Cleanup(context.Background(), rec), apiDown)
}
