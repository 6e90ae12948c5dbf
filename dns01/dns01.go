// Package dns01 manages the DNS TXT records that satisfy ACME dns-01
// challenges: computing record names and values, publishing them through
// a DNS provider, and waiting for them to become visible to resolvers.
package dns01

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrPropagationTimeout is returned by AwaitPropagation when a published TXT
// record did not become visible before the propagation budget ran out.
var ErrPropagationTimeout = errors.New("dns01: TXT record did not propagate before the timeout")

// Record describes one dns-01 challenge TXT record.
type Record struct {
	// Zone is the registered zone the record is created in, without
	// a trailing dot (e.g. "example.com").
	Zone string
	// FQDN is the full record name: "_acme-challenge." followed by the
	// identifier being authorized.
	FQDN string
	// Value is the record text: the base64url encoded SHA-256 digest of the
	// challenge key authorization.
	Value string
}

// Name returns the record's name relative to its zone, the form most DNS
// provider APIs expect (e.g. "_acme-challenge.www" for
// "_acme-challenge.www.example.com" in zone "example.com").
func (r Record) Name() string {
	name := strings.TrimSuffix(r.FQDN, ".")
	return strings.TrimSuffix(name, "."+strings.TrimSuffix(r.Zone, "."))
}

// NewRecord builds the TXT record that satisfies a dns-01 challenge. The zone
// argument names the registered zone the record will be created in,
// identifier is the domain being authorized, and keyAuth is the challenge key
// authorization string.
func NewRecord(zone, identifier, keyAuth string) Record {
	return Record{
		Zone:  strings.TrimSuffix(zone, "."),
		FQDN:  ChallengeFQDN(identifier),
		Value: TXTValue(keyAuth),
	}
}

// ChallengeFQDN returns the name of the TXT record a dns-01 challenge for the
// given identifier is served from. A wildcard identifier is authorized at the
// base name, so a leading "*." is stripped.
//
// See https://tools.ietf.org/html/rfc8555#section-8.4
func ChallengeFQDN(identifier string) string {
	return "_acme-challenge." + strings.TrimPrefix(identifier, "*.")
}

// TXTValue returns the text a dns-01 challenge TXT record must hold for the
// given key authorization: the base64url (unpadded) SHA-256 digest of the key
// authorization string.
func TXTValue(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// Provisioner is the interface the order flow drives to manage challenge
// records. Publish creates a record, AwaitPropagation blocks until the record
// is visible in DNS (returning ErrPropagationTimeout when it never shows up),
// and Cleanup removes it. Cleanup must tolerate records that were already
// removed or never fully created.
type Provisioner interface {
	Publish(ctx context.Context, rec Record) error
	AwaitPropagation(ctx context.Context, rec Record) error
	Cleanup(ctx context.Context, rec Record) error
}

// Provider is the minimal record-update API a DNS host must offer for the
// Solver to provision challenge records. The name argument is relative to the
// zone (see Record.Name).
type Provider interface {
	CreateTXT(ctx context.Context, zone, name, value string) error
	DeleteTXT(ctx context.Context, zone, name string) error
}
