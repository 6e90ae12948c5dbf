// Package issuer drives ACME orders from creation through certificate
// download, proving control of each identifier with dns-01 challenges.
package issuer

import (
	"context"
	"crypto"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkerring/dnscert/acme"
	acmeclient "github.com/mkerring/dnscert/acme/client"
	"github.com/mkerring/dnscert/acme/keys"
	"github.com/mkerring/dnscert/acme/resources"
	"github.com/mkerring/dnscert/dns01"
)

const (
	// DEFAULT_AUTHORIZATION_TIMEOUT is the default wall-clock budget for one
	// authorization to conclude after its challenge is initiated.
	DEFAULT_AUTHORIZATION_TIMEOUT = 300 * time.Second
	// DEFAULT_FINALIZE_TIMEOUT is the default wall-clock budget for the
	// order to reach a terminal state after finalization.
	DEFAULT_FINALIZE_TIMEOUT = 300 * time.Second
	// DEFAULT_POLL_INTERVAL is the default starting interval between status
	// polls. The interval doubles up to MAX_POLL_INTERVAL when the server
	// doesn't send Retry-After.
	DEFAULT_POLL_INTERVAL = 5 * time.Second
	// MAX_POLL_INTERVAL caps the growing poll interval.
	MAX_POLL_INTERVAL = 60 * time.Second
	// DEFAULT_MAX_CONCURRENT_DNS bounds how many challenge records are
	// published and awaited at once.
	DEFAULT_MAX_CONCURRENT_DNS = 4
	// CLEANUP_TIMEOUT bounds the record cleanup that runs after an order
	// concludes. Cleanup uses its own context so it still runs when the
	// issue context was cancelled.
	CLEANUP_TIMEOUT = 60 * time.Second
)

// AuthorizationError reports that one domain's authorization can not
// succeed. It aborts the order it belongs to but not the rest of the run.
// The wrapped error is the CA's problem document or
// dns01.ErrPropagationTimeout.
type AuthorizationError struct {
	Domain string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("issuer: authorization for %q failed: %s", e.Domain, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// Domain pairs one certificate identifier with the DNS zone its challenge
// record is created in.
type Domain struct {
	// Identifier is a domain name the certificate covers. A leading "*."
	// requests a wildcard.
	Identifier string
	// Zone is the registered zone TXT records for this identifier are
	// created in (for "www.example.com" this is usually "example.com").
	Zone string
}

// Request describes one certificate to issue.
type Request struct {
	// Name is a short label for the certificate, used in logs and output
	// file names.
	Name string
	// Domains lists the identifiers the certificate must cover, each with
	// its record zone. At least one is required. Duplicates are dropped.
	Domains []Domain
}

// Result holds the product of a successful issuance.
type Result struct {
	// ChainPEM is the PEM encoded certificate chain as the CA returned it,
	// end-entity certificate first.
	ChainPEM []byte
	// KeyDER is the DER encoding of the certificate's private key.
	KeyDER []byte
}

// Options holds the tunables for an Issuer. The zero value gets defaults for
// every field.
type Options struct {
	// AuthorizationTimeout bounds the poll wait for one authorization to
	// leave pending.
	AuthorizationTimeout time.Duration
	// FinalizeTimeout bounds the pre-finalize ready wait and the
	// post-finalize poll for the order to turn valid.
	FinalizeTimeout time.Duration
	// PollInterval is the starting interval between status polls.
	PollInterval time.Duration
	// MaxConcurrentDNS bounds concurrent record publication and propagation
	// waits within one order.
	MaxConcurrentDNS int
	// GenerateKey produces the private key for each certificate. Defaults
	// to a fresh P-256 key per order. The account key is never used here.
	GenerateKey func() (crypto.Signer, error)
}

// Issuer issues certificates by driving dns-01 ACME orders through a Client
// and a challenge record Provisioner.
type Issuer struct {
	client      *acmeclient.Client
	provisioner dns01.Provisioner
	opts        Options
}

// New creates an Issuer from the given client, provisioner and options.
func New(client *acmeclient.Client, provisioner dns01.Provisioner, opts Options) *Issuer {
	if opts.AuthorizationTimeout == 0 {
		opts.AuthorizationTimeout = DEFAULT_AUTHORIZATION_TIMEOUT
	}
	if opts.FinalizeTimeout == 0 {
		opts.FinalizeTimeout = DEFAULT_FINALIZE_TIMEOUT
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DEFAULT_POLL_INTERVAL
	}
	if opts.MaxConcurrentDNS == 0 {
		opts.MaxConcurrentDNS = DEFAULT_MAX_CONCURRENT_DNS
	}
	if opts.GenerateKey == nil {
		opts.GenerateKey = func() (crypto.Signer, error) {
			return keys.NewSigner("ecdsa")
		}
	}

	return &Issuer{
		client:      client,
		provisioner: provisioner,
		opts:        opts,
	}
}

// Issue runs one certificate request end to end: create the order, satisfy
// every authorization with a dns-01 challenge, finalize with a fresh key's
// CSR, and download the chain. Challenge records are removed when the order
// concludes, whether it succeeded or not.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Result, error) {
	if len(req.Domains) == 0 {
		return nil, fmt.Errorf("issuer: request %q has no domains", req.Name)
	}

	// Deduplicate identifiers and remember each one's zone. Kept sorted so
	// orders and logs are stable.
	zones := make(map[string]string, len(req.Domains))
	var names []string
	for _, d := range req.Domains {
		if _, ok := zones[d.Identifier]; ok {
			continue
		}
		zones[d.Identifier] = d.Zone
		names = append(names, d.Identifier)
	}
	sort.Strings(names)

	log.Printf("Issuing certificate %q for identifiers [%s]\n",
		req.Name, strings.Join(names, ", "))

	order := &resources.Order{
		Identifiers: resources.DNSIdentifiers(names),
	}
	if err := i.client.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	// Remove every challenge record for this order on the way out, success
	// or failure. The slice is captured by closure so records from a failed
	// authorization phase are removed too.
	var records []dns01.Record
	defer func() { i.cleanupRecords(records) }()

	var err error
	records, err = i.authorize(ctx, order, zones)
	if err != nil {
		return nil, err
	}

	return i.finalize(ctx, order, names)
}

// authzTask carries one pending authorization through the challenge flow.
type authzTask struct {
	authz  *resources.Authorization
	chall  *resources.Challenge
	record dns01.Record
}

// authorize satisfies every authorization on the order: it publishes the
// challenge TXT records concurrently, waits for each to propagate, then
// serially tells the CA each challenge is ready and polls the authorization
// to a conclusion. The returned records cover every task that was built,
// whether or not its publication succeeded, so the caller can clean up
// conservatively.
func (i *Issuer) authorize(ctx context.Context, order *resources.Order, zones map[string]string) ([]dns01.Record, error) {
	var tasks []*authzTask
	var records []dns01.Record

	for _, authzURL := range order.Authorizations {
		authz := &resources.Authorization{ID: authzURL}
		if _, err := i.client.UpdateAuthz(ctx, authz); err != nil {
			return records, err
		}

		domain := authz.Identifier.Value
		switch authz.Status {
		case acme.STATUS_VALID:
			// Still valid from an earlier order. Nothing to prove.
			log.Printf("Authorization for %q is already valid\n", domain)
			continue
		case acme.STATUS_PENDING:
			// The normal case, handled below.
		default:
			return records, &AuthorizationError{
				Domain: domain,
				Err: fmt.Errorf("authorization %q has unexpected status %q",
					authz.ID, authz.Status),
			}
		}

		chall, ok := authz.DNS01Challenge()
		if !ok {
			return records, &AuthorizationError{
				Domain: domain,
				Err: fmt.Errorf("authorization %q offers no %q challenge",
					authz.ID, acme.CHALLENGE_DNS01),
			}
		}

		zone, ok := zones[domain]
		if !ok && authz.Wildcard {
			// A wildcard order comes back with the base name and the
			// Wildcard flag set.
			zone, ok = zones["*."+domain]
		}
		if !ok {
			return records, &AuthorizationError{
				Domain: domain,
				Err:    fmt.Errorf("no zone known for identifier %q", domain),
			}
		}

		keyAuth := keys.KeyAuth(i.client.Account.Signer, chall.Token)
		rec := dns01.NewRecord(zone, domain, keyAuth)
		records = append(records, rec)
		tasks = append(tasks, &authzTask{
			authz:  authz,
			chall:  chall,
			record: rec,
		})
	}

	if len(tasks) == 0 {
		log.Printf("Every authorization for order %q was already valid\n", order.ID)
		return records, nil
	}

	// Publish all records and wait for each to propagate, a bounded number
	// at a time. A record's task only finishes once its own propagation is
	// confirmed.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(i.opts.MaxConcurrentDNS)
	for _, task := range tasks {
		task := task
		eg.Go(func() error {
			domain := task.authz.Identifier.Value
			if err := i.provisioner.Publish(egCtx, task.record); err != nil {
				return &AuthorizationError{Domain: domain, Err: err}
			}
			if err := i.provisioner.AwaitPropagation(egCtx, task.record); err != nil {
				return &AuthorizationError{Domain: domain, Err: err}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return records, err
	}

	// Every record is visible. Tell the CA each challenge is ready and wait
	// for the authorizations to conclude, one at a time.
	for _, task := range tasks {
		domain := task.authz.Identifier.Value
		if err := i.client.InitiateChallenge(ctx, task.chall); err != nil {
			return records, &AuthorizationError{Domain: domain, Err: err}
		}
		if err := i.awaitAuthorization(ctx, task.authz); err != nil {
			return records, &AuthorizationError{Domain: domain, Err: err}
		}
	}

	return records, nil
}

// finalize refreshes the order, waits out the pending to ready transition,
// submits a CSR for a fresh key, polls the order to a terminal state, and
// downloads the certificate chain.
func (i *Issuer) finalize(ctx context.Context, order *resources.Order, names []string) (*Result, error) {
	if _, err := i.client.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	// The CA marks the order ready asynchronously after the last
	// authorization turns valid. Give it a moment.
	if err := i.awaitOrderReady(ctx, order); err != nil {
		return nil, err
	}

	certKey, err := i.opts.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("issuer: generating certificate key: %s", err)
	}

	csr, err := keys.NewCSR(certKey, names)
	if err != nil {
		return nil, fmt.Errorf("issuer: building CSR: %s", err)
	}

	if err := i.client.FinalizeOrder(ctx, order, csr); err != nil {
		return nil, err
	}

	if err := i.awaitOrderValid(ctx, order); err != nil {
		return nil, err
	}

	if order.Certificate == "" {
		return nil, fmt.Errorf(
			"issuer: order %q is valid but has no certificate URL", order.ID)
	}

	chainPEM, err := i.client.FetchCertificate(ctx, order.Certificate)
	if err != nil {
		return nil, err
	}

	keyDER, _, err := keys.MarshalSigner(certKey)
	if err != nil {
		return nil, err
	}

	log.Printf("Issued certificate for order %q\n", order.ID)
	return &Result{
		ChainPEM: chainPEM,
		KeyDER:   keyDER,
	}, nil
}

// cleanupRecords removes the given challenge records, logging failures
// instead of surfacing them. It runs on its own context so records are
// removed even when the issue context was cancelled.
func (i *Issuer) cleanupRecords(records []dns01.Record) {
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), CLEANUP_TIMEOUT)
	defer cancel()

	for _, rec := range records {
		if err := i.provisioner.Cleanup(ctx, rec); err != nil {
			log.Printf("Failed to clean up TXT record %q: %s\n", rec.FQDN, err)
		}
	}
}
