package dns01

import (
	"context"
	"errors"
	"log"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

const (
	// DEFAULT_PROPAGATION_TIMEOUT is the default total budget for one
	// record's propagation wait.
	DEFAULT_PROPAGATION_TIMEOUT = 300 * time.Second
	// DEFAULT_PROPAGATION_INTERVAL is the default starting interval between
	// propagation checks.
	DEFAULT_PROPAGATION_INTERVAL = 10 * time.Second
)

// errNotPropagated marks a check that found no matching TXT record yet. It
// never escapes AwaitPropagation.
var errNotPropagated = errors.New("expected TXT record not visible yet")

// SolverConfig holds the tunables for a Solver.
type SolverConfig struct {
	// PropagationTimeout bounds the total wait for one record to become
	// visible. Zero means DEFAULT_PROPAGATION_TIMEOUT.
	PropagationTimeout time.Duration
	// PropagationInterval is the starting interval between propagation
	// checks. The interval grows while the record stays invisible. Zero
	// means DEFAULT_PROPAGATION_INTERVAL.
	PropagationInterval time.Duration
	// Nameservers seed zone and NS discovery for propagation checks. Each
	// entry must include a port. If empty the system resolvers (or the
	// public defaults) are used.
	Nameservers []string
	// RecursiveOnly skips authoritative nameserver discovery and queries the
	// configured Nameservers directly. Useful against a local mock DNS
	// server that isn't delegated to.
	RecursiveOnly bool
}

// Solver provisions dns-01 challenge records through a DNS Provider and
// confirms their propagation with direct DNS queries. It implements the
// Provisioner interface.
type Solver struct {
	provider Provider
	config   SolverConfig
}

// NewSolver returns a Solver that manages records through the given Provider.
func NewSolver(provider Provider, config SolverConfig) *Solver {
	if config.PropagationTimeout == 0 {
		config.PropagationTimeout = DEFAULT_PROPAGATION_TIMEOUT
	}
	if config.PropagationInterval == 0 {
		config.PropagationInterval = DEFAULT_PROPAGATION_INTERVAL
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = RecursiveNameservers
	}
	return &Solver{
		provider: provider,
		config:   config,
	}
}

// Publish creates the TXT record with the Solver's Provider.
func (s *Solver) Publish(ctx context.Context, rec Record) error {
	log.Printf("Publishing TXT record %q (zone %q) with value %q\n",
		rec.FQDN, rec.Zone, rec.Value)
	return s.provider.CreateTXT(ctx, rec.Zone, rec.Name(), rec.Value)
}

// AwaitPropagation blocks until every queried nameserver returns the record's
// value, the propagation budget runs out (ErrPropagationTimeout), or the
// context is cancelled. Transient DNS failures are treated the same as "not
// visible yet" and retried.
func (s *Solver) AwaitPropagation(ctx context.Context, rec Record) error {
	fqdn := ToFqdn(rec.FQDN)
	log.Printf("Waiting for %q TXT record to propagate\n", rec.FQDN)

	check := func() error {
		found, err := CheckPropagation(
			fqdn, rec.Value, s.config.Nameservers, s.config.RecursiveOnly)
		if err != nil {
			return err
		}
		if !found {
			return errNotPropagated
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.PropagationInterval
	bo.MaxInterval = 4 * s.config.PropagationInterval
	bo.MaxElapsedTime = s.config.PropagationTimeout

	if err := backoff.Retry(check, backoff.WithContext(bo, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Printf("Gave up waiting for %q to propagate: %s\n", rec.FQDN, err)
		return ErrPropagationTimeout
	}

	log.Printf("TXT record %q propagated\n", rec.FQDN)
	return nil
}

// Cleanup deletes the TXT record with the Solver's Provider.
func (s *Solver) Cleanup(ctx context.Context, rec Record) error {
	log.Printf("Cleaning up TXT record %q (zone %q)\n", rec.FQDN, rec.Zone)
	return s.provider.DeleteTXT(ctx, rec.Zone, rec.Name())
}
