// dnscert issues TLS certificates from an ACME CA by fulfilling dns-01
// challenges through a DNS provider API.
package main

import (
	"context"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	acmeclient "github.com/mkerring/dnscert/acme/client"
	"github.com/mkerring/dnscert/cmd"
	"github.com/mkerring/dnscert/config"
	"github.com/mkerring/dnscert/dns01"
	"github.com/mkerring/dnscert/dns01/challtest"
	"github.com/mkerring/dnscert/dns01/porkbun"
	"github.com/mkerring/dnscert/issuer"
)

const (
	CONFIG_DEFAULT    = "dnscert.toml"
	DIRECTORY_DEFAULT = ""
	CA_DEFAULT        = ""
	CONTACT_DEFAULT   = ""
	ACCOUNT_DEFAULT   = ""
)

func main() {
	configPath := flag.String(
		"config",
		CONFIG_DEFAULT,
		"Path to the TOML configuration file")

	directory := flag.String(
		"directory",
		DIRECTORY_DEFAULT,
		"Directory URL for the ACME server (overrides the config's staging flag)")

	caCert := flag.String(
		"ca",
		CA_DEFAULT,
		"Optional CA certificate(s) for verifying ACME server HTTPS (e.g. Pebble's test CA)")

	email := flag.String(
		"contact",
		CONTACT_DEFAULT,
		"Contact email address for new ACME accounts (overrides the config)")

	acctPath := flag.String(
		"account",
		ACCOUNT_DEFAULT,
		"JSON filepath to save/restore the ACME account to (overrides the config)")

	revokePath := flag.String(
		"revoke",
		"",
		"Revoke the PEM certificate at the given path with the account key, then exit")

	revokeReason := flag.Int(
		"reason",
		0,
		"RFC 5280 revocation reason code used with -revoke")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	cmd.FailOnError(err, "Unable to load configuration")

	directoryURL := cfg.DirectoryURL()
	if *directory != "" {
		directoryURL = *directory
	}
	contact := cfg.Contact
	if *email != "" {
		contact = *email
	}
	accountPath := cfg.AccountPath()
	if *acctPath != "" {
		accountPath = *acctPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd.CatchSignals(cancel)

	client, err := acmeclient.NewClient(ctx, acmeclient.ClientConfig{
		DirectoryURL: directoryURL,
		CACert:       *caCert,
		ContactEmail: contact,
		AccountPath:  accountPath,
	})
	cmd.FailOnError(err, "Unable to create ACME client")

	if *revokePath != "" {
		cmd.FailOnError(
			revoke(ctx, client, *revokePath, *revokeReason),
			"Unable to revoke certificate")
		return
	}

	provider, err := buildProvider(ctx, cfg)
	cmd.FailOnError(err, "Unable to create DNS provider")

	solver := dns01.NewSolver(provider, solverConfig(cfg))
	issr := issuer.New(client, solver, issuer.Options{})

	failed := 0
	for i := range cfg.Certificates {
		cert := &cfg.Certificates[i]

		result, err := issr.Issue(ctx, issuer.Request{
			Name:    cert.Name,
			Domains: cert.Identifiers(),
		})
		if err != nil {
			log.Printf("Issuing certificate %q failed: %s\n", cert.Name, err)
			failed++
			if ctx.Err() != nil {
				// Interrupted. Leave the remaining certificates alone.
				break
			}
			continue
		}

		if err := writeResult(cfg.OutputDir, cert.Name, result); err != nil {
			log.Printf("Writing certificate %q failed: %s\n", cert.Name, err)
			failed++
			continue
		}
		log.Printf("Certificate %q written to %s\n",
			cert.Name, filepath.Join(cfg.OutputDir, cert.Name+".pem"))
	}

	if failed > 0 {
		log.Fatalf("[!] %d of %d certificates failed", failed, len(cfg.Certificates))
	}
}

// buildProvider constructs the DNS provider selected by the configuration.
// The Porkbun provider is pinged once so bad credentials fail the run up
// front instead of mid-order.
func buildProvider(ctx context.Context, cfg *config.Config) (dns01.Provider, error) {
	if p := cfg.Providers.Porkbun; p != nil {
		provider, err := porkbun.New(porkbun.Config{
			APIKey:       p.APIKey,
			SecretAPIKey: p.SecretAPIKey,
			BaseURL:      p.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		ip, err := provider.Ping(ctx)
		if err != nil {
			return nil, fmt.Errorf("porkbun credential check failed: %s", err)
		}
		log.Printf("Porkbun API reachable. Our IP: %s\n", ip)
		return provider, nil
	}

	return challtest.New(cfg.Providers.Challtest.Address)
}

// solverConfig derives the propagation checking setup from the provider
// choice. Records published to a local challenge test server are only
// visible to its own DNS port.
func solverConfig(cfg *config.Config) dns01.SolverConfig {
	var sc dns01.SolverConfig
	if t := cfg.Providers.Challtest; t != nil && t.DNSAddress != "" {
		sc.Nameservers = []string{t.DNSAddress}
		sc.RecursiveOnly = true
	}
	return sc
}

func writeResult(outputDir, name string, result *issuer.Result) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	chainPath := filepath.Join(outputDir, name+".pem")
	if err := os.WriteFile(chainPath, result.ChainPEM, 0644); err != nil {
		return err
	}

	keyPath := filepath.Join(outputDir, name+".der")
	return os.WriteFile(keyPath, result.KeyDER, 0600)
}

// revoke reads a PEM certificate from disk and revokes it with the active
// account's key.
func revoke(ctx context.Context, client *acmeclient.Client, path string, reason int) error {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%q does not start with a PEM CERTIFICATE block", path)
	}

	if err := client.RevokeCertificate(ctx, block.Bytes, reason); err != nil {
		return err
	}
	log.Printf("Revoked certificate %q\n", path)
	return nil
}
