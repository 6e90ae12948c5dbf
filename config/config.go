// Package config loads and validates the TOML run configuration: which
// certificates to issue, through which DNS provider, against which ACME
// environment.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	env "github.com/caarlos0/env/v11"

	"github.com/mkerring/dnscert/issuer"
)

const (
	// LETSENCRYPT_PRODUCTION_URL is the Let's Encrypt production ACME
	// directory.
	LETSENCRYPT_PRODUCTION_URL = "https://acme-v02.api.letsencrypt.org/directory"
	// LETSENCRYPT_STAGING_URL is the Let's Encrypt staging ACME directory.
	// Staging issues throwaway certificates from an untrusted root and has
	// much friendlier rate limits.
	LETSENCRYPT_STAGING_URL = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Config is the top-level TOML configuration.
type Config struct {
	// OutputDir is the directory certificate chains and keys are written
	// to. Created if absent.
	OutputDir string `toml:"output_dir"`
	// Staging selects the Let's Encrypt staging environment instead of
	// production.
	Staging bool `toml:"staging"`
	// Contact is an optional email address registered with new ACME
	// accounts.
	Contact string `toml:"contact"`
	// Account is an optional file path the ACME account is saved to and
	// restored from. When empty an environment specific default is used so
	// staging and production accounts never mix.
	Account string `toml:"account"`
	// Providers selects and configures the DNS provider challenge records
	// are published through. Exactly one provider table must be present.
	Providers Providers `toml:"providers"`
	// Certificates lists the certificates to issue.
	Certificates []Certificate `toml:"certificates"`
}

// Providers holds the provider tables. Exactly one must be configured.
type Providers struct {
	Porkbun   *PorkbunProvider   `toml:"porkbun"`
	Challtest *ChalltestProvider `toml:"challtest"`
}

// PorkbunProvider configures the Porkbun DNS API. The keys may be left empty
// in the file and supplied through the PORKBUN_API_KEY and
// PORKBUN_SECRET_API_KEY environment variables instead; the environment wins
// when both are set.
type PorkbunProvider struct {
	APIKey       string `toml:"api_key"`
	SecretAPIKey string `toml:"secret_api_key"`
	// BaseURL overrides the production API endpoint. Mostly for tests.
	BaseURL string `toml:"base_url"`
}

// ChalltestProvider configures a pebble-challtestsrv management address for
// hermetic local runs (e.g. "http://127.0.0.1:8055").
type ChalltestProvider struct {
	Address string `toml:"address"`
	// DNSAddress is the test server's DNS port (e.g. "127.0.0.1:8053").
	// When set, propagation is checked against it directly instead of the
	// public DNS hierarchy, which never hears about test records.
	DNSAddress string `toml:"dns_address"`
}

// Certificate describes one certificate to issue: a name for the output
// files and the domain groups it covers.
type Certificate struct {
	Name    string        `toml:"name"`
	Domains []DomainGroup `toml:"domains"`
}

// DomainGroup is a zone root plus the hosts under it to include. A host of
// "." names the root itself; an absent hosts list means just the root.
type DomainGroup struct {
	Root  string   `toml:"root"`
	Hosts []string `toml:"hosts"`
}

// envOverrides collects secrets that may come from the environment instead
// of the config file.
type envOverrides struct {
	PorkbunAPIKey       string `env:"PORKBUN_API_KEY"`
	PorkbunSecretAPIKey string `env:"PORKBUN_SECRET_API_KEY"`
}

// Load reads the TOML file at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("config: reading %q: %s", path, err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv copies environment supplied secrets over the file's values. The
// environment only overrides a provider that the file selected.
func (c *Config) applyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("config: reading environment: %s", err)
	}

	if c.Providers.Porkbun != nil {
		if ov.PorkbunAPIKey != "" {
			c.Providers.Porkbun.APIKey = ov.PorkbunAPIKey
		}
		if ov.PorkbunSecretAPIKey != "" {
			c.Providers.Porkbun.SecretAPIKey = ov.PorkbunSecretAPIKey
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir must not be empty")
	}

	if len(c.Certificates) == 0 {
		return fmt.Errorf("config: at least one [[certificates]] entry is required")
	}
	seen := map[string]bool{}
	for _, cert := range c.Certificates {
		if cert.Name == "" {
			return fmt.Errorf("config: every certificate needs a non-empty name")
		}
		if seen[cert.Name] {
			return fmt.Errorf("config: duplicate certificate name %q", cert.Name)
		}
		seen[cert.Name] = true

		if len(cert.Domains) == 0 {
			return fmt.Errorf("config: certificate %q has no domains", cert.Name)
		}
		for _, group := range cert.Domains {
			if group.Root == "" {
				return fmt.Errorf("config: certificate %q has a domain group with an empty root", cert.Name)
			}
		}
	}

	count := 0
	if c.Providers.Porkbun != nil {
		count++
		if c.Providers.Porkbun.APIKey == "" || c.Providers.Porkbun.SecretAPIKey == "" {
			return fmt.Errorf("config: [providers.porkbun] needs api_key and secret_api_key " +
				"(in the file or as PORKBUN_API_KEY / PORKBUN_SECRET_API_KEY)")
		}
	}
	if c.Providers.Challtest != nil {
		count++
		if c.Providers.Challtest.Address == "" {
			return fmt.Errorf("config: [providers.challtest] needs an address")
		}
	}
	if count != 1 {
		return fmt.Errorf("config: exactly one provider table is required "+
			"([providers.porkbun] or [providers.challtest]), found %d", count)
	}

	return nil
}

// DirectoryURL returns the ACME directory URL implied by the staging flag.
func (c *Config) DirectoryURL() string {
	if c.Staging {
		return LETSENCRYPT_STAGING_URL
	}
	return LETSENCRYPT_PRODUCTION_URL
}

// AccountPath returns the configured account file path, or an environment
// specific default so a staging account is never replayed against
// production.
func (c *Config) AccountPath() string {
	if c.Account != "" {
		return c.Account
	}
	if c.Staging {
		return "acme-account-staging.json"
	}
	return "acme-account.json"
}

// Identifiers expands the certificate's domain groups into the identifiers
// the order must cover, each paired with the zone its challenge record
// belongs in. A host of "." (or an absent hosts list) names the root itself;
// any other host is prefixed onto the root. Duplicates are dropped.
func (cert *Certificate) Identifiers() []issuer.Domain {
	var out []issuer.Domain
	seen := map[string]bool{}
	add := func(identifier, zone string) {
		if seen[identifier] {
			return
		}
		seen[identifier] = true
		out = append(out, issuer.Domain{Identifier: identifier, Zone: zone})
	}

	for _, group := range cert.Domains {
		if len(group.Hosts) == 0 {
			add(group.Root, group.Root)
			continue
		}
		for _, host := range group.Hosts {
			if host == "." {
				add(group.Root, group.Root)
			} else {
				add(fmt.Sprintf("%s.%s", host, group.Root), group.Root)
			}
		}
	}
	return out
}
