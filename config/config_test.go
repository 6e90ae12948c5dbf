package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkerring/dnscert/issuer"
)

const minimalConfig = `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"

[[certificates.domains]]
root = "example.com"
hosts = [".", "www"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dnscert.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, "out", cfg.OutputDir)
	require.False(t, cfg.Staging)
	require.Nil(t, cfg.Providers.Porkbun)
	require.NotNil(t, cfg.Providers.Challtest)
	require.Equal(t, "http://127.0.0.1:8055", cfg.Providers.Challtest.Address)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, "web", cfg.Certificates[0].Name)
	require.Equal(t, []DomainGroup{
		{Root: "example.com", Hosts: []string{".", "www"}},
	}, cfg.Certificates[0].Domains)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent.toml")
}

func TestLoadValidation(t *testing.T) {
	// Make sure the developer's environment can't satisfy the porkbun case.
	t.Setenv("PORKBUN_API_KEY", "")
	t.Setenv("PORKBUN_SECRET_API_KEY", "")

	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name: "no output dir",
			config: `
[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "output_dir",
		},
		{
			name: "no certificates",
			config: `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"
`,
			wantErr: "at least one [[certificates]]",
		},
		{
			name: "unnamed certificate",
			config: `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "non-empty name",
		},
		{
			name: "duplicate certificate name",
			config: `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.org"
`,
			wantErr: "duplicate certificate name",
		},
		{
			name: "certificate without domains",
			config: `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"
`,
			wantErr: "has no domains",
		},
		{
			name: "domain group without root",
			config: `
output_dir = "out"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"
[[certificates.domains]]
hosts = ["www"]
`,
			wantErr: "empty root",
		},
		{
			name: "no provider",
			config: `
output_dir = "out"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "exactly one provider",
		},
		{
			name: "two providers",
			config: `
output_dir = "out"

[providers.porkbun]
api_key = "pk1_k"
secret_api_key = "sk1_k"

[providers.challtest]
address = "http://127.0.0.1:8055"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "exactly one provider",
		},
		{
			name: "porkbun without keys",
			config: `
output_dir = "out"

[providers.porkbun]

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "api_key and secret_api_key",
		},
		{
			name: "challtest without address",
			config: `
output_dir = "out"

[providers.challtest]

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`,
			wantErr: "needs an address",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.config))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadPorkbunFromFile(t *testing.T) {
	t.Setenv("PORKBUN_API_KEY", "")
	t.Setenv("PORKBUN_SECRET_API_KEY", "")

	cfg, err := Load(writeConfig(t, `
output_dir = "out"

[providers.porkbun]
api_key = "pk1_file"
secret_api_key = "sk1_file"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`))
	require.NoError(t, err)
	require.Equal(t, "pk1_file", cfg.Providers.Porkbun.APIKey)
	require.Equal(t, "sk1_file", cfg.Providers.Porkbun.SecretAPIKey)
}

func TestLoadPorkbunFromEnv(t *testing.T) {
	t.Setenv("PORKBUN_API_KEY", "pk1_env")
	t.Setenv("PORKBUN_SECRET_API_KEY", "sk1_env")

	// The file selects the provider but leaves the secrets to the
	// environment.
	cfg, err := Load(writeConfig(t, `
output_dir = "out"

[providers.porkbun]

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`))
	require.NoError(t, err)
	require.Equal(t, "pk1_env", cfg.Providers.Porkbun.APIKey)
	require.Equal(t, "sk1_env", cfg.Providers.Porkbun.SecretAPIKey)
}

func TestLoadPorkbunEnvBeatsFile(t *testing.T) {
	t.Setenv("PORKBUN_API_KEY", "pk1_env")
	t.Setenv("PORKBUN_SECRET_API_KEY", "")

	cfg, err := Load(writeConfig(t, `
output_dir = "out"

[providers.porkbun]
api_key = "pk1_file"
secret_api_key = "sk1_file"

[[certificates]]
name = "web"
[[certificates.domains]]
root = "example.com"
`))
	require.NoError(t, err)
	require.Equal(t, "pk1_env", cfg.Providers.Porkbun.APIKey)
	require.Equal(t, "sk1_file", cfg.Providers.Porkbun.SecretAPIKey)
}

func TestLoadEnvIgnoredWithoutPorkbunTable(t *testing.T) {
	t.Setenv("PORKBUN_API_KEY", "pk1_env")
	t.Setenv("PORKBUN_SECRET_API_KEY", "sk1_env")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.Nil(t, cfg.Providers.Porkbun)
}

func TestDirectoryURL(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, LETSENCRYPT_PRODUCTION_URL, cfg.DirectoryURL())
	cfg.Staging = true
	require.Equal(t, LETSENCRYPT_STAGING_URL, cfg.DirectoryURL())
}

func TestAccountPath(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, "acme-account.json", cfg.AccountPath())

	cfg.Staging = true
	require.Equal(t, "acme-account-staging.json", cfg.AccountPath())

	cfg.Account = "state/account.json"
	require.Equal(t, "state/account.json", cfg.AccountPath())
}

func TestCertificateIdentifiers(t *testing.T) {
	cert := &Certificate{
		Name: "web",
		Domains: []DomainGroup{
			{Root: "example.com", Hosts: []string{".", "www", "www"}},
			{Root: "example.org"},
			{Root: "example.net", Hosts: []string{"*"}},
		},
	}

	require.Equal(t, []issuer.Domain{
		{Identifier: "example.com", Zone: "example.com"},
		{Identifier: "www.example.com", Zone: "example.com"},
		{Identifier: "example.org", Zone: "example.org"},
		{Identifier: "*.example.net", Zone: "example.net"},
	}, cert.Identifiers())
}
