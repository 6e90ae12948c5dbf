// Package client provides a low-level ACME v2 client.
package client

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"strings"

	"github.com/mkerring/dnscert/acme/resources"
	acmenet "github.com/mkerring/dnscert/net"
)

// Client allows interaction with an ACME server. Each client holds one
// Account whose keypair authenticates all signed requests. Internally the
// Client uses the net package to perform HTTP requests to the ACME server.
//
// The Client's DirectoryURL field is a parsed *url.URL for the ACME server's
// directory. The client configures itself with the correct URLs for ACME
// operations using the directory resource accessed at this URL. See
// https://tools.ietf.org/html/rfc8555#section-7.1.1
//
// Orders, authorizations, challenges and certificates are always fetched
// with POST-as-GET requests authenticated by the Account key.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL.
	DirectoryURL *url.URL
	// A pointer to the Account used for signing JWS for ACME requests.
	Account *resources.Account
	// the net object is used to make HTTP GET/POST/HEAD requests to the ACME
	// server.
	net *acmenet.ACMENet
	// directory is an in-memory representation of the ACME server's directory
	// object.
	directory map[string]interface{}
	// nonce is the value of the last-seen Replay-Nonce header from the ACME
	// server's HTTP responses. It will be used for the next signing operation.
	nonce string
}

// ClientConfig contains configuration options provided to NewClient when
// creating a Client instance.
type ClientConfig struct {
	// A fully qualified URL for the ACME server's directory resource. Must
	// include an HTTP/HTTPS protocol prefix.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates to be
	// used as trust roots for HTTPS requests to the ACME server. If empty the
	// default system roots are used. If you are using Pebble as the ACME
	// server, it should be the file path to the "test/certs/pebble.minica.pem"
	// file from the Pebble source directory.
	CACert string
	// An optional email address to use if an Account is created with the ACME
	// server. It should not have a protocol prefix, a "mailto:" prefix is
	// added automatically. This field only supports one email address.
	ContactEmail string
	// An optional file path for a previously saved account. If the file
	// exists the account it holds is restored and used; if it does not exist
	// a new account is registered and saved to this path for the next run.
	AccountPath string
}

// normalize validates a ClientConfig.
func (conf *ClientConfig) normalize() error {
	// Clean up any junk whitespace that might have snuck in
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)
	conf.AccountPath = strings.TrimSpace(conf.AccountPath)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("DirectoryURL must not be empty")
	}

	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %s", err.Error())
	}

	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail is invalid: %s", err.Error())
		}
		conf.ContactEmail = addr.Address
	}

	return nil
}

// NewClient creates a Client instance from the given ClientConfig: it fetches
// the server's directory and an initial nonce, then restores the account from
// ClientConfig.AccountPath or registers a new one. If the config is not valid
// or if another error occurs it will be returned along with a nil Client.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	// Validate the ClientConfig has no errors when normalized.
	if err := config.normalize(); err != nil {
		return nil, err
	}

	// Create the ACME net client
	net, err := acmenet.New(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("unable to create ACME net client: %s", err)
	}

	// NOTE: Its safe to throw away the returned err here because we check
	// that `url.Parse` will succeed in `config.normalize()` above.
	dirURL, _ := url.Parse(config.DirectoryURL)

	// Create a base client
	client := &Client{
		DirectoryURL: dirURL,
		net:          net,
	}

	// Fetch the directory and an initial nonce up front. Account
	// registration below needs both.
	if err := client.UpdateDirectory(ctx); err != nil {
		return nil, err
	}
	if err := client.RefreshNonce(ctx); err != nil {
		return nil, err
	}

	// If requested, try to restore an existing account from disk
	if config.AccountPath != "" {
		acct, err := resources.RestoreAccount(config.AccountPath)
		if err == nil {
			client.Account = acct
			log.Printf("Restored account with ID %q (Contact %s) from %q\n",
				acct.ID, acct.Contact, config.AccountPath)
		} else {
			log.Printf("No account restored from %q: %s\n", config.AccountPath, err)
		}
	}

	// If no account was restored, register a new one.
	if client.AccountID() == "" {
		log.Printf("Registering a new account with the ACME server\n")
		acct, err := resources.NewAccount([]string{config.ContactEmail}, nil)
		if err != nil {
			return nil, err
		}
		client.Account = acct
		if err := client.CreateAccount(ctx, acct); err != nil {
			return nil, err
		}

		// if there is an account path configured, save the account we just
		// made to that path for future runs
		if config.AccountPath != "" {
			if err := resources.SaveAccount(config.AccountPath, acct); err != nil {
				return nil, fmt.Errorf("error saving account to %q : %s",
					config.AccountPath, err)
			}
			log.Printf("Saved account data to %q", config.AccountPath)
		}
	}

	log.Printf("Active account: %q\n", client.AccountID())
	return client, nil
}

// AccountID returns the ID of the client's Account. If the Account is nil,
// an empty string is returned. If the Account has not yet been created with
// the ACME server an empty string is returned.
func (c *Client) AccountID() string {
	if c.Account == nil {
		return ""
	}

	return c.Account.ID
}
