package client

import (
	"crypto"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/mkerring/dnscert/acme/keys"
)

// SigningOptions allows specifying signature related options when calling the
// Client's Sign function.
type SigningOptions struct {
	// If true, embed the Signer's public key as a JWK in the signed JWS instead
	// of using a KeyID header. This is required for newAccount requests and for
	// revocations authorized by the certificate key. Setting EmbedKey to true
	// is mutually exclusive with a non-empty KeyID.
	EmbedKey bool
	// If not-empty, a KeyID value to use for the JWS Key ID header to identify
	// the ACME account. If empty the Client Account's ID is used. Providing
	// a KeyID is mutually exclusive with setting EmbedKey to true.
	KeyID string
	// If not-nil, a Signer to use to sign the JWS. The associated public key
	// will be computed and used for the embedded JWK if EmbedKey is true. If
	// nil the Client Account's key is used.
	Signer crypto.Signer
	// NonceSource is a jose.NonceSource implementation that provides the
	// Replay-Nonce header value for the produced JWS. If nil the Client is
	// used.
	NonceSource jose.NonceSource
}

// validate checks that the SigningOptions are sensible. This enforces the
// mutually exclusive KeyID and EmbedKey options and ensures that the
// NonceSource and Signer are not nil. Because it checks that the Signer field
// is not nil it must only be called after populating a default (like an
// Account's key).
func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: you must specify a KeyID or EmbedKey")
	}
	if opts.NonceSource == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a NonceSource")
	}
	if opts.Signer == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a private key")
	}
	return nil
}

// SignResult holds the input and output from a Sign operation.
type SignResult struct {
	// The url argument given to Sign.
	InputURL string
	// The data argument given to Sign.
	InputData []byte
	// The flattened JSON serialization of the JWS produced by signing the
	// given data.
	SerializedJWS []byte
}

// Sign produces a SignResult by signing the provided data (with a protected
// "url" header) according to the SigningOptions provided. If no Signer is
// specified in the SigningOptions then the Account's key is used. If the
// SigningOptions specify not to embed a JWK but do not specify a Key ID to
// use then the Account's ID is used as the JWS Key ID. If the SigningOptions
// do not specify an explicit NonceSource the Client is used as the
// NonceSource.
func (c *Client) Sign(url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SigningOptions{}
	}
	// If there is no Signer and no Account we can't proceed
	if opts.Signer == nil && c.Account == nil {
		return nil, errors.New(
			"Account is nil and no Signer was specified in SigningOptions")
	} else if opts.Signer == nil {
		// If there is no specified Signer, use the Account's key
		opts.Signer = c.Account.Signer
	}

	// If there is no request to embed a JWK and there is no explicit KeyID
	// provided use the Account's ID as the KeyID.
	if !opts.EmbedKey && opts.KeyID == "" {
		if c.Account == nil || c.Account.ID == "" {
			return nil, errors.New(
				"SigningOptions EmbedKey was false, no KeyID was specified, and " +
					"there is no registered Account")
		}
		opts.KeyID = c.Account.ID
	}

	// If there is no explicit NonceSource specified, use the client.
	if opts.NonceSource == nil {
		opts.NonceSource = c
	}

	// Now that the defaults are populated check that the resulting options are
	// valid.
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.EmbedKey {
		return signEmbedded(url, data, *opts)
	}
	return signKeyID(url, data, *opts)
}

func signEmbedded(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	signer, err := jose.NewSigner(keys.EmbeddedSigningKey(opts.Signer), &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		EmbedJWK:    true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func signKeyID(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	joseOpts := &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	}

	signer, err := jose.NewSigner(keys.SigningKeyForSigner(opts.Signer, opts.KeyID), joseOpts)
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func sign(signer jose.Signer, url string, data []byte) (*SignResult, error) {
	signed, err := signer.Sign(data)
	if err != nil {
		return nil, err
	}

	return &SignResult{
		InputURL:      url,
		InputData:     data,
		SerializedJWS: []byte(signed.FullSerialize()),
	}, nil
}
