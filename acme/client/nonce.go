package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mkerring/dnscert/acme"
)

// Nonce satisfies the JWS "NonceSource" interface by consuming the nonce the
// client saved from the most recent ACME server response. Every response
// handled by the client replaces the saved nonce, so under normal operation
// a fresh value is always on hand. Callers that sign outside of a
// request/response cycle must ensure a nonce is available first (see
// RefreshNonce).
func (c *Client) Nonce() (string, error) {
	if c.nonce == "" {
		return "", errors.New("no nonce available: fetch one with RefreshNonce first")
	}
	n := c.nonce
	c.nonce = ""
	return n, nil
}

// RefreshNonce fetches a new nonce from the ACME server's NewNonce endpoint
// and stores it in the client's memory to be used by the next signing
// operation.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) RefreshNonce(ctx context.Context) error {
	nonceURL, ok := c.GetEndpointURL(ctx, acme.NEW_NONCE_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_NONCE_ENDPOINT)
	}

	resp, err := c.net.HeadURL(ctx, nonceURL)
	if err != nil {
		return &TransportError{URL: nonceURL, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%q returned HTTP status %d, expected %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode, http.StatusOK)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}

	if nonce == c.nonce {
		return fmt.Errorf("%q returned the nonce %q more than once",
			acme.NEW_NONCE_ENDPOINT, nonce)
	}

	c.nonce = nonce
	return nil
}

// saveNonce stores the Replay-Nonce header from the given response (if any)
// for use by the next signing operation. Error responses carry fresh nonces
// too, so this is called for every response the client observes.
func (c *Client) saveNonce(resp *http.Response) {
	if nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER); nonce != "" {
		c.nonce = nonce
	}
}
