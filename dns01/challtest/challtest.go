// Package challtest provides a dns01.Provider that manages TXT records
// through the management API of a pebble-challtestsrv instance. It exists for
// hermetic local runs against Pebble, where no real DNS host is involved.
package challtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	acmenet "github.com/mkerring/dnscert/net"
)

// Client manages mock TXT records on a remote pebble-challtestsrv. It
// implements the dns01.Provider interface.
type Client struct {
	address string
	net     *acmenet.ACMENet
}

// New creates a Client for the pebble-challtestsrv management API listening
// at the given address (e.g. "http://127.0.0.1:8055").
func New(address string) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("challtest: address must not be empty")
	}

	net, err := acmenet.New("")
	if err != nil {
		return nil, err
	}

	return &Client{
		address: address,
		net:     net,
	}, nil
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s", c.address, path)
}

func (c *Client) post(ctx context.Context, path string, req interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := c.net.PostJSON(ctx, c.url(path), body)
	if err != nil {
		return err
	}

	if resp.Response.StatusCode != http.StatusOK {
		return fmt.Errorf("challtest: %q returned HTTP status %d",
			path, resp.Response.StatusCode)
	}
	return nil
}

// fqdn reassembles the fully qualified record name the mock DNS server
// matches on: the relative name, the zone, and a trailing dot.
func fqdn(zone, name string) string {
	if name == "" {
		return zone + "."
	}
	return fmt.Sprintf("%s.%s.", name, zone)
}

// CreateTXT sets the mock TXT record for name (relative to zone). The
// challtestsrv serves the value exactly as given.
func (c *Client) CreateTXT(ctx context.Context, zone, name, value string) error {
	req := struct {
		Host  string
		Value string
	}{
		Host:  fqdn(zone, name),
		Value: value,
	}
	return c.post(ctx, "set-txt", req)
}

// DeleteTXT clears the mock TXT record for name (relative to zone). Clearing
// a record that was never set succeeds.
func (c *Client) DeleteTXT(ctx context.Context, zone, name string) error {
	req := struct {
		Host string
	}{
		Host: fqdn(zone, name),
	}
	return c.post(ctx, "clear-txt", req)
}
