// Package porkbun provides a dns01.Provider that manages TXT records through
// the Porkbun JSON API (v3).
package porkbun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	acmenet "github.com/mkerring/dnscert/net"
)

// DEFAULT_BASE_URL is the production Porkbun JSON API base URL.
//
// See https://porkbun.com/api/json/v3/documentation
const DEFAULT_BASE_URL = "https://porkbun.com/api/json/v3"

// recordTTL is the TTL requested for challenge records. 600 is the minimum
// the Porkbun API accepts.
const recordTTL = "600"

// Config contains configuration options provided to New when creating
// a Porkbun API client.
type Config struct {
	// APIKey is the Porkbun API key ("pk1_...").
	APIKey string
	// SecretAPIKey is the Porkbun secret API key ("sk1_...").
	SecretAPIKey string
	// BaseURL overrides the production API base URL. Mostly useful for
	// tests. If empty DEFAULT_BASE_URL is used.
	BaseURL string
}

// Client is just enough of an interface to the Porkbun API to create and
// delete TXT records and check the credentials. It implements the
// dns01.Provider interface.
type Client struct {
	keys    auth
	baseURL string
	net     *acmenet.ACMENet
}

// auth carries the per-request API credentials. Porkbun has no header based
// authentication; every request body repeats the keys.
type auth struct {
	SecretAPIKey string `json:"secretapikey"`
	APIKey       string `json:"apikey"`
}

// apiResponse is the common shape of Porkbun API replies. Error replies carry
// a non-"SUCCESS" status and a message.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	YourIP  string `json:"yourIp,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

// New creates a Porkbun API client from the given Config. Both API keys are
// required.
func New(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("porkbun: APIKey must not be empty")
	}
	if config.SecretAPIKey == "" {
		return nil, fmt.Errorf("porkbun: SecretAPIKey must not be empty")
	}
	if config.BaseURL == "" {
		config.BaseURL = DEFAULT_BASE_URL
	}

	net, err := acmenet.New("")
	if err != nil {
		return nil, err
	}

	return &Client{
		keys: auth{
			SecretAPIKey: config.SecretAPIKey,
			APIKey:       config.APIKey,
		},
		baseURL: config.BaseURL,
		net:     net,
	}, nil
}

// post marshals the given payload, POSTs it to the given API path, and
// decodes the reply, turning any non-SUCCESS status into an error carrying
// the API's message.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.net.PostJSON(ctx, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	var apiResp apiResponse
	if err := json.Unmarshal(resp.RespBody, &apiResp); err != nil {
		return nil, fmt.Errorf("porkbun: invalid JSON from %q: %s", path, err)
	}

	if resp.Response.StatusCode != http.StatusOK || apiResp.Status != "SUCCESS" {
		msg := apiResp.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP status %d", resp.Response.StatusCode)
		}
		return nil, fmt.Errorf("porkbun: %q request failed: %s", path, msg)
	}

	return &apiResp, nil
}

// Ping checks the API credentials, returning the caller's public IP address
// as seen by Porkbun.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, "/ping", &c.keys)
	if err != nil {
		return "", err
	}
	return resp.YourIP, nil
}

// CreateTXT creates a TXT record named name (relative to zone, empty for the
// zone apex) holding the given value.
func (c *Client) CreateTXT(ctx context.Context, zone, name, value string) error {
	req := struct {
		auth
		Name    string `json:"name,omitempty"`
		Type    string `json:"type"`
		Content string `json:"content"`
		TTL     string `json:"ttl,omitempty"`
	}{
		auth:    c.keys,
		Name:    name,
		Type:    "TXT",
		Content: value,
		TTL:     recordTTL,
	}

	_, err := c.post(ctx, fmt.Sprintf("/dns/create/%s", zone), &req)
	return err
}

// DeleteTXT deletes all TXT records named name (relative to zone).
func (c *Client) DeleteTXT(ctx context.Context, zone, name string) error {
	_, err := c.post(ctx,
		fmt.Sprintf("/dns/deleteByNameType/%s/TXT/%s", zone, name), &c.keys)
	return err
}
