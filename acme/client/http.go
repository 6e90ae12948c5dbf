package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/mkerring/dnscert/acme/resources"
	"github.com/mkerring/dnscert/net"
)

// TransportError wraps a connection, TLS, or timeout level failure for
// a request to the given URL. Transport failures are never retried by the
// client; a server that can't be reached won't be helped by a fresh nonce.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %q: %s", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// handleRequest performs the given request, capturing the Replay-Nonce header
// from the response (success or failure) for the next signing operation.
func (c *Client) handleRequest(req *http.Request) (*net.NetResponse, error) {
	resp, err := c.net.Do(req)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	c.saveNonce(resp.Response)
	return resp, nil
}

// GetURL performs an unauthenticated GET to the given URL. Only the directory
// resource is fetched this way; everything else is a signed POST.
func (c *Client) GetURL(ctx context.Context, url string) (*net.NetResponse, error) {
	req, err := c.net.GetRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.handleRequest(req)
}

// PostURL POSTs the given JWS body to the given URL.
func (c *Client) PostURL(ctx context.Context, url string, body []byte) (*net.NetResponse, error) {
	req, err := c.net.PostRequest(ctx, url, body)
	if err != nil {
		return nil, err
	}
	return c.handleRequest(req)
}

// SignAndPost signs the given message with the given SigningOptions (nil for
// the account key defaults) and POSTs it to the given URL. If the server
// rejects the request with a "badNonce" problem the request is signed again
// with a fresh nonce and resubmitted, exactly once. Any other problem
// document (or a second badNonce in a row) is returned as a *Problem error.
//
// See https://tools.ietf.org/html/rfc8555#section-6.5
func (c *Client) SignAndPost(ctx context.Context, url string, message []byte, opts *SigningOptions) (*net.NetResponse, error) {
	if c.nonce == "" {
		if err := c.RefreshNonce(ctx); err != nil {
			return nil, err
		}
	}

	resp, prob, err := c.signAndPostOnce(ctx, url, message, opts)
	if err != nil {
		return nil, err
	}

	if prob != nil && prob.IsBadNonce() {
		log.Printf("Server rejected the nonce used for %q. Retrying with a fresh nonce\n", url)
		// The rejection response usually carries a fresh nonce that saveNonce
		// already captured. If it didn't, fetch one.
		if c.nonce == "" {
			if err := c.RefreshNonce(ctx); err != nil {
				return nil, err
			}
		}
		resp, prob, err = c.signAndPostOnce(ctx, url, message, opts)
		if err != nil {
			return nil, err
		}
	}

	if prob != nil {
		return resp, prob
	}
	return resp, nil
}

// PostAsGetURL makes a POST-as-GET request to the given URL: a JWS with
// a zero-length payload, authenticated with the account key.
//
// See https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) PostAsGetURL(ctx context.Context, url string) (*net.NetResponse, error) {
	return c.SignAndPost(ctx, url, []byte(""), nil)
}

func (c *Client) signAndPostOnce(ctx context.Context, url string, message []byte, opts *SigningOptions) (*net.NetResponse, *resources.Problem, error) {
	signResult, err := c.Sign(url, message, opts)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.PostURL(ctx, url, signResult.SerializedJWS)
	if err != nil {
		return nil, nil, err
	}

	return resp, problemFromResponse(resp), nil
}

// problemFromResponse decodes the problem document from an error response.
// Returns nil when the response is not an HTTP error. An error response with
// a body that isn't a problem document gets a synthesized Problem carrying
// the status code and (truncated) body so the caller still sees something
// actionable.
func problemFromResponse(resp *net.NetResponse) *resources.Problem {
	statusCode := resp.Response.StatusCode
	if statusCode < http.StatusBadRequest {
		return nil
	}

	var prob resources.Problem
	if err := json.Unmarshal(resp.RespBody, &prob); err == nil && prob.Type != "" {
		if prob.Status == 0 {
			prob.Status = statusCode
		}
		return &prob
	}

	detail := strings.TrimSpace(string(resp.RespBody))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	return &resources.Problem{
		Detail: detail,
		Status: statusCode,
	}
}
