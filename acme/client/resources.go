package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"

	"github.com/mkerring/dnscert/acme"
	"github.com/mkerring/dnscert/acme/resources"
	"github.com/mkerring/dnscert/net"
)

// CreateAccount creates the given Account resource with the ACME server.
// The Account is updated with the ID returned in the server's response's
// Location header if the operation is successful, otherwise an error is
// returned. A 200 response means the server already had an account for this
// key; its URL is adopted the same way.
//
// Important: This function always unconditionally agrees to the server's
// terms of service (e.g. it sends "termsOfServiceAgreed":true in all account
// creation requests).
//
// For more information on account creation see
// https://tools.ietf.org/html/rfc8555#section-7.3
func (c *Client) CreateAccount(ctx context.Context, acct *resources.Account) error {
	if acct.ID != "" {
		return fmt.Errorf(
			"create: account already exists under ID %q", acct.ID)
	}

	newAcctReq := struct {
		Contact   []string `json:"contact,omitempty"`
		ToSAgreed bool     `json:"termsOfServiceAgreed"`
	}{
		Contact:   acct.Contact,
		ToSAgreed: true,
	}

	reqBody, err := json.Marshal(&newAcctReq)
	if err != nil {
		return err
	}

	newAcctURL, ok := c.GetEndpointURL(ctx, acme.NEW_ACCOUNT_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"create: ACME server missing %q endpoint in directory",
			acme.NEW_ACCOUNT_ENDPOINT)
	}

	log.Printf("Sending %q request (contact: %s) to %q",
		acme.NEW_ACCOUNT_ENDPOINT, acct.Contact, newAcctURL)
	resp, err := c.SignAndPost(ctx, newAcctURL, reqBody, &SigningOptions{
		EmbedKey: true,
		Signer:   acct.Signer,
	})
	if err != nil {
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated && respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("create: server returned status code %d, expected %d or %d",
			respOb.StatusCode, http.StatusCreated, http.StatusOK)
	}

	locHeader := respOb.Header.Get("Location")
	if locHeader == "" {
		return fmt.Errorf("create: server returned response with no Location header")
	}

	// Store the Location header as the Account's ID
	acct.ID = locHeader
	if respOb.StatusCode == http.StatusOK {
		log.Printf("Account key already registered. Using existing account with ID %q\n", acct.ID)
	} else {
		log.Printf("Created account with ID %q\n", acct.ID)
	}
	return nil
}

// CreateOrder creates the given Order resource with the ACME server. If the
// operation is successful the Order's ID field is populated with the value of
// the server's reply's Location header and the Order is updated in place from
// the response body. Otherwise a non-nil error is returned.
//
// For more information on Order creation see "Applying for Certificate
// Issuance" in RFC 8555:
// https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) CreateOrder(ctx context.Context, order *resources.Order) error {
	if c.AccountID() == "" {
		return fmt.Errorf("createOrder: account is nil or has not been registered")
	}

	req := struct {
		Identifiers []resources.Identifier `json:"identifiers"`
	}{
		Identifiers: order.Identifiers,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return err
	}

	newOrderURL, ok := c.GetEndpointURL(ctx, acme.NEW_ORDER_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"createOrder: ACME server missing %q endpoint in directory",
			acme.NEW_ORDER_ENDPOINT)
	}

	resp, err := c.SignAndPost(ctx, newOrderURL, reqBody, nil)
	if err != nil {
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated {
		return fmt.Errorf("createOrder: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get("Location")
	if locHeader == "" {
		return fmt.Errorf("createOrder: server returned response with no Location header")
	}

	// Unmarshal the created order
	err = json.Unmarshal(resp.RespBody, order)
	if err != nil {
		return fmt.Errorf("createOrder: server returned invalid JSON: %s", err)
	}

	// Store the Location header as the Order's ID
	order.ID = locHeader
	log.Printf("Created new order with ID %q\n", order.ID)
	return nil
}

// UpdateOrder refreshes a given Order by making a POST-as-GET request to its
// ID URL. If this is successful the Order is mutated in place and the raw
// response is returned so callers can inspect headers like Retry-After.
//
// Calling UpdateOrder is required to refresh an Order's Status field to
// synchronize the resource with the server-side representation.
func (c *Client) UpdateOrder(ctx context.Context, order *resources.Order) (*net.NetResponse, error) {
	if order == nil {
		return nil, fmt.Errorf("updateOrder: order must not be nil")
	}
	if order.ID == "" {
		return nil, fmt.Errorf("updateOrder: order must have an ID")
	}

	resp, err := c.PostAsGetURL(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	return resp, json.Unmarshal(resp.RespBody, order)
}

// UpdateAuthz refreshes a given Authorization by making a POST-as-GET request
// to its ID URL. If this is successful the Authorization is updated in place
// and the raw response is returned so callers can inspect headers like
// Retry-After. Otherwise an error is returned.
func (c *Client) UpdateAuthz(ctx context.Context, authz *resources.Authorization) (*net.NetResponse, error) {
	if authz == nil {
		return nil, fmt.Errorf("updateAuthz: authz must not be nil")
	}
	if authz.ID == "" {
		return nil, fmt.Errorf("updateAuthz: authz must have an ID")
	}

	resp, err := c.PostAsGetURL(ctx, authz.ID)
	if err != nil {
		return nil, err
	}

	return resp, json.Unmarshal(resp.RespBody, authz)
}

// UpdateChallenge refreshes a given Challenge by making a POST-as-GET request
// to its URL. If this is successful the Challenge is updated in place.
// Otherwise an error is returned.
func (c *Client) UpdateChallenge(ctx context.Context, chall *resources.Challenge) (*net.NetResponse, error) {
	if chall == nil {
		return nil, fmt.Errorf("updateChallenge: chall must not be nil")
	}
	if chall.URL == "" {
		return nil, fmt.Errorf("updateChallenge: chall must have a URL")
	}

	resp, err := c.PostAsGetURL(ctx, chall.URL)
	if err != nil {
		return nil, err
	}

	return resp, json.Unmarshal(resp.RespBody, chall)
}

// InitiateChallenge tells the ACME server that the given Challenge is ready
// for validation by POSTing the empty JSON object {} to the challenge URL.
// This is distinct from a POST-as-GET: the payload is "{}", not "".
//
// See https://tools.ietf.org/html/rfc8555#section-7.5.1
func (c *Client) InitiateChallenge(ctx context.Context, chall *resources.Challenge) error {
	if chall == nil {
		return fmt.Errorf("initiateChallenge: chall must not be nil")
	}
	if chall.URL == "" {
		return fmt.Errorf("initiateChallenge: chall must have a URL")
	}

	resp, err := c.SignAndPost(ctx, chall.URL, []byte("{}"), nil)
	if err != nil {
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("initiateChallenge: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusOK)
	}

	return json.Unmarshal(resp.RespBody, chall)
}

// FinalizeOrder submits the given CSR (raw DER, base64url encoded on the
// wire) to the Order's finalize URL. If this is successful the Order is
// updated in place from the response. Otherwise an error is returned.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) FinalizeOrder(ctx context.Context, order *resources.Order, csr []byte) error {
	if order == nil {
		return fmt.Errorf("finalizeOrder: order must not be nil")
	}
	if order.Finalize == "" {
		return fmt.Errorf("finalizeOrder: order must have a finalize URL")
	}

	finalizeReq := struct {
		CSR string `json:"csr"`
	}{
		CSR: base64.RawURLEncoding.EncodeToString(csr),
	}

	reqBody, err := json.Marshal(&finalizeReq)
	if err != nil {
		return err
	}

	resp, err := c.SignAndPost(ctx, order.Finalize, reqBody, nil)
	if err != nil {
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("finalizeOrder: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusOK)
	}

	log.Printf("Sent CSR to finalize URL %q\n", order.Finalize)
	return json.Unmarshal(resp.RespBody, order)
}

// FetchCertificate downloads the PEM certificate chain from the given URL
// with a POST-as-GET request. The response must hold at least one well-formed
// CERTIFICATE block or an error is returned.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4.2
func (c *Client) FetchCertificate(ctx context.Context, certURL string) ([]byte, error) {
	if certURL == "" {
		return nil, fmt.Errorf("fetchCertificate: certURL must not be empty")
	}

	resp, err := c.PostAsGetURL(ctx, certURL)
	if err != nil {
		return nil, err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetchCertificate: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusOK)
	}

	block, _ := pem.Decode(resp.RespBody)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf(
			"fetchCertificate: response from %q was not a PEM certificate chain", certURL)
	}

	return resp.RespBody, nil
}

// RevokeCertificate asks the ACME server to revoke the certificate with the
// given raw DER encoding, authorized by the account key. The reason argument
// is an RFC 5280 CRLReason code (0 for unspecified).
//
// See https://tools.ietf.org/html/rfc8555#section-7.6
func (c *Client) RevokeCertificate(ctx context.Context, certDER []byte, reason int) error {
	if c.AccountID() == "" {
		return fmt.Errorf("revokeCertificate: account is nil or has not been registered")
	}

	revokeReq := struct {
		Certificate string `json:"certificate"`
		Reason      int    `json:"reason,omitempty"`
	}{
		Certificate: base64.RawURLEncoding.EncodeToString(certDER),
		Reason:      reason,
	}

	reqBody, err := json.Marshal(&revokeReq)
	if err != nil {
		return err
	}

	revokeURL, ok := c.GetEndpointURL(ctx, acme.REVOKE_CERT_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"revokeCertificate: ACME server missing %q endpoint in directory",
			acme.REVOKE_CERT_ENDPOINT)
	}

	resp, err := c.SignAndPost(ctx, revokeURL, reqBody, nil)
	if err != nil {
		return err
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("revokeCertificate: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusOK)
	}

	log.Printf("Revoked certificate (reason %d)\n", reason)
	return nil
}
