// Package acme provides ACME protocol constants. See RFC 8555.
package acme

const (
	// Directory constants
	// See https://tools.ietf.org/html/rfc8555#section-9.7.5

	// The ACME directory key for the newNonce endpoint.
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newAccount endpoint.
	NEW_ACCOUNT_ENDPOINT = "newAccount"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"
	// The ACME directory key for the revokeCert endpoint.
	REVOKE_CERT_ENDPOINT = "revokeCert"

	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-9.3
	REPLAY_NONCE_HEADER = "Replay-Nonce"

	// Order, Authorization and Challenge status values. See
	// https://tools.ietf.org/html/rfc8555#section-7.1.6
	STATUS_PENDING    = "pending"
	STATUS_READY      = "ready"
	STATUS_PROCESSING = "processing"
	STATUS_VALID      = "valid"
	STATUS_INVALID    = "invalid"
	STATUS_EXPIRED    = "expired"

	// The challenge type this client knows how to respond to. See
	// https://tools.ietf.org/html/rfc8555#section-8.4
	CHALLENGE_DNS01 = "dns-01"

	// The URN namespace shared by all ACME problem document types. See
	// https://tools.ietf.org/html/rfc8555#section-6.7
	ERROR_TYPE_PREFIX = "urn:ietf:params:acme:error:"
	// The problem type a server replies with when a JWS carried a stale or
	// unknown anti-replay nonce.
	BAD_NONCE_PROBLEM = ERROR_TYPE_PREFIX + "badNonce"
)
