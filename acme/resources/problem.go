package resources

import (
	"fmt"
	"strings"

	"github.com/mkerring/dnscert/acme"
)

// Problem is a struct representing a problem document from the server. ACME
// servers reply with a problem document (RFC 7807) whenever a request is
// rejected.
//
// See https://tools.ietf.org/html/rfc8555#section-6.7
type Problem struct {
	// The problem type, a URN under the "urn:ietf:params:acme:error:"
	// namespace for ACME-defined errors.
	Type string `json:"type,omitempty"`
	// A human readable description of the problem.
	Detail string `json:"detail,omitempty"`
	// The HTTP status code of the response the problem was delivered with.
	Status int `json:"status,omitempty"`
	// For problems with a newOrder or finalize request covering multiple
	// identifiers, per-identifier problems.
	Subproblems []Subproblem `json:"subproblems,omitempty"`
}

// Subproblem is a problem document scoped to a single identifier, nested
// within a Problem.
//
// See https://tools.ietf.org/html/rfc8555#section-6.7.1
type Subproblem struct {
	Type       string     `json:"type,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Identifier Identifier `json:"identifier,omitempty"`
}

// Error implements the error interface so server rejections can travel as
// error values and be recovered with errors.As.
func (p *Problem) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "acme: problem %s", p.Type)
	if p.Detail != "" {
		fmt.Fprintf(&msg, ": %s", p.Detail)
	}
	if p.Status != 0 {
		fmt.Fprintf(&msg, " (HTTP %d)", p.Status)
	}
	for _, sub := range p.Subproblems {
		fmt.Fprintf(&msg, "; %q: %s: %s", sub.Identifier.Value, sub.Type, sub.Detail)
	}
	return msg.String()
}

// IsBadNonce returns true when the server rejected the JWS anti-replay nonce.
// A badNonce rejection is always safe to resubmit with a fresh nonce.
//
// See https://tools.ietf.org/html/rfc8555#section-6.5
func (p *Problem) IsBadNonce() bool {
	return p.Type == acme.BAD_NONCE_PROBLEM
}
