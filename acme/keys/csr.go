package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
)

// NewCSR produces the DER encoding of a certificate signing request for the
// provided names, signed by the given signer. The signer's public key becomes
// the CSR public key. The first of the names is used as the CSR common name.
//
// Certificate keys SHOULD NOT be reused as ACME account keys, so callers are
// expected to pass a fresh signer here rather than an account's.
// See https://tools.ietf.org/html/rfc8555#section-11.1
func NewCSR(signer crypto.Signer, names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no names specified")
	}

	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: names[0],
		},
		DNSNames: names,
	}

	return x509.CreateCertificateRequest(rand.Reader, &template, signer)
}
