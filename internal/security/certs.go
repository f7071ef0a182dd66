// Package security loads the TLS material inter-core transport needs for
// mTLS, adapted from the teacher's pkg/security/certs.go: colink-core has
// no certificate-issuance authority of its own (no manager handing worker
// nodes a cert), so only the loading half of that file survives here,
// generalized from a fixed ~/.warren/certs/<node>/{node.crt,node.key,ca.crt}
// layout to explicit file paths supplied via inter_core_cert/inter_core_key/
// inter_core_ca.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

const rotationThreshold = 30 * 24 * time.Hour

// LoadCertFromFile loads a TLS keypair from an explicit cert/key path pair.
func LoadCertFromFile(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// LoadCACertFromFile loads a single PEM-encoded CA certificate.
func LoadCACertFromFile(caFile string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("decode CA certificate PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}
	return caCert, nil
}

// NeedsRotation reports whether a certificate is within 30 days of expiry,
// kept from the teacher's CertNeedsRotation for the startup warning logged
// by cmd/colink-core.
func NeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < rotationThreshold
}
