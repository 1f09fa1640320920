package redfish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var errCertificateMismatch = errors.New("controller certificate does not match the pinned certificate")

// tlsConfig builds the per-client trust settings. A pinned certificate wins
// over InsecureSkipVerify; with neither, the system roots are used.
func tlsConfig(cfg ConnectionConfig) *tls.Config {
	switch {
	case len(cfg.PinnedCertificate) > 0:
		pinned := bytes.Clone(cfg.PinnedCertificate)
		return &tls.Config{
			// chain and hostname verification is replaced by the exact
			// match below
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], pinned) {
					return errCertificateMismatch
				}
				return nil
			},
		}
	case cfg.InsecureSkipVerify:
		return &tls.Config{InsecureSkipVerify: true}
	default:
		return nil
	}
}

// ParseCertificatePEM decodes the first CERTIFICATE block in data and returns
// its DER bytes.
func ParseCertificatePEM(data []byte) ([]byte, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no certificate found in pem data")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid certificate: %w", err)
		}
		return block.Bytes, nil
	}
}

// EncodeCertificatePEM encodes DER certificate bytes as PEM.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// Fingerprint returns the colon separated SHA-256 fingerprint of a DER
// certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	parts := make([]string, 0, len(sum))
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":")
}

// FetchCertificate connects to host once without verification and returns
// the leaf certificate it presents, so it can be pinned for later requests.
func FetchCertificate(ctx context.Context, host string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "https://"), "/")
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "443")
	}

	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: ErrCannotConnect, Err: err}
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, &Error{Kind: ErrCannotConnect, Err: errors.New("controller presented no certificate")}
	}
	return certs[0].Raw, nil
}
