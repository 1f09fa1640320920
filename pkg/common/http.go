package common

import (
	"crypto/tls"
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the trimmed release version embedded at build time.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and sets the User-Agent header.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client with a default user-agent set. A non-nil
// tlsConfig is applied to a private copy of the default transport so the
// trust settings of one controller never leak into other clients.
func HTTPClient(timeout time.Duration, tlsConfig *tls.Config) *http.Client {
	userAgent := "idracpower/" + Version()

	var transport http.RoundTripper = http.DefaultTransport
	if tlsConfig != nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsConfig
		t.TLSHandshakeTimeout = timeout
		transport = t
	}

	return &http.Client{
		Transport: &userAgentTransport{
			transport: transport,
			userAgent: userAgent,
		},
		Timeout: timeout,
	}
}
