package observability

import (
	"net"
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// Payment and email APIs are the only outbound HTTP traffic; they receive
// sentry-trace headers so their spans join ours.
var tracePropagationTargets = []string{
	"api.stripe.com",
	"api.resend.com",
	"api.mailgun.net",
	"api.eu.mailgun.net",
}

// NewHTTPClient returns a traced client for a third-party API. timeout bounds
// the whole exchange; connection setup gets a share of it so an unreachable
// host fails before the caller's own deadline.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: sentryhttpclient.NewSentryRoundTripper(
			newTransport(timeout),
			sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
		),
	}
}

func newTransport(timeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	if timeout > 0 {
		setup := timeout / 3
		transport.DialContext = (&net.Dialer{Timeout: setup, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = setup
		transport.ResponseHeaderTimeout = timeout
	}
	return transport
}
