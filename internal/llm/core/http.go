package core

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultHeaderTimeout bounds the wait for response headers. The body has
	// no deadline; a stream ends by completion or cancellation.
	DefaultHeaderTimeout = 60 * time.Second

	dialTimeout = 30 * time.Second
)

// NewStreamingHTTPClient returns a client for long-lived streaming
// responses. It sets no overall Timeout, which would cut streams off.
func NewStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}
