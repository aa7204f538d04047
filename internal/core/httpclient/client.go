// Package httpclient configures the HTTP client used by load-generation
// tools that drive the overlay service.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// New creates an outbound client sized for many concurrent workers
// hitting a single overlay endpoint. Connection reuse matters more than
// dial latency here, so idle pools are kept large.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   4 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
