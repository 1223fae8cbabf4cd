// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	Timeout time.Duration
	// RPS <= 0 disables limiting.
	RPS   float64
	Burst int
	Base  http.RoundTripper
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts Options) *http.Client {
	base := opts.Base
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rt := base
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		rt = &limitedTransport{next: base, limiter: rate.NewLimiter(rate.Limit(opts.RPS), burst)}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}

// limitedTransport waits on a shared token bucket before each round trip.
type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("outbound rate limit: %w", err)
	}
	return t.next.RoundTrip(req)
}
