// Package connectivity decides whether the remote service is reachable.
//
// Probes are advisory. A probe may report online while the service still
// fails; replay results are authoritative.
package connectivity

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 3 * time.Second

// Probe reports reachability. Every failure is reported as offline.
type Probe interface {
	IsOnline(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

// IsOnline calls f.
func (f ProbeFunc) IsOnline(ctx context.Context) bool { return f(ctx) }

// HTTPProbe sends a HEAD request to URL. Any HTTP response, whatever its
// status, means the service is reachable.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProbe creates an HTTPProbe with the default timeout.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, Timeout: DefaultTimeout}
}

// IsOnline performs the HEAD request.
func (p *HTTPProbe) IsOnline(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// DialProbe opens a TCP connection to Address.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// IsOnline dials and immediately closes the connection.
func (p *DialProbe) IsOnline(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Static is a settable probe.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a Static probe in the given state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Set changes the reported state.
func (s *Static) Set(online bool) {
	s.online.Store(online)
}

// IsOnline returns the current state.
func (s *Static) IsOnline(context.Context) bool {
	return s.online.Load()
}

var (
	_ Probe = ProbeFunc(nil)
	_ Probe = (*HTTPProbe)(nil)
	_ Probe = (*DialProbe)(nil)
	_ Probe = (*Static)(nil)
)
