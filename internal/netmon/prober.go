package netmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

//go:generate mockgen -source=prober.go -destination=mocks/mock_prober.go -package=mocks

// Prober measures transfer speed against a target URL.
type Prober interface {
	// Probe returns the observed speed in bytes per second.
	Probe(ctx context.Context, target string) (float64, error)
}

// ErrEmptyProbe is returned when a probe transferred no bytes.
var ErrEmptyProbe = errors.New("netmon: probe transferred no data")

const (
	// DefaultProbeBytes is the size of the ranged request.
	DefaultProbeBytes = 1 << 20
	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 10 * time.Second
)

// HTTPProber probes with a bounded partial-content GET (Range: bytes=0-N).
// A probe ends after maxBytes or timeout, whichever comes first; a timeout
// after some bytes arrived still yields a measurement.
type HTTPProber struct {
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
}

// NewHTTPProber returns a prober; zero values select the defaults.
func NewHTTPProber(client *http.Client, maxBytes int64, timeout time.Duration) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultProbeBytes
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{client: client, maxBytes: maxBytes, timeout: timeout, now: time.Now}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, target string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("netmon: build probe: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.maxBytes-1))

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("netmon: probe %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("netmon: probe %s: unexpected status %d", target, resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBytes))
	elapsed := p.now().Sub(start)
	if err != nil && (n == 0 || ctx.Err() == nil) {
		return 0, fmt.Errorf("netmon: probe %s: %w", target, err)
	}
	if n == 0 {
		return 0, ErrEmptyProbe
	}
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	return float64(n) / elapsed.Seconds(), nil
}
