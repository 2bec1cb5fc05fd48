// Package peer forwards chat messages to the single configured peer instance.
//
// Forwarding is best effort: failures are logged and counted, never returned
// to the chat path. There is no retry.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

const (
	defaultTimeout  = 5 * time.Second
	maxResponseBody = 64 << 10
)

// Config describes the peer edge. An empty URL disables forwarding.
type Config struct {
	URL     string
	Timeout time.Duration

	// BreakerFailures > 0 opens a circuit after that many consecutive
	// failures; calls are skipped for BreakerCooldown.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// StatusError is returned when the peer answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer %s responded with status %d", e.URL, e.StatusCode)
}

// RelayMessage is the JSON body exchanged with a peer's relay endpoint.
type RelayMessage struct {
	Message string `json:"message"`
}

// Forwarder posts messages to the peer's relay endpoint.
type Forwarder struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

// NewForwarder creates a Forwarder. m may be nil.
func NewForwarder(cfg Config, m *metrics.Metrics) *Forwarder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	f := &Forwarder{
		url:     cfg.URL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}

	if cfg.URL != "" && cfg.BreakerFailures > 0 {
		f.breaker = newBreaker(cfg)
	}
	return f
}

func newBreaker(cfg Config) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "peer",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"peer_url", cfg.URL,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Enabled reports whether a peer URL is configured.
func (f *Forwarder) Enabled() bool {
	return f.url != ""
}

// URL returns the configured peer endpoint.
func (f *Forwarder) URL() string {
	return f.url
}

// Forward sends message to the peer and waits for the answer, bounded by the
// configured timeout. It never fails from the caller's point of view.
func (f *Forwarder) Forward(ctx context.Context, message string) {
	if !f.Enabled() {
		slog.Debug("PEER_URL not configured, not forwarding message")
		f.metrics.ForwardDone(metrics.ForwardDisabled, 0)
		return
	}

	start := time.Now()
	err := f.Send(ctx, message)
	took := time.Since(start)

	switch {
	case err == nil:
		f.metrics.ForwardDone(metrics.ForwardOK, took)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Debug("Peer circuit open, message not forwarded", "peer_url", f.url)
		f.metrics.ForwardDone(metrics.ForwardRejected, took)
	default:
		slog.Warn("Failed to forward message to peer", "peer_url", f.url, "error", err)
		f.metrics.ForwardDone(metrics.ForwardError, took)
	}
}

// Send performs one forward attempt and returns its error.
func (f *Forwarder) Send(ctx context.Context, message string) error {
	if f.breaker == nil {
		return f.post(ctx, message)
	}
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.post(ctx, message)
	})
	return err
}

func (f *Forwarder) post(ctx context.Context, message string) error {
	body, err := json.Marshal(RelayMessage{Message: message})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build peer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to peer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: f.url, StatusCode: resp.StatusCode}
	}
	return nil
}
