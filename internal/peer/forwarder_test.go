package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// recordingPeer is a fake peer relay endpoint.
type recordingPeer struct {
	mu       sync.Mutex
	messages []string
	status   int
	delay    time.Duration
	calls    atomic.Int32
}

func (p *recordingPeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-r.Context().Done():
			return
		}
	}

	var msg RelayMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.messages = append(p.messages, msg.Message)
	p.mu.Unlock()

	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (p *recordingPeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

func newPeerServer(t *testing.T, p *recordingPeer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return srv
}

func TestForwarder_PostsJSONMessage(t *testing.T) {
	p := &recordingPeer{}
	srv := newPeerServer(t, p)
	m := metrics.New(prometheus.NewRegistry())

	f := NewForwarder(Config{URL: srv.URL + "/relay", Timeout: time.Second}, m)
	require.True(t, f.Enabled())

	f.Forward(context.Background(), "Client #1: hi")

	assert.Equal(t, []string{"Client #1: hi"}, p.received())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(metrics.ForwardOK)))
}

func TestForwarder_SendsContentType(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
	}))
	defer srv.Close()

	err := NewForwarder(Config{URL: srv.URL}, nil).Send(context.Background(), "x")
	require.NoError(t, err)

	req := <-requests
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, http.MethodPost, req.Method)
}

func TestForwarder_DisabledIsNoop(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := NewForwarder(Config{}, m)

	assert.False(t, f.Enabled())
	assert.NotPanics(t, func() { f.Forward(context.Background(), "Client #1 joined the chat") })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(metrics.ForwardDisabled)))
}

func TestForwarder_ErrorStatusIsSwallowed(t *testing.T) {
	p := &recordingPeer{status: http.StatusInternalServerError}
	srv := newPeerServer(t, p)
	m := metrics.New(prometheus.NewRegistry())
	f := NewForwarder(Config{URL: srv.URL}, m)

	err := f.Send(context.Background(), "boom")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.NotPanics(t, func() { f.Forward(context.Background(), "boom") })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(metrics.ForwardError)))
}

func TestForwarder_UnreachablePeer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewForwarder(Config{URL: url, Timeout: 500 * time.Millisecond}, nil)

	err := f.Send(context.Background(), "lost")
	require.Error(t, err)
	assert.NotPanics(t, func() { f.Forward(context.Background(), "lost") })
}

func TestForwarder_TimeoutIsBounded(t *testing.T) {
	p := &recordingPeer{delay: 2 * time.Second}
	srv := newPeerServer(t, p)
	f := NewForwarder(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	err := f.Send(context.Background(), "slow")

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForwarder_DetachedContextStillForwards(t *testing.T) {
	p := &recordingPeer{}
	srv := newPeerServer(t, p)
	f := NewForwarder(Config{URL: srv.URL}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Forward(context.WithoutCancel(ctx), "Client #3 left the chat")

	assert.Equal(t, []string{"Client #3 left the chat"}, p.received())
}

func TestForwarder_CircuitBreakerOpens(t *testing.T) {
	p := &recordingPeer{status: http.StatusBadGateway}
	srv := newPeerServer(t, p)
	m := metrics.New(prometheus.NewRegistry())

	f := NewForwarder(Config{
		URL:             srv.URL,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, m)

	for i := 0; i < 5; i++ {
		f.Forward(context.Background(), "msg")
	}

	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, gobreaker.StateOpen, f.breaker.State())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Forwards.WithLabelValues(metrics.ForwardRejected)))

	err := f.Send(context.Background(), "msg")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestForwarder_NoBreakerWithoutPeer(t *testing.T) {
	f := NewForwarder(Config{BreakerFailures: 3}, nil)
	assert.Nil(t, f.breaker)
}
