package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.BroadcastDone(3, 1)
		m.RelayReceived()
		m.ForwardDone(ForwardOK, time.Millisecond)
	})
	assert.Nil(t, m.Meters())
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.BroadcastDone(4, 1)
	m.BroadcastDone(2, 0)
	m.RelayReceived()
	m.ForwardDone(ForwardOK, 10*time.Millisecond)
	m.ForwardDone(ForwardError, 20*time.Millisecond)
	m.ForwardDone(ForwardDisabled, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Broadcasts))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelaysReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(ForwardOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(ForwardError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Forwards.WithLabelValues(ForwardDisabled)))

	assert.Equal(t, int64(1), gometrics.GetOrRegisterCounter("connections", m.Meters()).Count())
	assert.Equal(t, int64(6), gometrics.GetOrRegisterMeter("deliveries", m.Meters()).Count())
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.RelayReceived()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrelay_relay_received_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// syncBuffer is a bytes.Buffer safe for the reporter goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_WritesOnTickAndOnStop(t *testing.T) {
	reg := gometrics.NewRegistry()
	gometrics.GetOrRegisterCounter("connections", reg).Inc(3)

	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, nil))
	clock := clockwork.NewFakeClock()
	reporter := NewReporter(reg, time.Minute, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reporter.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "metrics report") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "connections")

	cancel()
	<-done
	assert.Equal(t, 2, strings.Count(out.String(), "metrics report"))
}

func TestReporter_DisabledTick(t *testing.T) {
	reporter := NewReporter(gometrics.NewRegistry(), 0, clockwork.NewFakeClock(), nil)

	done := make(chan struct{})
	go func() {
		reporter.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when the tick is disabled")
	}
}
