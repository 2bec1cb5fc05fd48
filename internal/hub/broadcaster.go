package hub

import (
	"log/slog"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// Broadcaster delivers messages to every registered connection.
type Broadcaster struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a Broadcaster over registry. m may be nil.
func NewBroadcaster(registry *Registry, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: m}
}

func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Broadcast sends message to all registered connections except excluded,
// which may be nil. Each connection gets at most one attempt. Connections
// whose send fails are removed and closed once the pass has finished.
func (b *Broadcaster) Broadcast(message string, excluded Conn) {
	conns := b.registry.Snapshot()

	failed := b.sendToConnections(conns, message, excluded)
	b.removeFailedConnections(failed)

	delivered := len(conns) - len(failed)
	if excluded != nil && containsConn(conns, excluded) {
		delivered--
	}
	slog.Debug("Broadcast complete", "targets", len(conns), "delivered", delivered, "failed", len(failed))
	b.metrics.BroadcastDone(delivered, len(failed))
}

// sendToConnections attempts delivery and returns the connections that failed.
func (b *Broadcaster) sendToConnections(conns []Conn, message string, excluded Conn) []Conn {
	var failed []Conn

	for _, conn := range conns {
		if excluded != nil && conn == excluded {
			continue
		}
		if err := conn.Send(message); err != nil {
			slog.Debug("Send failed during broadcast", "error", err)
			failed = append(failed, conn)
		}
	}

	return failed
}

// removeFailedConnections prunes and closes connections that could not be delivered to.
func (b *Broadcaster) removeFailedConnections(failed []Conn) {
	for _, conn := range failed {
		if b.registry.Remove(conn) {
			slog.Warn("Connection removed after failed send")
		}
		if err := conn.Close(); err != nil {
			slog.Debug("Error closing pruned connection", "error", err)
		}
	}
}

// CloseAll closes every registered connection. Sessions notice the closed
// channel and run their own cleanup.
func (b *Broadcaster) CloseAll() int {
	conns := b.registry.Snapshot()
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			slog.Debug("Error closing connection during shutdown", "error", err)
		}
	}
	slog.Info("Closed client connections", "count", len(conns))
	return len(conns)
}

func containsConn(conns []Conn, target Conn) bool {
	for _, c := range conns {
		if c == target {
			return true
		}
	}
	return false
}
