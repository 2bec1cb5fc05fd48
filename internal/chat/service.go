// Package chat runs client sessions and the relay endpoint on top of the
// connection hub and the peer forwarder.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/hub"
	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// Forwarder sends a message to the peer instance. Implementations swallow
// their own failures.
type Forwarder interface {
	Forward(ctx context.Context, message string)
}

// Service wires sessions to the broadcaster and forwarder.
type Service struct {
	broadcaster *hub.Broadcaster
	forwarder   Forwarder
	metrics     *metrics.Metrics

	sessions sync.WaitGroup
}

// NewService creates a Service. m may be nil.
func NewService(broadcaster *hub.Broadcaster, forwarder Forwarder, m *metrics.Metrics) *Service {
	return &Service{
		broadcaster: broadcaster,
		forwarder:   forwarder,
		metrics:     m,
	}
}

// Connected returns the number of registered connections.
func (s *Service) Connected() int {
	return s.broadcaster.Registry().Len()
}

// Serve runs the session for an accepted connection until the connection
// ends. It must be called once per connection.
func (s *Service) Serve(ctx context.Context, clientID int, conn Endpoint) {
	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := newSession(clientID, conn)
	// Forwards outlive the client: a disconnect must not cancel them.
	fwdCtx := context.WithoutCancel(ctx)

	defer s.close(fwdCtx, sess)
	s.activate(fwdCtx, sess)

	for {
		text, err := conn.Receive()
		if err != nil {
			sess.logger.Debug("Receive ended session", "error", err)
			return
		}
		s.relayFromClient(fwdCtx, sess, text)
	}
}

func (s *Service) activate(ctx context.Context, sess *session) {
	s.broadcaster.Registry().Add(sess.conn)
	s.metrics.ConnectionOpened()
	sess.transition(Active)
	sess.logger.Info("Client joined")

	join := JoinMessage(sess.clientID)
	s.broadcaster.Broadcast(join, nil)
	s.forwarder.Forward(ctx, join)
}

func (s *Service) relayFromClient(ctx context.Context, sess *session, text string) {
	msg := ChatMessage(sess.clientID, text)
	s.broadcaster.Broadcast(msg, sess.conn)
	s.forwarder.Forward(ctx, msg)
}

// close is the only cleanup path; every exit from Serve reaches it.
func (s *Service) close(ctx context.Context, sess *session) {
	wasActive := sess.state == Active
	sess.transition(Closed)

	if wasActive {
		s.broadcaster.Registry().Remove(sess.conn)
		s.metrics.ConnectionClosed()
		sess.logger.Info("Client left")

		leave := LeaveMessage(sess.clientID)
		s.broadcaster.Broadcast(leave, nil)
		s.forwarder.Forward(ctx, leave)
	}

	if err := sess.conn.Close(); err != nil {
		sess.logger.Debug("Error closing connection", "error", err)
	}
}

// PostRelay broadcasts a message that arrived from outside, normally the
// peer. It never forwards, so two peered instances cannot loop.
func (s *Service) PostRelay(message string) {
	s.metrics.RelayReceived()
	s.broadcaster.Broadcast(message, nil)
}

// Shutdown closes every connection and waits for the sessions to finish
// their cleanup, up to timeout.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.broadcaster.CloseAll()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
