package chat

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Tyrowin/chatrelay/internal/hub"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Endpoint is the transport side of one client session.
type Endpoint interface {
	hub.Conn
	// Receive blocks for the next inbound text message. Any error ends the
	// session, whether it is a clean close or a broken channel.
	Receive() (string, error)
}

// State is the lifecycle position of a session.
type State int

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// JoinMessage is broadcast to everyone, the joining client included.
func JoinMessage(clientID int) string {
	return fmt.Sprintf("Client #%d joined the chat", clientID)
}

// ChatMessage attributes text to its sender.
func ChatMessage(clientID int, text string) string {
	return fmt.Sprintf("Client #%d: %s", clientID, text)
}

// LeaveMessage is broadcast after the client is gone.
func LeaveMessage(clientID int) string {
	return fmt.Sprintf("Client #%d left the chat", clientID)
}

// session holds the per-connection state. It is used for exactly one
// connection and never reused.
type session struct {
	id       string
	clientID int
	conn     Endpoint
	state    State
	logger   *slog.Logger
}

func newSession(clientID int, conn Endpoint) *session {
	id := uuid.NewString()
	return &session{
		id:       id,
		clientID: clientID,
		conn:     conn,
		state:    Connecting,
		logger:   logging.WithSession(id, clientID),
	}
}

func (s *session) transition(to State) {
	s.logger.Debug("Session state changed", "from", s.state.String(), "to", to.String())
	s.state = to
}
