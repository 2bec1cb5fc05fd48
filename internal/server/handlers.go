package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/web"
)

// Handler serves the relay's HTTP endpoints.
type Handler struct {
	service     *chat.Service
	upgrader    websocket.Upgrader
	clientOpts  ClientOptions
	serviceName string
	maxBodySize int64
}

// NewHandler builds the handlers for service using cfg.
func NewHandler(cfg *config.Config, service *chat.Service) *Handler {
	origins := newOriginPolicy(cfg.AllowedOrigins)

	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		clientOpts: ClientOptions{
			MaxMessageSize: cfg.MaxMessageSize,
			SendBufferSize: cfg.SendBufferSize,
			RateLimit:      cfg.RateLimit,
		},
		serviceName: cfg.ServiceName,
		maxBodySize: cfg.MaxMessageSize,
	}
}

// WebSocket upgrades the request and runs the chat session on the handler
// goroutine until the client goes away.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.Atoi(mux.Vars(r)["client_id"])
	if err != nil {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, h.clientOpts)
	go client.WritePump()

	h.service.Serve(r.Context(), clientID, client)
}

type relayRequest struct {
	Message *string `json:"message"`
}

// Relay accepts a message from the peer and broadcasts it locally. It never
// forwards the message on.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid relay body", http.StatusBadRequest)
		return
	}
	if req.Message == nil {
		http.Error(w, "missing message", http.StatusBadRequest)
		return
	}

	h.service.PostRelay(*req.Message)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Landing renders the browser chat page.
func (h *Handler) Landing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := web.RenderIndex(w, web.IndexData{ServiceName: h.serviceName}); err != nil {
		slog.Error("Error rendering landing page", "error", err)
	}
}

// Health reports that the server is up and how many clients are connected.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "%s is running with %d connected clients", h.serviceName, h.service.Connected())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error writing JSON response", "error", err)
	}
}
