package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/chatrelay/web"
)

// SetupRoutes mounts h on a router. metrics may be nil to leave /metrics out.
func SetupRoutes(h *Handler, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws/{client_id:[0-9]+}", h.WebSocket).Methods(http.MethodGet)
	r.HandleFunc("/relay", h.Relay).Methods(http.MethodPost)
	r.HandleFunc("/", h.Landing).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", web.StaticHandler()))

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	return r
}
