// Package server is the HTTP and WebSocket surface of the relay.
//
// Client adapts a gorilla/websocket connection to the chat session endpoint,
// Handler holds the HTTP handlers (socket upgrade, relay, landing page, health)
// and SetupRoutes mounts them on a gorilla/mux router. CreateServer,
// StartServer and ShutdownServer manage the http.Server lifecycle.
package server
