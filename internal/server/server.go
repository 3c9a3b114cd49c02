// Package server exposes the realtime core over HTTP: an SSE stream endpoint
// for live connections, registration/subscription management, presence
// queries, and the plain row-write endpoints whose commits feed the change
// notifier.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/groblegark/kchat/internal/fanout"
	"github.com/groblegark/kchat/internal/store"
)

// ChatServer ties the store and the fanout manager to the HTTP surface.
type ChatServer struct {
	store   store.Store
	manager *fanout.Manager
	logger  *slog.Logger
}

// New returns a ChatServer. The manager's dispatch side is driven externally
// by the notification listener.
func New(s store.Store, m *fanout.Manager, logger *slog.Logger) *ChatServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatServer{store: s, manager: m, logger: logger}
}

// Manager exposes the fanout manager so the serve command can wire the
// listener's dispatch callback.
func (s *ChatServer) Manager() *fanout.Manager { return s.manager }

// identityHeader carries the authenticated user identity. Authentication
// itself happens upstream (gateway or auth middleware); by the time a request
// reaches this subsystem the identity is already resolved.
const identityHeader = "X-Chat-User"

func identity(r *http.Request) string {
	return r.Header.Get(identityHeader)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
