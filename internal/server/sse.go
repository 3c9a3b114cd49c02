package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/kchat/internal/registry"
)

// sseKeepaliveInterval is how often keepalive comments are sent to prevent
// idle connection timeouts at proxies.
const sseKeepaliveInterval = 15 * time.Second

// handleStream handles GET /v1/stream (SSE endpoint). Each request becomes
// one live Connection: registered with the fanout manager on open,
// unregistered on close, with an initial subscription set from the groups
// query parameter.
func (s *ChatServer) handleStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var groups []string
	if q := r.URL.Query().Get("groups"); q != "" {
		for _, g := range strings.Split(q, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				groups = append(groups, g)
			}
		}
	}

	conn := registry.NewConnection(user, groups)
	if err := s.manager.Register(r.Context(), conn); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The request context is already done by the time the defer runs; use a
	// fresh one so presence bookkeeping still completes.
	defer func() {
		unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.manager.Unregister(unregCtx, conn.ID); err != nil {
			s.logger.Warn("unregister on stream close failed",
				"conn_id", conn.ID, "error", err)
		}
	}()

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	// First frame tells the client its connection id so it can manage
	// subscriptions over the REST surface.
	hello, _ := json.Marshal(map[string]any{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"groups":        conn.Groups(),
	})
	fmt.Fprintf(w, "event:connected\ndata:%s\n\n", hello)
	flusher.Flush()

	s.logger.Info("stream opened",
		"conn_id", conn.ID, "user_id", user, "groups", conn.Groups())

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream closed", "conn_id", conn.ID, "user_id", user)
			return
		case out := <-conn.Outbox():
			if err := writeSSEEvent(w, out); err != nil {
				// Broken pipe; the deferred unregister cleans up.
				s.logger.Info("stream write failed",
					"conn_id", conn.ID, "error", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event frame. The id field carries the
// per-connection sequence for client-side dedup.
func writeSSEEvent(w http.ResponseWriter, out registry.Outbound) error {
	data, err := json.Marshal(out.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", out.Seq, out.Event.Kind, data)
	return err
}
