package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/registry"
)

// NewHTTPHandler returns an http.Handler with all routes registered. When
// authToken is non-empty, requests (except GET /v1/health) must include a
// valid Authorization: Bearer <token> header.
func (s *ChatServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/connections/{id}/groups/{group}", s.handleSubscribe)
	mux.HandleFunc("DELETE /v1/connections/{id}/groups/{group}", s.handleUnsubscribe)
	mux.HandleFunc("GET /v1/presence", s.handlePresenceList)
	mux.HandleFunc("GET /v1/presence/{user}", s.handlePresenceGet)
	mux.HandleFunc("GET /v1/groups/{id}/online", s.handleGroupOnline)
	mux.HandleFunc("GET /v1/groups/{id}/members", s.handleListMembers)
	mux.HandleFunc("PUT /v1/groups/{id}/members/{user}", s.handleAddMember)
	mux.HandleFunc("DELETE /v1/groups/{id}/members/{user}", s.handleRemoveMember)
	mux.HandleFunc("POST /v1/groups/{id}/messages", s.handleCreateMessage)
	mux.HandleFunc("GET /v1/messages/{id}", s.handleGetMessage)
	mux.HandleFunc("PATCH /v1/messages/{id}", s.handleUpdateMessage)
	mux.HandleFunc("DELETE /v1/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("POST /v1/messages/{id}/reactions", s.handleAddReaction)
	mux.HandleFunc("DELETE /v1/messages/{id}/reactions/{emoji}", s.handleRemoveReaction)
	mux.HandleFunc("POST /v1/groups/{id}/typing", s.handleTyping)
	mux.HandleFunc("POST /v1/groups/{id}/read", s.handleMarkRead)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/ready", s.handleReady)

	var h http.Handler = mux
	h = AuthMiddleware(authToken, h)
	h = LoggingMiddleware(s.logger, h)
	h = RecoveryMiddleware(s.logger, h)
	return h
}

// handleHealth handles GET /v1/health.
func (s *ChatServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /v1/ready: healthy only when the database answers.
func (s *ChatServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleSubscribe handles POST /v1/connections/{id}/groups/{group}.
func (s *ChatServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	groupID := r.PathValue("group")

	err := s.manager.Subscribe(r.Context(), connID, groupID)
	switch {
	case errors.Is(err, registry.ErrUnknownConnection):
		writeError(w, http.StatusNotFound, "unknown connection")
	case err != nil:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"connection_id": connID,
			"group_id":      groupID,
		})
	}
}

// handleUnsubscribe handles DELETE /v1/connections/{id}/groups/{group}.
func (s *ChatServer) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	groupID := r.PathValue("group")

	if err := s.manager.Unsubscribe(r.Context(), connID, groupID); err != nil {
		if errors.Is(err, registry.ErrUnknownConnection) {
			writeError(w, http.StatusNotFound, "unknown connection")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePresenceList handles GET /v1/presence.
func (s *ChatServer) handlePresenceList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"users": s.manager.Presence().Snapshot(),
	})
}

// handlePresenceGet handles GET /v1/presence/{user}.
func (s *ChatServer) handlePresenceGet(w http.ResponseWriter, r *http.Request) {
	record, _ := s.manager.Presence().Get(r.PathValue("user"))
	writeJSON(w, http.StatusOK, record)
}

// handleGroupOnline handles GET /v1/groups/{id}/online.
func (s *ChatServer) handleGroupOnline(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	online, err := s.manager.GroupOnline(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"online":   online,
	})
}

// handleListMembers handles GET /v1/groups/{id}/members.
func (s *ChatServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	members, err := s.store.GroupMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"members":  members,
	})
}

// handleAddMember handles PUT /v1/groups/{id}/members/{user}.
func (s *ChatServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.AddMember(r.Context(), r.PathValue("id"), r.PathValue("user")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveMember handles DELETE /v1/groups/{id}/members/{user}.
func (s *ChatServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveMember(r.Context(), r.PathValue("id"), r.PathValue("user")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateMessage handles POST /v1/groups/{id}/messages. The insert is an
// ordinary row write; the change trigger turns the commit into a live event.
func (s *ChatServer) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	groupID := r.PathValue("id")

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if !s.requireMember(w, r, groupID, user) {
		return
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:        gonanoid.Must(),
		GroupID:   groupID,
		Sender:    user,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// handleGetMessage handles GET /v1/messages/{id}.
func (s *ChatServer) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleUpdateMessage handles PATCH /v1/messages/{id}.
func (s *ChatServer) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := s.store.UpdateMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleDeleteMessage handles DELETE /v1/messages/{id}.
func (s *ChatServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMessage(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddReaction handles POST /v1/messages/{id}/reactions.
func (s *ChatServer) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	msg, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if !s.requireMember(w, r, msg.GroupID, user) {
		return
	}

	reaction := &model.Reaction{
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		Sender:    user,
		Emoji:     req.Emoji,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddReaction(r.Context(), reaction); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, reaction)
}

// handleRemoveReaction handles DELETE /v1/messages/{id}/reactions/{emoji}.
func (s *ChatServer) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	if err := s.store.RemoveReaction(r.Context(), r.PathValue("id"), user, r.PathValue("emoji")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTyping handles POST /v1/groups/{id}/typing. Relay-only: the typing
// indicator rides the notification channel without a row write and expires
// client-side.
func (s *ChatServer) handleTyping(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	groupID := r.PathValue("id")

	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if !s.requireMember(w, r, groupID, user) {
		return
	}

	if err := s.store.NotifyTyping(r.Context(), groupID, user, req.Typing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleMarkRead handles POST /v1/groups/{id}/read.
func (s *ChatServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	groupID := r.PathValue("id")

	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	if !s.requireMember(w, r, groupID, user) {
		return
	}

	receipt := &model.ReadReceipt{
		GroupID:   groupID,
		UserID:    user,
		MessageID: req.MessageID,
		ReadAt:    time.Now().UTC(),
	}
	if err := s.store.MarkRead(r.Context(), receipt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// requireMember rejects the request when user is not a member of the group.
// Returns false after writing the error response.
func (s *ChatServer) requireMember(w http.ResponseWriter, r *http.Request, groupID, user string) bool {
	ok, err := s.store.IsMember(r.Context(), groupID, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member of "+groupID)
		return false
	}
	return true
}
