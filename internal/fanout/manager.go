// Package fanout routes decoded events to the live connections that are both
// subscribed to the event's group and authorized by the membership store. It
// also owns presence bookkeeping: connection register/unregister drives the
// tracker and synthesizes presence_changed events for shared groups.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/presence"
	"github.com/groblegark/kchat/internal/registry"
	"github.com/groblegark/kchat/internal/store"
)

const (
	// defaultSendTimeout bounds how long dispatch waits on one connection's
	// full outbox before counting a failure.
	defaultSendTimeout = time.Second

	// defaultFailureLimit is how many consecutive failed sends a connection
	// survives before it is treated as dead and unregistered.
	defaultFailureLimit = 3
)

// Config tunes delivery behavior. Zero values pick the defaults above.
type Config struct {
	SendTimeout  time.Duration
	FailureLimit int
}

// Manager is the fanout manager. Dispatch runs on the listener goroutine;
// Register/Unregister/Subscribe run concurrently from connection lifecycle
// handlers.
type Manager struct {
	registry  *registry.Registry
	presence  *presence.Tracker
	members   store.Membership
	journal   store.Journal // optional
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config
}

// New creates a manager. journal may be nil to disable the event journal;
// publisher may be a NoopPublisher when the NATS bridge is not configured.
func New(members store.Membership, journal store.Journal, publisher events.Publisher, logger *slog.Logger, cfg Config) *Manager {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = defaultFailureLimit
	}
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:  registry.New(),
		presence:  presence.New(),
		members:   members,
		journal:   journal,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// Registry exposes the connection registry for transport handlers.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Presence exposes the tracker for query handlers and the sweeper lifecycle.
func (m *Manager) Presence() *presence.Tracker { return m.presence }

// Register adds a connection, filters its initial subscriptions down to
// groups the user is a member of, and marks the user online. The
// offline-to-online transition synthesizes a presence_changed event for the
// user's groups.
func (m *Manager) Register(ctx context.Context, conn *registry.Connection) error {
	requested := conn.Groups()
	if err := m.registry.Add(conn); err != nil {
		return err
	}

	for _, g := range requested {
		ok, err := m.members.IsMember(ctx, g, conn.UserID)
		if err != nil {
			m.logger.Warn("membership check failed; dropping initial subscription",
				"conn_id", conn.ID, "group_id", g, "error", err)
		} else if !ok {
			m.logger.Info("dropping subscription to non-member group",
				"conn_id", conn.ID, "user_id", conn.UserID, "group_id", g)
		}
		if err != nil || !ok {
			_ = m.registry.Unsubscribe(conn.ID, g)
		}
	}

	if m.presence.ConnOpened(conn.UserID) {
		m.announcePresence(ctx, conn.UserID, true, nil)
	}
	return nil
}

// Unregister removes a connection from the registry and every group index
// entry. When it was the user's last live connection the user goes offline,
// last_seen is stamped, and a presence_changed event is synthesized.
func (m *Manager) Unregister(ctx context.Context, connID string) error {
	conn, err := m.registry.Remove(connID)
	if err != nil {
		return err
	}
	if wentOffline, lastSeen := m.presence.ConnClosed(conn.UserID); wentOffline {
		m.announcePresence(ctx, conn.UserID, false, &lastSeen)
	}
	return nil
}

// Subscribe adds a group subscription after verifying membership. A
// subscribe for an unknown connection or a non-member group is rejected,
// never fatal.
func (m *Manager) Subscribe(ctx context.Context, connID, groupID string) error {
	conn, ok := m.registry.Get(connID)
	if !ok {
		return registry.ErrUnknownConnection
	}
	member, err := m.members.IsMember(ctx, groupID, conn.UserID)
	if err != nil {
		return fmt.Errorf("membership check for %s: %w", groupID, err)
	}
	if !member {
		return fmt.Errorf("user %s is not a member of %s", conn.UserID, groupID)
	}
	return m.registry.Subscribe(connID, groupID)
}

// Unsubscribe drops a group subscription.
func (m *Manager) Unsubscribe(ctx context.Context, connID, groupID string) error {
	return m.registry.Unsubscribe(connID, groupID)
}

// Dispatch pushes an event to every qualifying connection: subscribed to the
// group, owned by a current member, and alive. Delivery to each connection is
// independent; one broken stream never blocks the rest.
func (m *Manager) Dispatch(ctx context.Context, e *events.Event) {
	members, err := m.members.GroupMembers(ctx, e.GroupID)
	if err != nil {
		m.logger.Warn("membership lookup failed; event not delivered",
			"kind", e.Kind, "group_id", e.GroupID, "error", err)
		return
	}
	memberSet := make(map[string]struct{}, len(members))
	for _, u := range members {
		memberSet[u] = struct{}{}
	}

	var dead []*registry.Connection
	for _, conn := range m.registry.ConnectionsFor(e.GroupID) {
		if _, ok := memberSet[conn.UserID]; !ok {
			// Stale subscription after a membership revocation.
			continue
		}
		if err := conn.Deliver(e, m.cfg.SendTimeout); err != nil {
			m.logger.Warn("delivery failed",
				"conn_id", conn.ID, "user_id", conn.UserID,
				"kind", e.Kind, "group_id", e.GroupID,
				"failures", conn.Failures(), "error", err)
			if conn.Failures() >= m.cfg.FailureLimit {
				dead = append(dead, conn)
			}
		}
	}

	for _, conn := range dead {
		m.logger.Info("removing dead connection",
			"conn_id", conn.ID, "user_id", conn.UserID)
		if err := m.Unregister(ctx, conn.ID); err != nil {
			m.logger.Warn("unregister of dead connection failed",
				"conn_id", conn.ID, "error", err)
		}
	}

	m.record(ctx, e)
	m.bridge(ctx, e)
}

// Online reports whether a user has at least one live connection.
func (m *Manager) Online(userID string) bool {
	return m.presence.Online(userID)
}

// GroupOnline returns the members of a group that are currently online.
func (m *Manager) GroupOnline(ctx context.Context, groupID string) ([]string, error) {
	members, err := m.members.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", groupID, err)
	}
	online := make([]string, 0, len(members))
	for _, u := range members {
		if m.presence.Online(u) {
			online = append(online, u)
		}
	}
	return online, nil
}

// announcePresence synthesizes a presence_changed event and dispatches it to
// every group the user belongs to, so members sharing a group see the
// transition.
func (m *Manager) announcePresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	groups, err := m.members.GroupsForUser(ctx, userID)
	if err != nil {
		m.logger.Warn("presence announce skipped; group lookup failed",
			"user_id", userID, "error", err)
		return
	}

	payload, err := json.Marshal(events.PresencePayload{
		User:     userID,
		Online:   online,
		LastSeen: lastSeen,
	})
	if err != nil {
		m.logger.Warn("presence payload marshal failed", "user_id", userID, "error", err)
		return
	}

	now := time.Now().UTC()
	for _, g := range groups {
		m.Dispatch(ctx, &events.Event{
			Kind:     events.KindPresenceChanged,
			GroupID:  g,
			Payload:  payload,
			OriginTS: now,
		})
	}
}

// record journals the event, skipping ephemeral kinds. Best-effort.
func (m *Manager) record(ctx context.Context, e *events.Event) {
	if m.journal == nil || e.Kind == events.KindTypingState {
		return
	}
	entry := &model.JournalEntry{
		Kind:     string(e.Kind),
		GroupID:  e.GroupID,
		Payload:  e.Payload,
		OriginTS: e.OriginTS,
	}
	if err := m.journal.RecordEvent(ctx, entry); err != nil {
		m.logger.Warn("failed to journal event",
			"kind", e.Kind, "group_id", e.GroupID, "error", err)
	}
}

// bridge republishes the event on NATS. Best-effort.
func (m *Manager) bridge(ctx context.Context, e *events.Event) {
	topic := events.TopicFor(e.Kind)
	if topic == "" {
		return
	}
	data, err := events.Encode(e)
	if err != nil {
		m.logger.Warn("failed to encode event for bridge", "kind", e.Kind, "error", err)
		return
	}
	if err := m.publisher.Publish(ctx, topic, data); err != nil {
		m.logger.Warn("failed to publish event to bridge",
			"topic", topic, "group_id", e.GroupID, "error", err)
	}
}
