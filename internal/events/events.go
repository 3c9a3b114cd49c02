// Package events defines the typed events flowing through the dispatch
// pipeline, the wire format used on the Postgres notification channel, and
// the optional NATS egress bridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of state change an Event describes.
type Kind string

const (
	KindNewMessage      Kind = "new_message"
	KindMessageUpdated  Kind = "message_updated"
	KindMessageDeleted  Kind = "message_deleted"
	KindReactionAdded   Kind = "reaction_added"
	KindReactionRemoved Kind = "reaction_removed"
	KindTypingState     Kind = "typing_state"
	KindReadReceipt     Kind = "read_receipt"
	KindPresenceChanged Kind = "presence_changed"
)

// NATS subjects for the egress bridge, one per Kind.
const (
	TopicMessageCreated  = "chat.message.created"
	TopicMessageUpdated  = "chat.message.updated"
	TopicMessageDeleted  = "chat.message.deleted"
	TopicReactionAdded   = "chat.reaction.added"
	TopicReactionRemoved = "chat.reaction.removed"
	TopicTyping          = "chat.typing"
	TopicReadReceipt     = "chat.message.read"
	TopicPresence        = "chat.presence"
)

// kindTopics maps event kinds to their NATS bridge subjects.
var kindTopics = map[Kind]string{
	KindNewMessage:      TopicMessageCreated,
	KindMessageUpdated:  TopicMessageUpdated,
	KindMessageDeleted:  TopicMessageDeleted,
	KindReactionAdded:   TopicReactionAdded,
	KindReactionRemoved: TopicReactionRemoved,
	KindTypingState:     TopicTyping,
	KindReadReceipt:     TopicReadReceipt,
	KindPresenceChanged: TopicPresence,
}

// TopicFor returns the NATS subject for a kind, or "" for unknown kinds.
func TopicFor(k Kind) string {
	return kindTopics[k]
}

// Valid reports whether k is one of the defined event kinds.
func (k Kind) Valid() bool {
	_, ok := kindTopics[k]
	return ok
}

// Event is one immutable state change. Events are created by the Postgres
// change triggers (or synthesized by the fanout manager for presence), routed
// by GroupID, and discarded after delivery; durable history lives in the row
// store.
type Event struct {
	Kind     Kind            `json:"kind"`
	GroupID  string          `json:"group_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	OriginTS time.Time       `json:"ts"`
}

// maxWirePayload is the Postgres NOTIFY payload limit. The change triggers
// keep payloads under it by truncating message content to a snippet; the
// decoder rejects anything larger as malformed.
const maxWirePayload = 8000

// Decode parses a raw notification payload into an Event. Callers drop and
// log the error on failure; a malformed payload is never retried.
func Decode(raw []byte) (*Event, error) {
	if len(raw) > maxWirePayload {
		return nil, fmt.Errorf("payload exceeds %d bytes (%d)", maxWirePayload, len(raw))
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.GroupID == "" {
		return nil, fmt.Errorf("event %s missing group_id", e.Kind)
	}
	return &e, nil
}

// Encode marshals an event into its wire form.
func Encode(e *Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}

// MessagePayload is the payload for message lifecycle events. Content carries
// only a snippet on the wire; clients fetch the full row by ID.
type MessagePayload struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Snippet string `json:"snippet,omitempty"`
}

// ReactionPayload is the payload for reaction add/remove events.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Emoji     string `json:"emoji"`
}

// TypingPayload is the payload for typing state relays. The server does not
// track expiry; clients clear the indicator after ExpiresInMS.
type TypingPayload struct {
	User        string `json:"user"`
	Typing      bool   `json:"typing"`
	ExpiresInMS int    `json:"expires_in_ms,omitempty"`
}

// ReadReceiptPayload marks a message as read by a user.
type ReadReceiptPayload struct {
	User      string `json:"user"`
	MessageID string `json:"message_id"`
}

// PresencePayload is the payload for synthesized presence transitions.
type PresencePayload struct {
	User     string     `json:"user"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Publisher is the interface for the egress bridge.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
