// Package client provides a Go client for the chatd HTTP API, used by the
// CLI and available to other services that talk to the realtime subsystem.
package client

import (
	"context"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/presence"
)

// ChatClient is the interface for talking to a chatd server.
type ChatClient interface {
	// Messages
	CreateMessage(ctx context.Context, groupID, content string) (*model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessage(ctx context.Context, id, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	// Reactions and receipts
	AddReaction(ctx context.Context, messageID, emoji string) (*model.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, emoji string) error
	NotifyTyping(ctx context.Context, groupID string, typing bool) error
	MarkRead(ctx context.Context, groupID, messageID string) error

	// Membership
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error

	// Presence
	Presence(ctx context.Context) ([]*presence.Record, error)
	PresenceUser(ctx context.Context, userID string) (*presence.Record, error)
	GroupOnline(ctx context.Context, groupID string) ([]string, error)

	// Live stream subscription management
	Subscribe(ctx context.Context, connID, groupID string) error
	Unsubscribe(ctx context.Context, connID, groupID string) error

	// Health
	Health(ctx context.Context) (string, error)

	Close() error
}

// StreamEvent is one frame from the live SSE stream.
type StreamEvent struct {
	// Seq is the per-connection sequence carried in the SSE id field.
	Seq uint64
	// Event is the decoded payload. Nil for the initial connected frame.
	Event *events.Event
	// ConnectionID is set on the connected frame only.
	ConnectionID string
}
