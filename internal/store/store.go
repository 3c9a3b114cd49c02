package store

import (
	"context"

	"github.com/groblegark/kchat/internal/model"
)

// Membership answers which users may receive a group's events. The fanout
// manager re-checks it on every dispatch so that a revoked membership wins
// over stale local subscription state.
type Membership interface {
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Journal records dispatched events for the archive exporter.
type Journal interface {
	RecordEvent(ctx context.Context, entry *model.JournalEntry) error
	ListEvents(ctx context.Context, limit int) ([]*model.JournalEntry, error)
}

// Store defines the persistence interface for the chat service.
type Store interface {
	Membership
	Journal

	// Membership mutations
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error

	// Messaging rows. Plain writes; the change triggers installed by the
	// migrations emit the corresponding notifications on commit.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessage(ctx context.Context, id, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	AddReaction(ctx context.Context, r *model.Reaction) error
	RemoveReaction(ctx context.Context, messageID, sender, emoji string) error
	MarkRead(ctx context.Context, receipt *model.ReadReceipt) error

	// NotifyTyping publishes a typing relay on the notification channel
	// without a row write; typing state is ephemeral.
	NotifyTyping(ctx context.Context, groupID, userID string, typing bool) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
