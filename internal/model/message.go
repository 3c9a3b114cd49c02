// Package model holds the persisted row types for the messaging tables.
// Live Event delivery works off the change notifications these rows generate;
// the rows themselves are the durable history clients fetch when they need
// more than the wire snippet.
package model

import "time"

// Message is a persisted chat message row.
type Message struct {
	ID        string     `json:"id"`
	GroupID   string     `json:"group_id"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	MessageID string    `json:"message_id"`
	GroupID   string    `json:"group_id"`
	Sender    string    `json:"sender"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt marks the latest message a user has read in a group.
type ReadReceipt struct {
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}
