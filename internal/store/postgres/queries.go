package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
)

// messageColumns is the column list used for SELECT statements on the
// messages table.
const messageColumns = `id, group_id, sender, content, created_at, updated_at, deleted_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGroupMembers(ctx context.Context, db executor, groupID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func queryGroupsForUser(ctx context.Context, db executor, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func queryIsMember(ctx context.Context, db executor, groupID, userID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func queryAddMember(ctx context.Context, db executor, groupID, userID string) error {
	// Groups are created implicitly on first membership.
	if _, err := db.ExecContext(ctx,
		`INSERT INTO groups (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, groupID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID, time.Now().UTC())
	return err
}

func queryRemoveMember(ctx context.Context, db executor, groupID, userID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

func queryCreateMessage(ctx context.Context, db executor, m *model.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, group_id, sender, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.GroupID, m.Sender, m.Content, m.CreatedAt, m.UpdatedAt)
	return err
}

func queryGetMessage(ctx context.Context, db executor, id string) (*model.Message, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND deleted_at IS NULL`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func queryUpdateMessage(ctx context.Context, db executor, id, content string) (*model.Message, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE messages SET content = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+messageColumns,
		id, content, time.Now().UTC())
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// queryDeleteMessage soft-deletes so history stays fetchable by moderators;
// the UPDATE trips the change trigger's message_deleted branch.
func queryDeleteMessage(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s not found", id)
	}
	return nil
}

func queryAddReaction(ctx context.Context, db executor, r *model.Reaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reactions (message_id, group_id, sender, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, sender, emoji) DO NOTHING`,
		r.MessageID, r.GroupID, r.Sender, r.Emoji, r.CreatedAt)
	return err
}

func queryRemoveReaction(ctx context.Context, db executor, messageID, sender, emoji string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND sender = $2 AND emoji = $3`,
		messageID, sender, emoji)
	return err
}

func queryMarkRead(ctx context.Context, db executor, receipt *model.ReadReceipt) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO read_receipts (group_id, user_id, message_id, read_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO UPDATE
		SET message_id = EXCLUDED.message_id, read_at = EXCLUDED.read_at`,
		receipt.GroupID, receipt.UserID, receipt.MessageID, receipt.ReadAt)
	return err
}

// queryNotifyTyping publishes a typing relay straight onto the notification
// channel. No row is written; typing state is ephemeral and expires
// client-side.
func queryNotifyTyping(ctx context.Context, db executor, groupID, userID string, typing bool) error {
	payload, err := json.Marshal(events.TypingPayload{
		User:        userID,
		Typing:      typing,
		ExpiresInMS: 5000,
	})
	if err != nil {
		return fmt.Errorf("marshal typing payload: %w", err)
	}
	data, err := events.Encode(&events.Event{
		Kind:     events.KindTypingState,
		GroupID:  groupID,
		Payload:  payload,
		OriginTS: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, "chat_events", string(data))
	return err
}

func queryRecordEvent(ctx context.Context, db executor, entry *model.JournalEntry) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO events (kind, group_id, payload, origin_ts)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		entry.Kind, entry.GroupID, jsonbBytes(entry.Payload), entry.OriginTS,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func queryListEvents(ctx context.Context, db executor, limit int) ([]*model.JournalEntry, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, group_id, payload, origin_ts, created_at
		FROM events ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
