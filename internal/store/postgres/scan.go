package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/groblegark/kchat/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanMessage scans a single row into a model.Message. The row must contain
// columns in the order defined by messageColumns.
func scanMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var deletedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.GroupID,
		&m.Sender,
		&m.Content,
		&m.CreatedAt,
		&m.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}

// scanJournalEntry scans one events row.
func scanJournalEntry(row scannable) (*model.JournalEntry, error) {
	var e model.JournalEntry
	var payload []byte

	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.GroupID,
		&payload,
		&e.OriginTS,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// jsonbBytes converts a raw JSON payload to a driver value for a jsonb
// column, mapping empty to NULL.
func jsonbBytes(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
