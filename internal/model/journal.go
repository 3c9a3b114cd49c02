package model

import (
	"encoding/json"
	"time"
)

// JournalEntry is a persisted record of a dispatched event, mirroring what
// was pushed to connected clients. Ephemeral kinds (typing) are not
// journaled. The archive exporter reads these back out as JSONL.
type JournalEntry struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	GroupID   string          `json:"group_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OriginTS  time.Time       `json:"origin_ts"`
	CreatedAt time.Time       `json:"created_at"`
}
