package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string              `json:"type"`
	Data *model.JournalEntry `json:"data"`
}

// ExportJSONL writes the event journal as JSONL to w, oldest first.
func ExportJSONL(ctx context.Context, journal store.Journal, w io.Writer) error {
	entries, err := journal.ListEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: len(entries),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range entries {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
	}

	return nil
}
