package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/kchat/internal/model"
)

// memJournal is an in-memory store.Journal for export tests.
type memJournal struct {
	mu      sync.Mutex
	entries []*model.JournalEntry
	listErr error
}

func (j *memJournal) RecordEvent(_ context.Context, entry *model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, entry)
	return nil
}

func (j *memJournal) ListEvents(_ context.Context, _ int) ([]*model.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listErr != nil {
		return nil, j.listErr
	}
	return append([]*model.JournalEntry(nil), j.entries...), nil
}

func seedJournal(t *testing.T, j *memJournal, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := j.RecordEvent(context.Background(), &model.JournalEntry{
			Kind:     "new_message",
			GroupID:  "g1",
			Payload:  json.RawMessage(`{"id":"m1"}`),
			OriginTS: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seeding journal: %v", err)
		}
	}
}

func TestExportJSONL(t *testing.T) {
	j := &memJournal{}
	seedJournal(t, j, 3)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), j, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}

	scanner := bufio.NewScanner(&buf)

	// First line is the header.
	if !scanner.Scan() {
		t.Fatal("missing header line")
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Type != "header" || h.EventCount != 3 {
		t.Errorf("header = %+v, want type=header count=3", h)
	}

	// Then one record per entry, in id order.
	var ids []int64
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		if r.Type != "event" {
			t.Errorf("record type = %q, want event", r.Type)
		}
		ids = append(ids, r.Data.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("record ids = %v, want [1 2 3]", ids)
	}
}

func TestExportJSONL_ListError(t *testing.T) {
	j := &memJournal{listErr: errors.New("db down")}
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), j, &buf); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

// memDestination captures written payloads.
type memDestination struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (d *memDestination) Write(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.writes = append(d.writes, append([]byte(nil), data...))
	return nil
}

func (d *memDestination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func TestScheduler_RunsInitialExport(t *testing.T) {
	j := &memJournal{}
	seedJournal(t, j, 1)
	dest := &memDestination{}

	s := NewScheduler(j, []Destination{dest}, time.Hour, slog.Default())
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for dest.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial export never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_DestinationErrorDoesNotStopOthers(t *testing.T) {
	j := &memJournal{}
	seedJournal(t, j, 1)
	bad := &memDestination{err: errors.New("bucket gone")}
	good := &memDestination{}

	s := NewScheduler(j, []Destination{bad, good}, time.Hour, slog.Default())
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for good.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("good destination never received the export")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
