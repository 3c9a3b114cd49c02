package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/store"
)

// mockStore is an in-memory store.Store for handler tests.
type mockStore struct {
	mu       sync.Mutex
	members  map[string]map[string]bool // group -> user set
	messages map[string]*model.Message
	journal  []*model.JournalEntry

	typingCalls []string // "group/user/typing"
	pingErr     error
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		members:  make(map[string]map[string]bool),
		messages: make(map[string]*model.Message),
	}
}

func (m *mockStore) addMember(groupID string, users ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[groupID]
	if !ok {
		set = make(map[string]bool)
		m.members[groupID] = set
	}
	for _, u := range users {
		set[u] = true
	}
}

func (m *mockStore) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for u := range m.members[groupID] {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockStore) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for g, set := range m.members {
		if set[userID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockStore) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[groupID][userID], nil
}

func (m *mockStore) AddMember(_ context.Context, groupID, userID string) error {
	m.addMember(groupID, userID)
	return nil
}

func (m *mockStore) RemoveMember(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[groupID], userID)
	return nil
}

func (m *mockStore) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.DeletedAt != nil {
		return nil, nil
	}
	return msg, nil
}

func (m *mockStore) UpdateMessage(_ context.Context, id, content string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.DeletedAt != nil {
		return nil, nil
	}
	msg.Content = content
	return msg, nil
}

func (m *mockStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return fmt.Errorf("message %s not found", id)
	}
	delete(m.messages, id)
	return nil
}

func (m *mockStore) AddReaction(_ context.Context, _ *model.Reaction) error { return nil }

func (m *mockStore) RemoveReaction(_ context.Context, _, _, _ string) error { return nil }

func (m *mockStore) MarkRead(_ context.Context, _ *model.ReadReceipt) error { return nil }

func (m *mockStore) NotifyTyping(_ context.Context, groupID, userID string, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typingCalls = append(m.typingCalls, fmt.Sprintf("%s/%s/%t", groupID, userID, typing))
	return nil
}

func (m *mockStore) RecordEvent(_ context.Context, entry *model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.journal) + 1)
	m.journal = append(m.journal, entry)
	return nil
}

func (m *mockStore) ListEvents(_ context.Context, _ int) ([]*model.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.JournalEntry(nil), m.journal...), nil
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

func (m *mockStore) Close() error { return nil }
