package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/registry"
)

// fakeMembers is an in-memory membership store.
type fakeMembers struct {
	mu sync.Mutex
	// group id -> member set
	groups map[string]map[string]bool
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{groups: make(map[string]map[string]bool)}
}

func (f *fakeMembers) add(groupID string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.groups[groupID]
	if !ok {
		set = make(map[string]bool)
		f.groups[groupID] = set
	}
	for _, u := range users {
		set[u] = true
	}
}

func (f *fakeMembers) remove(groupID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[groupID], userID)
}

func (f *fakeMembers) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for u := range f.groups[groupID] {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeMembers) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for g, set := range f.groups {
		if set[userID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeMembers) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[groupID][userID], nil
}

// fakeJournal captures recorded entries.
type fakeJournal struct {
	mu      sync.Mutex
	entries []*model.JournalEntry
}

func (f *fakeJournal) RecordEvent(_ context.Context, entry *model.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeJournal) ListEvents(_ context.Context, _ int) ([]*model.JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.JournalEntry(nil), f.entries...), nil
}

// capturePublisher records bridged topics.
type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func messageEvent(group string) *events.Event {
	payload, _ := json.Marshal(events.MessagePayload{ID: "m1", Sender: "alice"})
	return &events.Event{
		Kind:     events.KindNewMessage,
		GroupID:  group,
		Payload:  payload,
		OriginTS: time.Now().UTC(),
	}
}

// drain empties a connection's outbox and returns the received events.
func drain(c *registry.Connection) []registry.Outbound {
	var out []registry.Outbound
	for {
		select {
		case o := <-c.Outbox():
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestDispatch_DeliversToSubscribedMembers(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob")
	m := New(members, nil, nil, nil, Config{})

	alice := registry.NewConnection("alice", []string{"g1"})
	bob := registry.NewConnection("bob", []string{"g1"})
	carol := registry.NewConnection("carol", nil) // not subscribed
	for _, c := range []*registry.Connection{alice, bob, carol} {
		if err := m.Register(ctx, c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	drain(alice)
	drain(bob)

	m.Dispatch(ctx, messageEvent("g1"))

	for _, c := range []*registry.Connection{alice, bob} {
		got := drain(c)
		if len(got) != 1 || got[0].Event.Kind != events.KindNewMessage {
			t.Errorf("%s received %d events, want exactly the message", c.UserID, len(got))
		}
	}
	if got := drain(carol); len(got) != 0 {
		t.Errorf("carol received %d events, want 0", len(got))
	}
}

func TestDispatch_RevokedMemberIsSkipped(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob")
	m := New(members, nil, nil, nil, Config{})

	bob := registry.NewConnection("bob", []string{"g1"})
	if err := m.Register(ctx, bob); err != nil {
		t.Fatalf("Register: %v", err)
	}
	drain(bob)

	// Revoke after the subscription is established: the stale subscription
	// must not leak events.
	members.remove("g1", "bob")

	m.Dispatch(ctx, messageEvent("g1"))

	if got := drain(bob); len(got) != 0 {
		t.Errorf("revoked member received %d events, want 0", len(got))
	}
}

func TestRegister_FiltersNonMemberGroups(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice")
	m := New(members, nil, nil, nil, Config{})

	conn := registry.NewConnection("alice", []string{"g1", "g2"})
	if err := m.Register(ctx, conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !conn.Subscribed("g1") {
		t.Error("member group subscription should survive")
	}
	if conn.Subscribed("g2") {
		t.Error("non-member group subscription should be dropped")
	}
}

func TestSubscribe_RejectsNonMember(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice")
	m := New(members, nil, nil, nil, Config{})

	conn := registry.NewConnection("alice", nil)
	if err := m.Register(ctx, conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.Subscribe(ctx, conn.ID, "g2"); err == nil {
		t.Fatal("Subscribe to non-member group should fail")
	}
	if err := m.Subscribe(ctx, conn.ID, "g1"); err != nil {
		t.Fatalf("Subscribe to member group: %v", err)
	}
}

func TestDispatch_RemovesDeadConnections(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice")
	m := New(members, nil, nil, nil, Config{
		SendTimeout:  time.Millisecond,
		FailureLimit: 3,
	})

	conn := registry.NewConnection("alice", []string{"g1"})
	if err := m.Register(ctx, conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Fill the outbox so every subsequent delivery times out. The presence
	// announce from Register occupies one slot already.
	for conn.Deliver(messageEvent("g1"), 0) == nil {
	}

	// Three failed dispatches cross the limit; the third removes it.
	for i := 0; i < 3; i++ {
		m.Dispatch(ctx, messageEvent("g1"))
	}

	if _, ok := m.Registry().Get(conn.ID); ok {
		t.Fatal("dead connection should have been unregistered")
	}
	if m.Online("alice") {
		t.Error("alice should be offline after her only connection died")
	}
}

func TestDispatch_BlockedConnectionDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob")
	timeout := 50 * time.Millisecond
	m := New(members, nil, nil, nil, Config{
		SendTimeout:  timeout,
		FailureLimit: 100, // keep the blocked connection registered
	})

	blocked := registry.NewConnection("alice", []string{"g1"})
	healthy := registry.NewConnection("bob", []string{"g1"})
	for _, c := range []*registry.Connection{blocked, healthy} {
		if err := m.Register(ctx, c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	drain(healthy)

	// Jam the blocked connection's outbox so its delivery times out.
	for blocked.Deliver(messageEvent("g1"), 0) == nil {
	}

	start := time.Now()
	m.Dispatch(ctx, messageEvent("g1"))
	elapsed := time.Since(start)

	got := drain(healthy)
	if len(got) != 1 || got[0].Event.Kind != events.KindNewMessage {
		t.Fatalf("healthy connection received %d events, want exactly the message", len(got))
	}
	// Dispatch pays at most one send timeout for the blocked sibling.
	if elapsed > 5*timeout {
		t.Fatalf("dispatch took %v with one blocked connection, want well under %v", elapsed, 5*timeout)
	}
}

func TestPresence_TransitionsAndAnnouncements(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob")
	m := New(members, nil, nil, nil, Config{})

	bob := registry.NewConnection("bob", []string{"g1"})
	if err := m.Register(ctx, bob); err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	drain(bob)

	// Alice comes online; bob shares g1 and sees the announcement.
	alice := registry.NewConnection("alice", []string{"g1"})
	if err := m.Register(ctx, alice); err != nil {
		t.Fatalf("Register alice: %v", err)
	}

	got := drain(bob)
	if len(got) != 1 || got[0].Event.Kind != events.KindPresenceChanged {
		t.Fatalf("bob received %d events, want one presence_changed", len(got))
	}
	var p events.PresencePayload
	if err := json.Unmarshal(got[0].Event.Payload, &p); err != nil {
		t.Fatalf("unmarshal presence payload: %v", err)
	}
	if p.User != "alice" || !p.Online {
		t.Errorf("payload = %+v, want alice online", p)
	}

	// Alice disconnects; bob sees the offline transition with last_seen.
	if err := m.Unregister(ctx, alice.ID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	got = drain(bob)
	if len(got) != 1 || got[0].Event.Kind != events.KindPresenceChanged {
		t.Fatalf("bob received %d events after disconnect, want one presence_changed", len(got))
	}
	if err := json.Unmarshal(got[0].Event.Payload, &p); err != nil {
		t.Fatalf("unmarshal presence payload: %v", err)
	}
	if p.Online || p.LastSeen == nil || p.LastSeen.IsZero() {
		t.Errorf("offline payload = %+v, want online=false with last_seen", p)
	}
}

func TestPresence_SecondDeviceIsNotATransition(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob")
	m := New(members, nil, nil, nil, Config{})

	bob := registry.NewConnection("bob", []string{"g1"})
	if err := m.Register(ctx, bob); err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	drain(bob)

	phone := registry.NewConnection("alice", []string{"g1"})
	laptop := registry.NewConnection("alice", []string{"g1"})
	if err := m.Register(ctx, phone); err != nil {
		t.Fatalf("Register phone: %v", err)
	}
	drain(bob) // online announcement for the first device

	if err := m.Register(ctx, laptop); err != nil {
		t.Fatalf("Register laptop: %v", err)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("second device produced %d presence events, want 0", len(got))
	}

	// Closing one device keeps alice online.
	if err := m.Unregister(ctx, phone.ID); err != nil {
		t.Fatalf("Unregister phone: %v", err)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("closing one of two devices produced %d events, want 0", len(got))
	}
	if !m.Online("alice") {
		t.Fatal("alice should still be online with one device open")
	}

	// Closing the last device is the offline transition.
	if err := m.Unregister(ctx, laptop.ID); err != nil {
		t.Fatalf("Unregister laptop: %v", err)
	}
	if got := drain(bob); len(got) != 1 {
		t.Fatalf("closing the last device produced %d events, want 1", len(got))
	}
	if m.Online("alice") {
		t.Fatal("alice should be offline")
	}
}

func TestGroupOnline(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice", "bob", "carol")
	m := New(members, nil, nil, nil, Config{})

	if err := m.Register(ctx, registry.NewConnection("alice", []string{"g1"})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	online, err := m.GroupOnline(ctx, "g1")
	if err != nil {
		t.Fatalf("GroupOnline: %v", err)
	}
	if len(online) != 1 || online[0] != "alice" {
		t.Errorf("GroupOnline = %v, want [alice]", online)
	}
}

func TestDispatch_JournalsDurableKindsOnly(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice")
	journal := &fakeJournal{}
	m := New(members, journal, nil, nil, Config{})

	m.Dispatch(ctx, messageEvent("g1"))
	m.Dispatch(ctx, &events.Event{
		Kind:     events.KindTypingState,
		GroupID:  "g1",
		OriginTS: time.Now().UTC(),
	})

	entries, _ := journal.ListEvents(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("journal has %d entries, want 1 (typing skipped)", len(entries))
	}
	if entries[0].Kind != string(events.KindNewMessage) {
		t.Errorf("journaled kind = %q, want new_message", entries[0].Kind)
	}
}

func TestDispatch_BridgesToPublisher(t *testing.T) {
	ctx := context.Background()
	members := newFakeMembers()
	members.add("g1", "alice")
	pub := &capturePublisher{}
	m := New(members, nil, pub, nil, Config{})

	m.Dispatch(ctx, messageEvent("g1"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.topics) != 1 || pub.topics[0] != events.TopicMessageCreated {
		t.Errorf("bridged topics = %v, want [%s]", pub.topics, events.TopicMessageCreated)
	}
}
