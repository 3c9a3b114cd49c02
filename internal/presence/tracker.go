// Package presence derives online/offline status from live connection
// counts.
//
// The Tracker maintains an in-memory map of per-user records, updated by the
// fanout manager as connections register and unregister. A user is online
// while at least one connection is open; last_seen is stamped when the last
// connection closes. A background sweeper evicts long-offline records so the
// map does not grow without bound.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Record is a snapshot of one user's presence state.
type Record struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Connections int       `json:"connections"`
}

// SweeperConfig configures the background record sweeper.
type SweeperConfig struct {
	// EvictAfter is how long an offline record is retained before removal.
	// Default: 1 hour.
	EvictAfter time.Duration

	// SweepInterval is how often the sweeper scans. Default: 60 seconds.
	SweepInterval time.Duration
}

// Tracker maintains the in-memory presence map.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*userState

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type userState struct {
	conns    int
	lastSeen time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{users: make(map[string]*userState)}
}

// ConnOpened records a new live connection for user and reports whether this
// was the offline-to-online transition. Idempotent with respect to presence:
// additional connections for an already-online user return false.
func (t *Tracker) ConnOpened(userID string) (wentOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.users[userID]
	if !ok {
		state = &userState{}
		t.users[userID] = state
	}
	state.conns++
	return state.conns == 1
}

// ConnClosed records a closed connection for user. When the last connection
// closes it stamps last_seen and reports the online-to-offline transition.
func (t *Tracker) ConnClosed(userID string) (wentOffline bool, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.users[userID]
	if !ok || state.conns == 0 {
		return false, time.Time{}
	}
	state.conns--
	if state.conns > 0 {
		return false, time.Time{}
	}
	state.lastSeen = time.Now().UTC()
	return true, state.lastSeen
}

// Online reports whether user has at least one live connection.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.users[userID]
	return ok && state.conns > 0
}

// Get returns the presence record for one user. The second return is false
// when the user has never been seen (or was evicted).
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.users[userID]
	if !ok {
		return Record{UserID: userID}, false
	}
	return Record{
		UserID:      userID,
		Online:      state.conns > 0,
		LastSeen:    state.lastSeen,
		Connections: state.conns,
	}, true
}

// Snapshot returns all tracked records, online users first, then by most
// recently seen.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]Record, 0, len(t.users))
	for id, state := range t.users {
		records = append(records, Record{
			UserID:      id,
			Online:      state.conns > 0,
			LastSeen:    state.lastSeen,
			Connections: state.conns,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Online != records[j].Online {
			return records[i].Online
		}
		if records[i].Online {
			return records[i].UserID < records[j].UserID
		}
		return records[i].LastSeen.After(records[j].LastSeen)
	})
	return records
}

// StartSweeper launches the background eviction goroutine. Call Stop to shut
// it down.
func (t *Tracker) StartSweeper(cfg *SweeperConfig) {
	if cfg == nil {
		cfg = &SweeperConfig{}
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.sweepStop = make(chan struct{})
	t.sweepDone = make(chan struct{})

	go t.sweepLoop(cfg)
	slog.Info("presence: sweeper started",
		"evict_after", cfg.EvictAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the sweeper goroutine.
func (t *Tracker) Stop() {
	if t.sweepStop != nil {
		close(t.sweepStop)
		<-t.sweepDone
		t.sweepStop = nil
		t.sweepDone = nil
	}
}

func (t *Tracker) sweepLoop(cfg *SweeperConfig) {
	defer close(t.sweepDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.sweepStop:
			return
		case <-ticker.C:
			t.sweep(cfg.EvictAfter)
		}
	}
}

func (t *Tracker) sweep(evictAfter time.Duration) {
	now := time.Now().UTC()
	var evicted int

	t.mu.Lock()
	for id, state := range t.users {
		if state.conns > 0 || state.lastSeen.IsZero() {
			continue
		}
		if now.Sub(state.lastSeen) > evictAfter {
			delete(t.users, id)
			evicted++
		}
	}
	t.mu.Unlock()

	if evicted > 0 {
		slog.Info("presence: evicted stale records", "count", evicted)
	}
}
