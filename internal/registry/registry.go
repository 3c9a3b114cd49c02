// Package registry is the per-process set of open client streams: a primary
// map from connection id to Connection and a sharded secondary index from
// group id to subscribed connections. Dispatch for unrelated groups proceeds
// on independent shard locks.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"
)

var (
	// ErrUnknownConnection is returned for operations on a connection id
	// that is not (or no longer) registered. Callers treat it as a rejected
	// operation, not a fault.
	ErrUnknownConnection = errors.New("registry: unknown connection")

	// ErrDuplicateConnection is returned by Add when the id is already
	// registered.
	ErrDuplicateConnection = errors.New("registry: duplicate connection")
)

const groupShardCount = 16

// Registry holds the live connections for one server process.
type Registry struct {
	conns connMap
	index [groupShardCount]groupShard
}

type connMap struct {
	mu sync.RWMutex
	m  map[string]*Connection
}

type groupShard struct {
	mu sync.RWMutex
	// group id -> connection id -> connection
	groups map[string]map[string]*Connection
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{conns: connMap{m: make(map[string]*Connection)}}
	for i := range r.index {
		r.index[i].groups = make(map[string]map[string]*Connection)
	}
	return r
}

func (r *Registry) shard(group string) *groupShard {
	h := fnv.New32a()
	h.Write([]byte(group))
	return &r.index[h.Sum32()%groupShardCount]
}

// Add registers a connection and indexes its initial group subscriptions.
func (r *Registry) Add(c *Connection) error {
	r.conns.mu.Lock()
	if _, ok := r.conns.m[c.ID]; ok {
		r.conns.mu.Unlock()
		return ErrDuplicateConnection
	}
	r.conns.m[c.ID] = c
	r.conns.mu.Unlock()

	groups := c.Groups()
	for _, g := range groups {
		r.indexAdd(g, c)
	}

	// A concurrent Remove may have swept the index between its group
	// snapshot and our inserts. Re-check registration and roll back so the
	// index never outlives the primary map entry.
	if _, ok := r.Get(c.ID); !ok {
		for _, g := range groups {
			r.indexRemove(g, c.ID)
		}
	}
	return nil
}

// Remove unregisters a connection and drops it from every group index entry,
// returning the removed connection so callers can finish presence
// bookkeeping.
func (r *Registry) Remove(id string) (*Connection, error) {
	r.conns.mu.Lock()
	c, ok := r.conns.m[id]
	if !ok {
		r.conns.mu.Unlock()
		return nil, ErrUnknownConnection
	}
	delete(r.conns.m, id)
	r.conns.mu.Unlock()

	c.mu.Lock()
	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	c.groups = make(map[string]struct{})
	c.mu.Unlock()

	for _, g := range groups {
		r.indexRemove(g, id)
	}
	return c, nil
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.conns.mu.RLock()
	defer r.conns.mu.RUnlock()
	c, ok := r.conns.m[id]
	return c, ok
}

// Subscribe adds a group to a connection's subscription set and the index.
func (r *Registry) Subscribe(connID, group string) error {
	c, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	if _, dup := c.groups[group]; dup {
		c.mu.Unlock()
		return nil
	}
	c.groups[group] = struct{}{}
	c.mu.Unlock()

	r.indexAdd(group, c)

	// Remove may have run between the lookup and the index insert; its sweep
	// read c.groups before our entry and missed it. Re-check and roll back so
	// no dangling index entry survives for an unregistered connection.
	if _, ok := r.Get(connID); !ok {
		r.indexRemove(group, connID)
		return ErrUnknownConnection
	}
	return nil
}

// Unsubscribe removes a group from a connection's subscription set and the
// index. Unsubscribing from a group the connection never joined is a no-op.
func (r *Registry) Unsubscribe(connID, group string) error {
	c, ok := r.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	if _, sub := c.groups[group]; !sub {
		c.mu.Unlock()
		return nil
	}
	delete(c.groups, group)
	c.mu.Unlock()

	r.indexRemove(group, connID)
	return nil
}

// ConnectionsFor returns a stable snapshot of the connections subscribed to
// group. Mutations during a fanout pass cannot tear the returned slice.
func (r *Registry) ConnectionsFor(group string) []*Connection {
	s := r.shard(group)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.groups[group]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// ConnectionsForUser returns a snapshot of all live connections owned by a
// user.
func (r *Registry) ConnectionsForUser(userID string) []*Connection {
	r.conns.mu.RLock()
	defer r.conns.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns.m {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.conns.mu.RLock()
	defer r.conns.mu.RUnlock()
	return len(r.conns.m)
}

func (r *Registry) indexAdd(group string, c *Connection) {
	s := r.shard(group)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.groups[group]
	if !ok {
		set = make(map[string]*Connection)
		s.groups[group] = set
	}
	set[c.ID] = c
}

func (r *Registry) indexRemove(group, connID string) {
	s := r.shard(group)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.groups[group]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.groups, group)
	}
}
