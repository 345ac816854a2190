package store

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxTerminal is how many stopped sessions a [MemoryStore] keeps
// unless configured otherwise.
const DefaultMaxTerminal = 1000

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage with a publish-subscribe mechanism
// for real-time updates. Records are keyed by session ID, with new records
// replacing previous values. A record in a terminal state is never replaced
// by a non-terminal one, so a late "polling" update cannot resurrect a
// finished session.
//
// Running sessions are always kept. Terminal records are retained only
// for a while: the oldest are evicted once more than maxTerminal have
// accumulated, and, with a TTL set, any that stopped longer ago than the
// TTL are evicted on the next write or listing.
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]SessionRecord
	subscribers map[chan SessionRecord]struct{}
	subMu       sync.RWMutex

	// terminal holds stopped sessions in the order they stopped.
	terminal    []terminalEntry
	maxTerminal int
	ttl         time.Duration
	now         func() time.Time
}

type terminalEntry struct {
	id        string
	stoppedAt time.Time
}

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithMaxTerminal caps how many stopped sessions are kept. Values below 1
// are ignored.
func WithMaxTerminal(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n >= 1 {
			m.maxTerminal = n
		}
	}
}

// WithTerminalTTL evicts stopped sessions older than ttl. Zero keeps them
// until the cap is reached.
func WithTerminalTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions:    make(map[string]SessionRecord),
		subscribers: make(map[chan SessionRecord]struct{}),
		maxTerminal: DefaultMaxTerminal,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update stores a [SessionRecord] and notifies all subscribers.
//
// Updates that would move a terminal record back to a non-terminal state
// are ignored and not published.
func (m *MemoryStore) Update(rec SessionRecord) {
	m.mu.Lock()
	prev, ok := m.sessions[rec.ID]
	if ok && prev.Terminal() && !rec.Terminal() {
		m.mu.Unlock()
		return
	}
	m.sessions[rec.ID] = rec
	if rec.Terminal() && !(ok && prev.Terminal()) {
		m.terminal = append(m.terminal, terminalEntry{id: rec.ID, stoppedAt: m.now()})
	}
	m.evictLocked()
	m.mu.Unlock()

	m.notifySubscribers(rec)
}

// evictLocked drops expired and excess terminal records. m.mu must be held.
func (m *MemoryStore) evictLocked() {
	drop := 0
	if m.ttl > 0 {
		cutoff := m.now().Add(-m.ttl)
		for drop < len(m.terminal) && m.terminal[drop].stoppedAt.Before(cutoff) {
			drop++
		}
	}
	if excess := len(m.terminal) - drop - m.maxTerminal; excess > 0 {
		drop += excess
	}
	if drop == 0 {
		return
	}
	for _, e := range m.terminal[:drop] {
		delete(m.sessions, e.id)
	}
	m.terminal = append(m.terminal[:0], m.terminal[drop:]...)
}

// Len returns how many records are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns the record for id.
func (m *MemoryStore) Get(id string) (SessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	return rec, ok
}

// GetAll returns a snapshot of all stored records, oldest session first.
//
// The returned slice is a copy; modifications do not affect the store.
func (m *MemoryStore) GetAll() []SessionRecord {
	m.mu.Lock()
	m.evictLocked()
	records := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		records = append(records, rec)
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan SessionRecord {
	ch := make(chan SessionRecord, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// updates will be sent. Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan SessionRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the record to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the message
// is dropped for that subscriber rather than blocking the update path.
func (m *MemoryStore) notifySubscribers(rec SessionRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
			// subscriber is slow, drop the message
		}
	}
}
