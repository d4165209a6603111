// Package session tracks live handshake state per connection key, the
// way session_manager.SessionManager tracked one *session.Session per
// key: a map guarded by a mutex, a stale-entry sweep goroutine, and a
// destroy channel for explicit early teardown. Unlike
// session_manager.go's sweep (which only evicted on two absolute
// timers), eviction here is
// parameterised by both an idle timeout and an absolute timeout so a
// connection that goes quiet is reclaimed sooner than one still making
// progress but simply long-lived.
package session

import (
	"sync"
	"time"

	"github.com/kovaden/tempesta/internal/handshake"
)

// Entry is one tracked connection's handshake state plus bookkeeping
// the sweep goroutine needs.
type Entry struct {
	Key        string
	State      *handshake.State
	lastSeen   time.Time
	created    time.Time
}

// Manager serializes access to live handshake state by connection key
// ("one map entry per connection key, guarded by a sync.Mutex for
// map mutation only").
type Manager struct {
	mu      sync.Mutex
	entries map[string]*Entry

	destroyChan chan string
	stopChan    chan struct{}
	wg          sync.WaitGroup

	idleTimeout    time.Duration
	absoluteTimeout time.Duration
}

// DefaultIdleTimeout and DefaultAbsoluteTimeout mirror
// session_manager.go's hard-coded 1200s/2400s sweep thresholds
// (monitorSessions), generalised into named constants that New copies
// into each Manager's unexported timeout fields instead of literals
// scattered through the sweep loop.
const (
	DefaultIdleTimeout     = 1200 * time.Second
	DefaultAbsoluteTimeout = 2400 * time.Second
)

// New creates a Manager and starts its sweep goroutine. Call Close to
// stop it and release all entries.
func New() *Manager {
	m := &Manager{
		entries:         map[string]*Entry{},
		destroyChan:     make(chan string, 16),
		stopChan:        make(chan struct{}),
		idleTimeout:     DefaultIdleTimeout,
		absoluteTimeout: DefaultAbsoluteTimeout,
	}
	m.wg.Add(2)
	go m.sweepLoop()
	go m.destroyLoop()
	return m
}

// Add registers a fresh handshake.State under key, replacing any
// existing entry for that key (a reused key implies the prior
// connection already closed).
func (m *Manager) Add(key string, st *handshake.State) *Entry {
	now := time.Now()
	e := &Entry{Key: key, State: st, lastSeen: now, created: now}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return e
}

// Get returns the tracked state for key, bumping its idle timer, or
// nil if no such connection is tracked (already evicted or unknown).
func (m *Manager) Get(key string) *handshake.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.lastSeen = time.Now()
	return e.State
}

// Destroy requests asynchronous removal of key's entry ("a destroy
// channel for explicit early teardown", mirroring destroyChan in
// session_manager.go — used when a connection's close is detected
// off the sweep goroutine's cadence, e.g. on read error).
func (m *Manager) Destroy(key string) {
	select {
	case m.destroyChan <- key:
	default:
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
	}
}

// Close stops the sweep and destroy goroutines and releases all
// tracked entries.
func (m *Manager) Close() {
	close(m.stopChan)
	m.wg.Wait()
	m.mu.Lock()
	m.entries = map[string]*Entry{}
	m.mu.Unlock()
}

// Count reports the number of tracked connections, for a caller that
// wants to log or bound concurrency.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if now.Sub(e.lastSeen) > m.idleTimeout || now.Sub(e.created) > m.absoluteTimeout {
			delete(m.entries, key)
		}
	}
}

func (m *Manager) destroyLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case key := <-m.destroyChan:
			m.mu.Lock()
			delete(m.entries, key)
			m.mu.Unlock()
		}
	}
}
