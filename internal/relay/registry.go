// Package relay implements the session lifecycle shared by the client and
// server session managers: the registry, liveness tracking, housekeeper,
// fragmenting/reassembling forwarders, and the data channel that carries
// obfuscated RelayData frames.
package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/detour-relay/detour/internal/dlog"
)

// Session is one end-to-end tunnelled connection, identified by its data
// endpoint URL. It owns the data channel and carries the cancellation plus
// last-activity timestamp the housekeeper and forwarders share. ID is a
// random per-session correlation tag for log lines, since the URL alone
// repeats across a session's lifetime in noisy logs.
type Session struct {
	URL string
	ID  string

	channel *DataChannel

	lastActivityNano int64

	closeOnce sync.Once
	onClose   func()
}

// NewSession wraps a data channel in a Session keyed by url. onClose is
// invoked exactly once, the first time the session is closed, after the
// channel itself has been closed.
func NewSession(url string, channel *DataChannel, onClose func()) *Session {
	s := &Session{URL: url, ID: uuid.NewString(), channel: channel, onClose: onClose}
	s.Touch()
	return s
}

// Touch refreshes the session's liveness timestamp. Every successful
// forwarder send/receive calls this.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastActivityNano, time.Now().UnixNano())
}

// IdleFor reports how long it has been since the last liveness refresh.
func (s *Session) IdleFor() time.Duration {
	last := atomic.LoadInt64(&s.lastActivityNano)
	return time.Since(time.Unix(0, last))
}

// Close is idempotent: it closes the data channel and invokes onClose
// exactly once. Closing an already-closed session logs a warning instead
// of calling onClose twice.
func (s *Session) Close() {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.channel.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	if !closed {
		dlog.Warnf("relay: session %s (%s) already closed", s.URL, s.ID)
	}
}

// Registry is the process-wide session table, keyed by data-endpoint URL.
// Liveness tracking lives on the Session itself rather than in a parallel
// map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert adds a session, keyed by its URL.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.URL] = s
}

// Get looks up a session by URL.
func (r *Registry) Get(url string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[url]
	return s, ok
}

// Remove deletes a session from the table. It does not close it; callers
// close before or after removing depending on which direction triggered
// teardown.
func (r *Registry) Remove(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, url)
}

// CloseAndRemove closes a session (idempotently) and removes it from the
// table as one atomic teardown operation, so no url is ever left pointing
// at a closed session.
func (r *Registry) CloseAndRemove(url string) {
	r.mu.Lock()
	s, ok := r.sessions[url]
	delete(r.sessions, url)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// All returns a snapshot of every currently registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Housekeeper periodically reaps sessions idle beyond keepAlive. It never
// touches sockets directly; it only triggers Session.Close via the
// registry.
type Housekeeper struct {
	registry  *Registry
	interval  time.Duration
	keepAlive time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHousekeeper builds a housekeeper over registry with the given
// wake interval and idle threshold.
func NewHousekeeper(registry *Registry, interval, keepAlive time.Duration) *Housekeeper {
	return &Housekeeper{
		registry:  registry,
		interval:  interval,
		keepAlive: keepAlive,
		stop:      make(chan struct{}),
	}
}

// Start launches the reaper loop in the background.
func (h *Housekeeper) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop signals the reaper loop to exit and waits for it.
func (h *Housekeeper) Stop() {
	close(h.stop)
	h.wg.Wait()
}

func (h *Housekeeper) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.reapOnce()
		}
	}
}

func (h *Housekeeper) reapOnce() {
	for _, s := range h.registry.All() {
		if s.IdleFor() >= h.keepAlive {
			dlog.Debugf("relay: reaping idle session %s", s.URL)
			h.registry.CloseAndRemove(s.URL)
		}
	}
}
