// Package hub fans font change notifications out to every connected
// session and evicts sessions that stop responding to heartbeats.
package hub

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/protocol"
)

// Config holds the hub's timing and backpressure parameters.
type Config struct {
	// ProbeInterval is how often a heartbeat probe is sent to each session.
	ProbeInterval time.Duration

	// SessionTimeout is the per-connection liveness timeout. A session whose
	// last liveness signal is older than this when its probe fires is
	// evicted by its own serving goroutine.
	SessionTimeout time.Duration

	// ReapInterval is how often the global reaper sweeps the registry.
	ReapInterval time.Duration

	// ReapTimeout is the reaper's eviction threshold. It's deliberately
	// longer than SessionTimeout: the reaper is the backstop that bounds
	// registry growth even if a per-connection timeout is itself stuck.
	ReapTimeout time.Duration

	// QueueSize bounds each session's outbound queue. A slow consumer drops
	// its oldest undelivered events instead of blocking the publisher.
	QueueSize int

	// Clock drives all hub timers. Defaults to the real clock; tests
	// substitute a fake one.
	Clock clockwork.Clock
}

// DefaultConfig returns the reference timing parameters.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:  30 * time.Second,
		SessionTimeout: 120 * time.Second,
		ReapInterval:   60 * time.Second,
		ReapTimeout:    180 * time.Second,
		QueueSize:      1024,
	}
}

// Session is one live connection, tracked for delivery and liveness. The
// hub exclusively owns the session registry; nothing else mutates it.
type Session struct {
	ID   string
	Addr net.Addr

	out    chan protocol.Message
	lagged uint64

	mu       sync.Mutex
	lastSeen time.Time

	closeOnce sync.Once
}

// Out is the session's outbound event queue. It's closed when the session
// is disconnected or evicted.
func (s *Session) Out() <-chan protocol.Message {
	return s.out
}

// Lagged returns how many undelivered events this session has dropped.
func (s *Session) Lagged() uint64 {
	return atomic.LoadUint64(&s.lagged)
}

// touch records a liveness signal.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// sinceLastSeen returns how long the session has been silent.
func (s *Session) sinceLastSeen(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// enqueue delivers msg without ever blocking. If the queue is full the
// oldest undelivered event is dropped and counted, then delivery is
// retried.
func (s *Session) enqueue(msg protocol.Message) (dropped int) {
	for {
		select {
		case s.out <- msg:
			return dropped
		default:
		}

		select {
		case <-s.out:
			dropped++
			atomic.AddUint64(&s.lagged, 1)
		default:
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.out) })
}

// Hub maintains the session registry and fans published events out to every
// live session.
type Hub struct {
	cfg   Config
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]*Session

	// listFonts answers FontListRequest messages. Optional.
	listFonts func() []protocol.FontInfo
}

// New returns a Hub with the given config.
func New(cfg Config) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		cfg:      cfg,
		clock:    clock,
		sessions: map[string]*Session{},
	}
}

// SetFontLister installs the callback used to answer FontListRequest.
func (h *Hub) SetFontLister(listFonts func() []protocol.FontInfo) {
	h.listFonts = listFonts
}

// Connect registers a new session for the given peer address.
func (h *Hub) Connect(addr net.Addr) *Session {
	session := &Session{
		ID:       newSessionID(),
		Addr:     addr,
		out:      make(chan protocol.Message, h.cfg.QueueSize),
		lastSeen: h.clock.Now(),
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()

	log.WithFields(log.Fields{
		"session": session.ID,
		"addr":    addr,
	}).Info("Session connected")
	return session
}

// Disconnect removes a session from the registry and closes its queue.
// It's safe to call more than once.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	session, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	session.close()
	log.WithField("session", id).Info("Session disconnected")
}

// Publish delivers msg to every session that is live at the moment of the
// call. Delivery is a non-blocking enqueue per session: a slow consumer
// lags (and is logged) but never blocks the publisher or its peers.
func (h *Hub) Publish(msg protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, session := range h.sessions {
		if dropped := session.enqueue(msg); dropped > 0 {
			log.WithFields(log.Fields{
				"session": session.ID,
				"dropped": dropped,
				"total":   session.Lagged(),
			}).Warn("Slow session lagged; dropped oldest undelivered events")
		}
	}
}

// Touch records a liveness signal for the given session.
func (h *Hub) Touch(id string) {
	h.mu.RLock()
	session, ok := h.sessions[id]
	h.mu.RUnlock()

	if ok {
		session.touch(h.clock.Now())
	}
}

// NumSessions returns the number of live sessions.
func (h *Hub) NumSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// sweep evicts every session that has been silent for longer than the
// reaper threshold. It returns the evicted session IDs.
func (h *Hub) sweep() []string {
	now := h.clock.Now()

	h.mu.RLock()
	var expired []string
	for id, session := range h.sessions {
		if session.sinceLastSeen(now) > h.cfg.ReapTimeout {
			expired = append(expired, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range expired {
		log.WithField("session", id).Warn("Reaper evicting silent session")
		h.Disconnect(id)
	}
	return expired
}

// closeAll disconnects every session. Used on shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[string]*Session{}
	h.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

// newSessionID returns an opaque random session identifier.
func newSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to a time-derived ID; uniqueness is best-effort here.
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(buf[:])
}
