package hub

import (
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fontsync/fontsync/pkg/protocol"
)

func testConfig(clock clockwork.Clock) Config {
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.QueueSize = 8
	return cfg
}

func testAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

func drain(s *Session) (msgs []protocol.Message) {
	for {
		select {
		case msg := <-s.Out():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestPublishFanOut(t *testing.T) {
	h := New(testConfig(clockwork.NewFakeClock()))

	first := h.Connect(testAddr())
	second := h.Connect(testAddr())
	require.Equal(t, 2, h.NumSessions())

	event := protocol.FontAdded{Filename: "Arial.ttf", SHA256: "abc", Size: 10}
	h.Publish(event)

	assert.Equal(t, []protocol.Message{event}, drain(first))
	assert.Equal(t, []protocol.Message{event}, drain(second))
}

func TestDisconnectStopsDelivery(t *testing.T) {
	h := New(testConfig(clockwork.NewFakeClock()))

	session := h.Connect(testAddr())
	h.Disconnect(session.ID)
	assert.Equal(t, 0, h.NumSessions())

	// The queue is closed and no further events arrive.
	h.Publish(protocol.FontRemoved{Filename: "Arial.ttf"})
	_, ok := <-session.Out()
	assert.False(t, ok)

	// Disconnecting twice is harmless.
	h.Disconnect(session.ID)
}

func TestSlowSessionDropsOldest(t *testing.T) {
	cfg := testConfig(clockwork.NewFakeClock())
	cfg.QueueSize = 2
	h := New(cfg)

	session := h.Connect(testAddr())
	for i := 0; i < 5; i++ {
		h.Publish(protocol.FontAdded{Filename: "font.ttf", SHA256: string(rune('a' + i))})
	}

	// The newest two events survive; the three oldest were dropped and
	// counted against the session.
	msgs := drain(session)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.FontAdded{Filename: "font.ttf", SHA256: "d"}, msgs[0])
	assert.Equal(t, protocol.FontAdded{Filename: "font.ttf", SHA256: "e"}, msgs[1])
	assert.Equal(t, uint64(3), session.Lagged())

	// The session stayed connected throughout.
	assert.Equal(t, 1, h.NumSessions())
}

func TestSweepEvictsSilentSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := New(testConfig(clock))

	silent := h.Connect(testAddr())
	chatty := h.Connect(testAddr())

	// Nothing is evicted before the threshold.
	clock.Advance(h.cfg.ReapTimeout - time.Second)
	assert.Empty(t, h.sweep())
	require.Equal(t, 2, h.NumSessions())

	// The chatty session keeps signalling liveness and survives every
	// sweep no matter how long it stays connected.
	h.Touch(chatty.ID)
	clock.Advance(2 * time.Second)

	evicted := h.sweep()
	require.Equal(t, []string{silent.ID}, evicted)
	assert.Equal(t, 1, h.NumSessions())

	// The evicted session's queue is closed: it receives nothing further.
	_, ok := <-silent.Out()
	assert.False(t, ok)

	h.Publish(protocol.FontAdded{Filename: "late.ttf"})
	assert.Len(t, drain(chatty), 1)
}

func TestResponsiveSessionNeverEvicted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := New(testConfig(clock))

	session := h.Connect(testAddr())
	for i := 0; i < 20; i++ {
		clock.Advance(h.cfg.ProbeInterval)
		h.Touch(session.ID)
		assert.Empty(t, h.sweep())
	}
	assert.Equal(t, 1, h.NumSessions())
}

func TestSessionIDsAreOpaqueAndUnique(t *testing.T) {
	h := New(testConfig(clockwork.NewFakeClock()))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		session := h.Connect(testAddr())
		assert.False(t, seen[session.ID])
		seen[session.ID] = true
	}
}
