package hub

import (
	"bufio"
	"context"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/protocol"
)

// Serve accepts notification connections on lis until ctx is cancelled.
// Each connection is driven by its own goroutine; per-session failures never
// affect other sessions. Only the initial accept loop error is fatal.
func (h *Hub) Serve(ctx context.Context, lis net.Listener) error {
	go h.reap(ctx)

	go func() {
		<-ctx.Done()
		if err := lis.Close(); err != nil {
			log.WithError(err).Warn("Failed to close hub listener")
		}
		h.closeAll()
	}()

	log.WithField("addr", lis.Addr()).Info("Notification hub listening")
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.WithContext(err, "accept")
			}
		}

		go func() {
			if err := h.handleConn(ctx, conn); err != nil {
				log.WithError(err).WithField("addr", conn.RemoteAddr()).
					Info("Session ended")
			}
		}()
	}
}

// reap is the global backstop: it periodically evicts sessions that have
// been silent past the reaper threshold, guaranteeing bounded registry
// growth even if a per-connection timeout is itself stuck.
func (h *Hub) reap(ctx context.Context) {
	ticker := h.clock.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.sweep()
		}
	}
}

// handleConn runs one session: a single goroutine multiplexing inbound peer
// messages, the session's outbound queue, and its heartbeat timer.
func (h *Hub) handleConn(ctx context.Context, conn net.Conn) error {
	// The reader helper below parks on this context while handing over a
	// decoded message. Cancel it when the session ends so the reader never
	// outlives its connection.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := h.Connect(conn.RemoteAddr())
	defer h.Disconnect(session.ID)
	defer conn.Close()

	// Reading happens on a helper goroutine so the select below stays the
	// only place that decides what the session does next.
	inbound := make(chan protocol.Message)
	readerDone := make(chan error, 1)
	go func() {
		defer close(inbound)
		readerDone <- h.readLoop(ctx, conn, inbound)
	}()

	writer := bufio.NewWriter(conn)
	send := func(msg protocol.Message) error {
		raw, err := protocol.Marshal(msg)
		if err != nil {
			return errors.WithContext(err, "marshal")
		}
		if _, err := writer.Write(append(raw, '\n')); err != nil {
			return errors.WithContext(err, "write")
		}
		return errors.WithContext(writer.Flush(), "flush")
	}

	// Welcome message so the peer learns its session ID.
	err := send(protocol.SyncComplete{
		ClientID: session.ID,
		Success:  true,
		Message:  "connected to font sync hub",
	})
	if err != nil {
		return err
	}

	probe := h.clock.NewTicker(h.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-inbound:
			if !ok {
				// Transport dropped. The peer is responsible for
				// reconnecting; the hub just forgets the session.
				return <-readerDone
			}
			session.touch(h.clock.Now())
			if err := h.handleInbound(session, msg, send); err != nil {
				return err
			}

		case msg, ok := <-session.Out():
			if !ok {
				// Evicted by the reaper or hub shutdown.
				return nil
			}
			if err := send(msg); err != nil {
				return err
			}

		case <-probe.Chan():
			if err := send(protocol.Heartbeat{}); err != nil {
				return err
			}
			if session.sinceLastSeen(h.clock.Now()) > h.cfg.SessionTimeout {
				return errors.HeartbeatTimeoutError{SessionID: session.ID}
			}
		}
	}
}

// readLoop decodes newline-delimited messages from conn into out. Unknown
// tags are skipped for forward compatibility; malformed lines are logged
// and skipped rather than failing the protocol.
func (h *Hub) readLoop(ctx context.Context, conn net.Conn, out chan<- protocol.Message) error {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.WithContext(err, "read")
		}

		msg, err := protocol.Unmarshal(line)
		if err != nil {
			if unknown, ok := err.(protocol.UnknownMessageError); ok {
				log.WithField("type", unknown.TypeTag).
					Debug("Ignoring unknown message type")
			} else {
				log.WithError(err).WithField("addr", conn.RemoteAddr()).
					Warn("Dropping malformed message")
			}
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// handleInbound reacts to one message from the peer. The switch is
// exhaustive over the protocol's message kinds.
func (h *Hub) handleInbound(session *Session, msg protocol.Message,
	send func(protocol.Message) error) error {

	switch m := msg.(type) {
	case protocol.Heartbeat:
		// Liveness was already recorded; nothing else to do.
		return nil

	case protocol.FontListRequest:
		var fonts []protocol.FontInfo
		if h.listFonts != nil {
			fonts = h.listFonts()
		}
		return send(protocol.FontListResponse{Fonts: fonts})

	case protocol.SyncRequest:
		log.WithFields(log.Fields{
			"session": session.ID,
			"client":  m.ClientID,
		}).Info("Sync requested")
		return send(protocol.SyncComplete{
			ClientID: m.ClientID,
			Success:  true,
			Message:  "sync acknowledged",
		})

	case protocol.Ack:
		return nil

	case protocol.FontAdded, protocol.FontModified, protocol.FontRemoved,
		protocol.SyncComplete, protocol.FontListResponse:
		// Peer-originated change notifications are fanned out to everyone
		// else that is connected.
		h.Publish(msg)
		return nil

	default:
		// Decoded but unhandled kinds are ignored for forward compatibility.
		return nil
	}
}
