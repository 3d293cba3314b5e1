// Package client connects to a notification hub, answers its heartbeat
// probes, and hands font change events to the caller.
package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/protocol"
)

// dialTimeout bounds how long connecting to the hub may take.
const dialTimeout = 30 * time.Second

// EventHandler receives every non-heartbeat message from the hub. It runs on
// the client's read goroutine, so long work should be dispatched elsewhere.
type EventHandler func(protocol.Message)

// Client is one session's view of the hub.
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	sessionID string

	writeMu sync.Mutex
}

// Dial connects to the hub at addr and waits for the welcome message that
// carries the session ID.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errors.WithContext(err, "dial hub")
	}

	c := &Client{conn: conn, reader: bufio.NewReader(conn)}
	welcome, err := c.readMessage()
	if err != nil {
		conn.Close()
		return nil, errors.WithContext(err, "read welcome")
	}

	complete, ok := welcome.(protocol.SyncComplete)
	if !ok || !complete.Success {
		conn.Close()
		return nil, errors.New("unexpected welcome message from hub")
	}

	c.sessionID = complete.ClientID
	log.WithFields(log.Fields{
		"addr":    addr,
		"session": c.sessionID,
	}).Info("Connected to notification hub")
	return c, nil
}

// SessionID returns the ID the hub assigned this session.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Run reads messages until the context is cancelled or the transport drops.
// Heartbeat probes are answered immediately; everything else goes to
// onEvent. Unknown tags are skipped for forward compatibility.
func (c *Client) Run(ctx context.Context, onEvent EventHandler) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		msg, err := c.readMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.RootCause(err) == io.EOF {
				return errors.New("hub closed the connection")
			}
			return errors.WithContext(err, "read")
		}

		if msg == nil {
			continue
		}

		if _, isProbe := msg.(protocol.Heartbeat); isProbe {
			if err := c.send(protocol.Heartbeat{}); err != nil {
				return errors.WithContext(err, "answer heartbeat")
			}
			continue
		}

		if onEvent != nil {
			onEvent(msg)
		}
	}
}

// RequestSync asks the hub to acknowledge a reconciliation pass.
func (c *Client) RequestSync() error {
	return c.send(protocol.SyncRequest{ClientID: c.sessionID})
}

// RequestFontList asks the hub for the store's current inventory. The
// response arrives through the Run handler.
func (c *Client) RequestFontList() error {
	return c.send(protocol.FontListRequest{})
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// readMessage decodes one newline-delimited message. Unknown tags yield
// (nil, nil) after being logged.
func (c *Client) readMessage() (protocol.Message, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	msg, err := protocol.Unmarshal(line)
	if err != nil {
		if unknown, ok := err.(protocol.UnknownMessageError); ok {
			log.WithField("type", unknown.TypeTag).
				Debug("Ignoring unknown message type from hub")
			return nil, nil
		}
		return nil, errors.WithContext(err, "decode")
	}
	return msg, nil
}

func (c *Client) send(msg protocol.Message) error {
	raw, err := protocol.Marshal(msg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(append(raw, '\n'))
	return err
}
