// Package protocol defines the notification messages exchanged between the
// broadcast hub and its sessions. Each message travels as a self-describing
// tagged JSON record so that peers running older builds can skip tags they
// don't understand instead of failing the whole connection.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fontsync/fontsync/pkg/errors"
)

// Message is implemented by every notification message kind.
type Message interface {
	// Tag returns the wire discriminant for the message kind.
	Tag() string
}

// Wire tags. Adding a new kind means adding a constant, a struct, and a case
// in Unmarshal, all of which the compiler checks at the consumers' switches.
const (
	TagFontAdded        = "FontAdded"
	TagFontModified     = "FontModified"
	TagFontRemoved      = "FontRemoved"
	TagFontListRequest  = "FontListRequest"
	TagFontListResponse = "FontListResponse"
	TagSyncRequest      = "SyncRequest"
	TagSyncComplete     = "SyncComplete"
	TagHeartbeat        = "Heartbeat"
	TagAck              = "Ack"
)

// FontAdded announces that a new font appeared in the store.
type FontAdded struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     uint64 `json:"size"`
}

func (FontAdded) Tag() string { return TagFontAdded }

// FontModified announces that a font's contents changed.
type FontModified struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     uint64 `json:"size"`
}

func (FontModified) Tag() string { return TagFontModified }

// FontRemoved announces that a font disappeared from the store.
type FontRemoved struct {
	Filename string `json:"filename"`
}

func (FontRemoved) Tag() string { return TagFontRemoved }

// FontListRequest asks the hub for the store's current inventory.
type FontListRequest struct{}

func (FontListRequest) Tag() string { return TagFontListRequest }

// FontInfo describes one font in a FontListResponse.
type FontInfo struct {
	Filename  string `json:"filename"`
	SHA256    string `json:"sha256"`
	Size      uint64 `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

// FontListResponse carries the store's current inventory.
type FontListResponse struct {
	Fonts []FontInfo `json:"fonts"`
}

func (FontListResponse) Tag() string { return TagFontListResponse }

// SyncRequest asks the hub to acknowledge that the session wants to
// reconcile against the store.
type SyncRequest struct {
	ClientID string `json:"client_id"`
}

func (SyncRequest) Tag() string { return TagSyncRequest }

// SyncComplete reports the outcome of a sync to the session that asked for
// it. It's also sent as the welcome message on connect.
type SyncComplete struct {
	ClientID string `json:"client_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

func (SyncComplete) Tag() string { return TagSyncComplete }

// Heartbeat is the liveness probe. The hub sends one per probe interval and
// counts any inbound message, Heartbeat included, as a liveness signal.
type Heartbeat struct{}

func (Heartbeat) Tag() string { return TagHeartbeat }

// Ack acknowledges a message by ID.
type Ack struct {
	MessageID string `json:"message_id"`
}

func (Ack) Tag() string { return TagAck }

// envelope is the on-wire layout: a type discriminant plus the payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnknownMessageError is returned by Unmarshal for tags this build doesn't
// know. Consumers log and ignore it rather than dropping the connection.
type UnknownMessageError struct {
	TypeTag string
}

func (err UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message type %q", err.TypeTag)
}

// Marshal encodes a message into its wire form.
func Marshal(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.WithContext(err, "marshal payload")
	}
	return json.Marshal(envelope{Type: msg.Tag(), Data: data})
}

// Unmarshal decodes a wire message. Unknown tags yield an
// UnknownMessageError; malformed JSON yields a wrapped decode error.
func Unmarshal(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WithContext(err, "decode envelope")
	}

	var msg Message
	switch env.Type {
	case TagFontAdded:
		msg = &FontAdded{}
	case TagFontModified:
		msg = &FontModified{}
	case TagFontRemoved:
		msg = &FontRemoved{}
	case TagFontListRequest:
		return FontListRequest{}, nil
	case TagFontListResponse:
		msg = &FontListResponse{}
	case TagSyncRequest:
		msg = &SyncRequest{}
	case TagSyncComplete:
		msg = &SyncComplete{}
	case TagHeartbeat:
		return Heartbeat{}, nil
	case TagAck:
		msg = &Ack{}
	default:
		return nil, UnknownMessageError{TypeTag: env.Type}
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, errors.WithContext(err, "decode payload")
		}
	}
	return deref(msg), nil
}

// deref returns the value pointed to so that consumers can switch over
// value types.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *FontAdded:
		return *m
	case *FontModified:
		return *m
	case *FontRemoved:
		return *m
	case *FontListResponse:
		return *m
	case *SyncRequest:
		return *m
	case *SyncComplete:
		return *m
	case *Ack:
		return *m
	default:
		return msg
	}
}
