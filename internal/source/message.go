package source

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawMessage is one message as observed in a group chat. Immutable once read.
type RawMessage struct {
	Group     string
	Sender    string
	Timestamp time.Time
	Text      string

	// ID is derived from the message content, not assigned by the source:
	// WhatsApp Web offers no durable message ID, so identity must be stable
	// across repeated reads of the same history.
	ID string
}

// NewRawMessage builds a RawMessage with its derived identity.
func NewRawMessage(group, sender string, ts time.Time, text string) RawMessage {
	m := RawMessage{
		Group:     group,
		Sender:    sender,
		Timestamp: ts,
		Text:      text,
	}
	m.ID = identity(m)
	return m
}

// identity hashes group|sender|timestamp|text. Two reads of the same message
// always produce the same ID; any field change produces a different one.
func identity(m RawMessage) string {
	h := sha256.New()
	h.Write([]byte(m.Group))
	h.Write([]byte{0})
	h.Write([]byte(m.Sender))
	h.Write([]byte{0})
	h.Write([]byte(m.Timestamp.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(m.Text))
	return hex.EncodeToString(h.Sum(nil))
}
