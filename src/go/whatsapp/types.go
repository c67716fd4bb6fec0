package whatsapp

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-relay/src/go/session"
)

// ErrNotConnected is returned when a send is attempted while the session is not connected.
var ErrNotConnected = errors.New("not connected")

// SendFailedError wraps an error returned by the engine's send primitive.
type SendFailedError struct {
	To  string
	Err error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("failed to send message to %s: %v", e.To, e.Err)
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}

// Event is emitted by an Engine. It is one of QRIssued, Ready, Disconnected
// or MessageReceived.
type Event interface {
	eventKind() string
}

// QRIssued carries a raw pairing code to be rendered as a QR image.
type QRIssued struct {
	Code string
}

// Ready reports a logged-in, connected session.
type Ready struct {
	Account session.AccountInfo
}

type Disconnected struct {
	Reason string
}

type MessageReceived struct {
	Message RawMessage
}

func (QRIssued) eventKind() string        { return "qr_code" }
func (Ready) eventKind() string           { return "connected" }
func (Disconnected) eventKind() string    { return "disconnected" }
func (MessageReceived) eventKind() string { return "message_received" }

// RawMessage is an inbound message as reported by the engine, before filtering.
type RawMessage struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Body       string
	Timestamp  time.Time
	IsFromMe   bool
}

// InboundMessage is a filtered message ready for relaying. It is not retained.
type InboundMessage struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notification represents a lifecycle event published to stream subscribers
type Notification struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Time time.Time              `json:"timestamp"`
}
