package whatsapp

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-relay/src/go/config"
	"whatsapp-relay/src/go/session"
)

// Adapter connects an Engine to the session store, the relay inbox and the
// notification stream. It is the only component that sends messages.
type Adapter struct {
	engine   Engine
	store    *session.Store
	events   *Broadcaster
	inbox    chan InboundMessage
	encode   QREncoder
	minDelay time.Duration
	maxDelay time.Duration
	logger   *logrus.Logger
}

func NewAdapter(engine Engine, store *session.Store, events *Broadcaster, sendCfg config.SendConfig, inboxSize int, logger *logrus.Logger) *Adapter {
	if inboxSize <= 0 {
		inboxSize = 100
	}
	a := &Adapter{
		engine:   engine,
		store:    store,
		events:   events,
		inbox:    make(chan InboundMessage, inboxSize),
		encode:   EncodeQRDataURL,
		minDelay: sendCfg.MinDelay,
		maxDelay: sendCfg.MaxDelay,
		logger:   logger,
	}
	engine.Subscribe(a.HandleEvent)
	return a
}

// SetQREncoder replaces the QR image encoder.
func (a *Adapter) SetQREncoder(encode QREncoder) {
	a.encode = encode
}

// Inbox is the mailbox of filtered inbound messages consumed by the relay.
func (a *Adapter) Inbox() <-chan InboundMessage {
	return a.inbox
}

func (a *Adapter) Start(ctx context.Context) error {
	return a.engine.Connect(ctx)
}

func (a *Adapter) Shutdown() {
	a.engine.Disconnect()
	a.store.SetDisconnected()
}

// HandleEvent applies an engine event to the session store and forwards
// inbound messages to the inbox.
func (a *Adapter) HandleEvent(evt Event) {
	switch e := evt.(type) {
	case QRIssued:
		qr, err := a.encode(e.Code)
		if err != nil {
			a.logger.Errorf("Failed to encode QR code: %v", err)
			return
		}
		a.store.SetAwaitingScan(qr)
		a.logger.Info("QR code ready for scanning")
		a.publish(e, map[string]interface{}{"qr": qr})

	case Ready:
		a.store.SetConnected(e.Account)
		a.logger.Infof("WhatsApp connected as %s (%s)", e.Account.Phone, e.Account.Platform)
		a.publish(e, map[string]interface{}{
			"phone":    e.Account.Phone,
			"platform": e.Account.Platform,
		})

	case Disconnected:
		a.store.SetDisconnected()
		a.logger.Warnf("WhatsApp disconnected: %s", e.Reason)
		a.publish(e, map[string]interface{}{"reason": e.Reason})

	case MessageReceived:
		a.handleMessage(e)

	default:
		a.logger.Debugf("Unhandled event type: %T", evt)
	}
}

func (a *Adapter) handleMessage(e MessageReceived) {
	raw := e.Message

	switch {
	case raw.IsFromMe:
		return
	case isGroupChat(raw.ChatID):
		a.logger.Debugf("Skipping group message %s from %s", raw.ID, raw.ChatID)
		return
	case isBroadcastChat(raw.ChatID):
		a.logger.Debugf("Skipping broadcast message %s", raw.ID)
		return
	case raw.Body == "":
		a.logger.Debugf("Skipping message %s without text body", raw.ID)
		return
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := InboundMessage{
		ID:         raw.ID,
		ChatID:     raw.ChatID,
		SenderID:   raw.SenderID,
		SenderName: raw.SenderName,
		Body:       raw.Body,
		Timestamp:  ts.UTC(),
	}

	a.publish(e, map[string]interface{}{
		"message_id":  msg.ID,
		"sender":      msg.SenderID,
		"sender_name": msg.SenderName,
		"text":        msg.Body,
	})

	select {
	case a.inbox <- msg:
	default:
		a.logger.Warnf("Relay inbox full, dropping message %s from %s", msg.ID, msg.SenderID)
	}
}

// SendMessage waits a randomized delay and sends body to the recipient.
// It fails with ErrNotConnected unless the session is connected, and wraps
// engine failures in *SendFailedError.
func (a *Adapter) SendMessage(ctx context.Context, to, body string) error {
	if !a.store.IsConnected() {
		return ErrNotConnected
	}

	delay := a.nextDelay()
	a.logger.Debugf("Applying message delay: %s", delay)
	if err := sleepContext(ctx, delay); err != nil {
		return err
	}

	// The session may have dropped during the wait
	if !a.store.IsConnected() {
		return ErrNotConnected
	}

	if err := a.engine.Send(ctx, to, body); err != nil {
		a.logger.Errorf("Failed to send message to %s: %v", to, err)
		return &SendFailedError{To: to, Err: err}
	}

	a.logger.Infof("Message sent successfully to %s", to)
	a.events.Publish(Notification{
		Type: "message_sent",
		Data: map[string]interface{}{"to": to},
		Time: time.Now(),
	})
	return nil
}

// nextDelay returns a duration in [minDelay, maxDelay).
func (a *Adapter) nextDelay() time.Duration {
	if a.maxDelay <= a.minDelay {
		return a.minDelay
	}
	return a.minDelay + time.Duration(rand.Int63n(int64(a.maxDelay-a.minDelay)))
}

func (a *Adapter) publish(evt Event, data map[string]interface{}) {
	a.events.Publish(Notification{
		Type: evt.eventKind(),
		Data: data,
		Time: time.Now(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
