// Package webhook forwards inbound WhatsApp messages to an external HTTP
// endpoint. Delivery is best effort: one POST per message, failures are
// logged and dropped.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"whatsapp-relay/src/go/config"
	"whatsapp-relay/src/go/whatsapp"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	DeliveryHeader  = "X-Webhook-Delivery"

	// dedupeWindow is how long a relayed message ID is remembered.
	dedupeWindow = 5 * time.Minute

	// timestampLayout is ISO-8601 with millisecond precision, e.g. 2026-10-17T15:04:05.000Z
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Reply is the optional JSON answer of the webhook.
type Reply struct {
	Response string `json:"response"`
}

// Sender delivers auto-replies back to the original chat.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

type Relay struct {
	cfg    config.WebhookConfig
	client *resty.Client
	sender Sender
	seen   *cache.Cache
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func New(cfg config.WebhookConfig, sender Sender, logger *logrus.Logger) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DefaultName == "" {
		cfg.DefaultName = "Cliente"
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "whatsapp-relay/1.0")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &Relay{
		cfg:    cfg,
		client: client,
		sender: sender,
		seen:   cache.New(dedupeWindow, 2*dedupeWindow),
		logger: logger,
	}
}

// Run relays every message read from inbox until ctx is done or inbox is
// closed, then waits for in-flight deliveries. Each delivery runs on its own
// goroutine so a slow webhook only delays its own message. Cancelling ctx
// stops intake only: started deliveries run until the webhook timeout.
func (r *Relay) Run(ctx context.Context, inbox <-chan whatsapp.InboundMessage) {
	defer r.wg.Wait()
	deliveryCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			r.wg.Add(1)
			go func(m whatsapp.InboundMessage) {
				defer r.wg.Done()
				r.Relay(deliveryCtx, m)
			}(msg)
		}
	}
}

// Relay posts one message to the webhook. It never returns an error: a
// missing URL, a transport failure or a non-2xx answer is only logged.
func (r *Relay) Relay(ctx context.Context, msg whatsapp.InboundMessage) {
	if r.cfg.URL == "" {
		r.logger.Warn("Webhook URL not configured, message not forwarded")
		return
	}

	if msg.ID != "" {
		if err := r.seen.Add(msg.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			r.logger.Debugf("Skipping duplicate message %s", msg.ID)
			return
		}
	}

	body, err := json.Marshal(r.payload(msg))
	if err != nil {
		r.logger.Errorf("Failed to encode webhook payload: %v", err)
		return
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeader(DeliveryHeader, uuid.NewString()).
		SetBody(body)
	if sig := Sign(r.cfg.Secret, body); sig != "" {
		req.SetHeader(SignatureHeader, sig)
	}

	resp, err := req.Post(r.cfg.URL)
	if err != nil {
		r.logger.Errorf("Webhook delivery failed for message %s: %v", msg.ID, err)
		return
	}
	if !resp.IsSuccess() {
		r.logger.Errorf("Webhook returned %d for message %s", resp.StatusCode(), msg.ID)
		return
	}

	r.logger.Debugf("Message %s from %s relayed (%d)", msg.ID, msg.SenderID, resp.StatusCode())

	if r.cfg.AutoReply {
		// The answer is decoded whatever its Content-Type says.
		var reply Reply
		if err := json.Unmarshal(resp.Body(), &reply); err != nil {
			r.logger.Debugf("Webhook answer for message %s is not a reply: %v", msg.ID, err)
			return
		}
		r.reply(ctx, msg, strings.TrimSpace(reply.Response))
	}
}

func (r *Relay) reply(ctx context.Context, msg whatsapp.InboundMessage, text string) {
	if text == "" || r.sender == nil {
		return
	}

	to := msg.ChatID
	if to == "" {
		to = msg.SenderID
	}
	if err := r.sender.SendMessage(ctx, to, text); err != nil {
		r.logger.Errorf("Failed to send webhook reply to %s: %v", to, err)
	}
}

func (r *Relay) payload(msg whatsapp.InboundMessage) Payload {
	name := msg.SenderName
	if name == "" {
		name = r.cfg.DefaultName
	}
	return Payload{
		Phone:     msg.SenderID,
		Name:      name,
		Message:   msg.Body,
		Timestamp: msg.Timestamp.UTC().Format(timestampLayout),
	}
}

// Sign returns the "sha256=<hex>" HMAC of body, or "" without a secret.
func Sign(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
