package whatsapp

import "context"

//go:generate mockgen -source=engine.go -destination=mocks/mock_engine.go -package=mocks

// Engine is the opaque messaging capability. Implementations deliver
// lifecycle events to subscribed handlers and send plain text messages.
type Engine interface {
	Subscribe(handler func(Event))
	Connect(ctx context.Context) error
	Send(ctx context.Context, to, body string) error
	Disconnect()
}
