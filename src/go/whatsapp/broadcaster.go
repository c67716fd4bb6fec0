package whatsapp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Broadcaster fans notifications out to stream subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the notification.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Notification]struct{}
	buffer int
	logger *logrus.Logger
}

func NewBroadcaster(buffer int, logger *logrus.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[chan Notification]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(n Notification) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warnf("Subscriber buffer full, dropping %s notification", n.Type)
		}
	}
}
