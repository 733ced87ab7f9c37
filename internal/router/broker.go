package router

import (
	"sync"

	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"go.uber.org/zap"
)

// NotificationKind tells subscribers what happened.
type NotificationKind int

const (
	SessionCreated NotificationKind = iota
	SessionChanged
	SessionEvicted
	EndpointChanged
)

func (k NotificationKind) Name() string {
	switch k {
	case SessionCreated:
		return "SessionCreated"
	case SessionChanged:
		return "SessionChanged"
	case SessionEvicted:
		return "SessionEvicted"
	case EndpointChanged:
		return "EndpointChanged"
	default:
		return ""
	}
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.Name()), nil
}

// Notification is published to presentation layers whenever a session or
// endpoint changes.
type Notification struct {
	Kind     NotificationKind   `json:"kind"`
	Session  *session.Snapshot  `json:"session,omitempty"`
	Change   string             `json:"change,omitempty"`
	Endpoint *transfer.Endpoint `json:"endpoint,omitempty"`
}

// Broker fans notifications out to subscribers. A subscriber that does not
// keep up loses notifications rather than stalling the router.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs:   make(map[int]chan Notification),
		logger: logger,
	}
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Notification, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers n to every subscriber without blocking.
func (b *Broker) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warn("subscriber is not keeping up, dropping notification",
				zap.Int("subscriber", id),
				zap.String("kind", n.Kind.Name()))
		}
	}
}

// Close ends all subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
