package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"akademik/api/internal/util"
)

// Subscriber is a callback invoked when a notification is published.
type Subscriber func(Notification)

type subscription struct {
	scope string
	fn    Subscriber
}

// Bus dispatches notifications to subscribers inline and persists them to a
// Store with a TTL.
type Bus struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu          sync.Mutex
	nextSubID   int
	subscribers map[int]subscription
}

// NewBus creates a notification bus backed by the given store.
// If store is nil, notifications are dispatched to subscribers but not kept.
// A non-positive ttl falls back to DefaultTTL.
func NewBus(store Store, ttl time.Duration) *Bus {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bus{
		store:       store,
		ttl:         ttl,
		now:         time.Now,
		subscribers: make(map[int]subscription),
	}
}

// TTL reports how long published notifications stay active.
func (b *Bus) TTL() time.Duration {
	return b.ttl
}

// Subscribe registers fn for notifications in scope. An empty scope receives
// every notification. The returned func removes the subscription.
func (b *Bus) Subscribe(scope string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = subscription{scope: scope, fn: fn}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Publish stamps, stores and dispatches a notification.
func (b *Bus) Publish(ctx context.Context, n Notification) Notification {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = b.now()
	}
	n.ExpiresAt = n.CreatedAt.Add(b.ttl)
	if n.Level == "" {
		n.Level = LevelInfo
	}

	if b.store != nil {
		if err := b.store.Save(ctx, n, b.ttl); err != nil {
			log.Error().Err(err).Str("scope", n.Scope).Str("message", n.Message).Msg("failed to persist notification")
		}
	}

	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.scope == "" || sub.scope == n.Scope {
			subs = append(subs, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
	return n
}

// Active returns the notifications of scope that have not expired yet.
func (b *Bus) Active(ctx context.Context, scope string) ([]Notification, error) {
	if b.store == nil {
		return []Notification{}, nil
	}
	return b.store.Active(ctx, scope)
}

// Scope returns a Sink publishing into scope.
func (b *Bus) Scope(scope string) Sink {
	return scopedSink{bus: b, scope: scope}
}

type scopedSink struct {
	bus   *Bus
	scope string
}

func (s scopedSink) Notify(level Level, message string) {
	s.bus.Publish(context.Background(), Notification{
		Scope:   s.scope,
		Level:   level,
		Message: message,
	})
}
