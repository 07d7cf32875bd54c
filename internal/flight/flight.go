// Package flight keeps at most one AI generation running per section across
// API replicas.
package flight

import (
	"context"
	"errors"
	"sync"
	"time"

	"akademik/api/internal/util"
)

// ErrHeld is returned when another caller holds the key.
var ErrHeld = errors.New("flight already in progress")

// DefaultTTL bounds how long a lease survives a crashed holder.
const DefaultTTL = 2 * time.Minute

// Guard hands out exclusive leases on keys.
type Guard interface {
	// TryAcquire takes key for ttl or returns ErrHeld. The returned func
	// releases the lease if it is still owned by this caller.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// LocalGuard is an in-process Guard used when Redis is not configured.
type LocalGuard struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]lease
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{
		now:    time.Now,
		leases: make(map[string]lease),
	}
}

func (g *LocalGuard) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if current, ok := g.leases[key]; ok && current.expiresAt.After(now) {
		return nil, ErrHeld
	}
	token := util.NewID("")
	g.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if current, ok := g.leases[key]; ok && current.token == token {
			delete(g.leases, key)
		}
	}, nil
}
