// Package notify carries short-lived user notifications. Every notification
// expires on its own after a fixed duration, independent of the others.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3000 * time.Millisecond

// ParseLevel maps a string to a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch Level(value) {
	case LevelSuccess, LevelWarning, LevelError:
		return Level(value)
	default:
		return LevelInfo
	}
}

// Notification represents a single notification event.
type Notification struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sink receives notifications. Notify never blocks on delivery and never fails.
type Sink interface {
	Notify(level Level, message string)
}

// Store keeps notifications until their TTL elapses.
type Store interface {
	Save(ctx context.Context, n Notification, ttl time.Duration) error
	Active(ctx context.Context, scope string) ([]Notification, error)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(Level, string) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(level Level, message string)

func (f SinkFunc) Notify(level Level, message string) { f(level, message) }

// Notifyf formats and sends a notification.
func Notifyf(sink Sink, level Level, format string, args ...any) {
	sink.Notify(level, fmt.Sprintf(format, args...))
}
