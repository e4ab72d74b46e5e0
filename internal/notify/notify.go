// Package notify delivers session lifecycle events to external listeners.
// Delivery is best-effort: publishers report errors, and Deliver logs and
// drops them so a failing listener never affects the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// EventSessionCompleted is emitted once per successful finish.
const EventSessionCompleted = "session:completed"

// DefaultPublishTimeout bounds a single fire-and-forget delivery.
const DefaultPublishTimeout = 5 * time.Second

// Event is a session lifecycle notification.
type Event struct {
	Name         string    `json:"event"`
	SessionID    string    `json:"sessionId"`
	Status       string    `json:"status"`
	DurationMs   int64     `json:"duration"`
	CompletedAt  time.Time `json:"completedAt"`
	MessageCount int64     `json:"messageCount"`
}

// Publisher is the notification port owned by whoever composes the ledger.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher, joining their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := publishSafely(ctx, p, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver publishes evt in the background, bounded by timeout. Errors and
// panics are logged, never returned. The returned channel closes when the
// attempt ends.
func Deliver(p Publisher, evt Event, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if p == nil {
		close(done)
		return done
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := publishSafely(ctx, p, evt); err != nil {
			log.Printf("notify: %s %s: %v", evt.Name, evt.SessionID, err)
		}
	}()
	return done
}

// publishSafely converts a listener panic into an error.
func publishSafely(ctx context.Context, p Publisher, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return p.Publish(ctx, evt)
}
