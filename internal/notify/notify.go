// Package notify delivers user-visible notifications for failures that
// prevent a generation from starting.
package notify

import (
	"context"
	"errors"
	"sync"

	"ghostwriter/internal/logger"
)

// Kind classifies a notification.
type Kind string

const (
	// KindMissingCredential asks the user to configure an API token.
	KindMissingCredential Kind = "missing_credential"
	// KindNoReceiver asks the user to open a display surface.
	KindNoReceiver Kind = "no_receiver"
)

// Notification is one message for the user.
type Notification struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
	// Persistent notifications stay until dismissed.
	Persistent bool `json:"persistent"`
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Log writes notifications to the structured log.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, n Notification) error {
	logger.Warn(n.Title, "kind", n.Kind, "body", n.Body)
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range f {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channel forwards notifications to C without blocking; when C is full the
// notification is dropped and logged.
type Channel struct {
	C chan Notification
}

// NewChannel returns a Channel with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{C: make(chan Notification, size)}
}

// Notify implements Notifier.
func (c *Channel) Notify(_ context.Context, n Notification) error {
	select {
	case c.C <- n:
	default:
		logger.Warn("notification dropped", "kind", n.Kind, "title", n.Title)
	}
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

// Items returns the recorded notifications in order.
func (r *Recorder) Items() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}
