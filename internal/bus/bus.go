// Package bus carries lifecycle messages from the completion session to
// display surfaces and control commands back.
//
// Delivery is broadcast and fire-and-forget: a send reaches every receiver
// subscribed at that moment and fails with ErrNoReceiver when there is none.
// Each receiver reads from its own unbounded mailbox, so a slow surface never
// blocks the sender and messages from one sender arrive in order.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ghostwriter/internal/notify"
	"ghostwriter/internal/protocol"
)

var (
	// ErrNoReceiver indicates a message sent while no receiver was subscribed.
	ErrNoReceiver = errors.New("no receiver listening")
	// ErrClosed indicates the bus was shut down.
	ErrClosed = errors.New("bus closed")
)

// Subscription is one receiver's view of a channel.
type Subscription[T any] struct {
	c      <-chan T
	in     chan<- T
	done   chan struct{}
	once   sync.Once
	detach func()
}

// C returns the channel delivering messages. It is closed by Close or when the bus shuts down.
func (s *Subscription[T]) C() <-chan T {
	return s.c
}

// Close detaches the subscription and discards undelivered messages.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.detach()
		close(s.done)
	})
}

type topic[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	closed bool
}

func (t *topic[T]) subscribe(id uint64) *Subscription[T] {
	done := make(chan struct{})
	in, out := mailbox[T](mailboxInitialCap, mailboxHardLimit, done)
	sub := &Subscription[T]{c: out, in: in, done: done}
	sub.detach = func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(in)
		return sub
	}
	if t.subs == nil {
		t.subs = make(map[uint64]*Subscription[T])
	}
	t.subs[id] = sub
	return sub
}

func (t *topic[T]) publish(v T) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0, ErrClosed
	}
	for _, sub := range t.subs {
		sub.in <- v
	}
	return len(t.subs), nil
}

func (t *topic[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *topic[T]) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		close(sub.in)
		delete(t.subs, id)
	}
}

// Bus is the in-process message bus. The zero value is not usable; call New.
type Bus struct {
	nextID  atomic.Uint64
	forward topic[protocol.Message]
	taps    topic[protocol.Message]
	control topic[protocol.Control]
	notices topic[notify.Notification]
}

// New returns an open bus with no receivers.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a display surface on the forward channel.
func (b *Bus) Subscribe() *Subscription[protocol.Message] {
	return b.forward.subscribe(b.nextID.Add(1))
}

// Tap registers a passive observer of the forward channel. Taps see every
// message but do not count as receivers, so they never mask ErrNoReceiver.
func (b *Bus) Tap() *Subscription[protocol.Message] {
	return b.taps.subscribe(b.nextID.Add(1))
}

// Send broadcasts msg to every current receiver.
func (b *Bus) Send(msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := b.taps.publish(msg); err != nil {
		return err
	}
	n, err := b.forward.publish(msg)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("send %s: %w", msg.Name, ErrNoReceiver)
	}
	return nil
}

// Ping sends the smoke message and reports ErrNoReceiver when nobody is listening.
func (b *Bus) Ping() error {
	return b.Send(protocol.Smoke())
}

// Receivers returns the number of subscribed display surfaces.
func (b *Bus) Receivers() int {
	return b.forward.count()
}

// ListenControl registers a listener on the reverse channel.
func (b *Bus) ListenControl() *Subscription[protocol.Control] {
	return b.control.subscribe(b.nextID.Add(1))
}

// SendControl delivers a control command to every reverse-channel listener.
func (b *Bus) SendControl(cmd protocol.Control) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	n, err := b.control.publish(cmd)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("send control: %w", ErrNoReceiver)
	}
	return nil
}

// SubscribeNotices registers for user notifications. Notice subscribers are
// not receivers of the forward channel.
func (b *Bus) SubscribeNotices() *Subscription[notify.Notification] {
	return b.notices.subscribe(b.nextID.Add(1))
}

// Notify broadcasts n to notice subscribers. It implements notify.Notifier.
// Having no subscriber is not an error.
func (b *Bus) Notify(_ context.Context, n notify.Notification) error {
	_, err := b.notices.publish(n)
	return err
}

// Close shuts the bus down. Pending messages are still delivered, then
// every subscription channel is closed.
func (b *Bus) Close() {
	b.forward.close()
	b.taps.close()
	b.control.close()
	b.notices.close()
}
