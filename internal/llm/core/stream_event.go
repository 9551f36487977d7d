package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ghostwriter/internal/logger"
	"ghostwriter/internal/sse"
)

// SendEvent forwards an event unless the context has already been canceled.
func SendEvent(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- event:
		return nil
	}
}

// SendTerminalEvent emits a terminal event without cancellation checks.
// The events channel must have buffer capacity of at least 1 so that
// the goroutine does not hang when the consumer has stopped reading.
func SendTerminalEvent(events chan<- Event, event Event) {
	select {
	case events <- event:
	default:
	}
}

// Stream opens req on p and decodes the response body into events.
//
// The returned channel yields text deltas followed by exactly one terminal
// event: EventDone when the upstream reports a finish reason, or EventError
// otherwise. Cancelling ctx yields EventError with StopReasonAborted.
func Stream(ctx context.Context, p Provider, req *Request) (<-chan Event, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrInvalidRequest)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}

	body, err := p.Open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s open stream: %w", p.Name(), err)
	}

	events := make(chan Event, 1)
	go func() {
		defer close(events)
		defer func() {
			_ = body.Close()
		}()

		reader := sse.NewReader(body, sse.WithDropHandler(func(derr *sse.DecodeError) {
			logger.Warn("dropped stream record", "provider", p.Name(), "err", derr)
		}))
		for {
			record, err := reader.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = ErrStreamTruncated
				}
				sendFailure(ctx, events, p.Name(), err)
				return
			}

			ev, err := p.Decode(record)
			if err != nil {
				sendFailure(ctx, events, p.Name(), err)
				return
			}
			if ev.DeltaText != "" {
				if err := SendEvent(ctx, events, Event{Type: EventTextDelta, TextDelta: ev.DeltaText}); err != nil {
					sendFailure(ctx, events, p.Name(), err)
					return
				}
			}
			if ev.Terminal() {
				if err := SendEvent(ctx, events, Event{
					Type: EventDone,
					Done: &DonePayload{Reason: *ev.FinishReason},
				}); err != nil {
					sendFailure(ctx, events, p.Name(), err)
				}
				return
			}
		}
	}()

	return events, nil
}

func sendFailure(ctx context.Context, events chan<- Event, provider string, err error) {
	reason := StopReasonError
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = StopReasonAborted
		if ctx.Err() != nil {
			err = ctx.Err()
		}
	}
	event := Event{
		Type: EventError,
		Done: &DonePayload{Reason: reason},
		Err:  fmt.Errorf("%s stream: %w", provider, err),
	}
	select {
	case events <- event:
	case <-ctx.Done():
		SendTerminalEvent(events, event)
	}
}
