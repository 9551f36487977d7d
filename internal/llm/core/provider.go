package core

import (
	"context"
	"io"

	"ghostwriter/internal/sse"
)

// Provider opens streaming chat completions against one upstream API.
//
// Open issues the request and returns the raw server-sent event body; it
// fails for non-2xx responses and network errors. Decode maps one decoded
// record to a StreamEvent. Records carrying nothing of interest decode to
// the zero StreamEvent.
type Provider interface {
	Name() string
	Open(ctx context.Context, req *Request) (io.ReadCloser, error)
	Decode(record sse.Record) (StreamEvent, error)
}

// Request is the provider-agnostic streaming request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// StreamEvent is one incremental chunk from the upstream endpoint.
// It is terminal when FinishReason is set.
type StreamEvent struct {
	DeltaText    string
	FinishReason *StopReason
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.FinishReason != nil
}

// Finish returns a terminal StreamEvent carrying reason.
func Finish(reason StopReason, delta string) StreamEvent {
	return StreamEvent{DeltaText: delta, FinishReason: &reason}
}

// EventType identifies stream event variants.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// DonePayload carries the final status when the stream ends.
type DonePayload struct {
	Reason StopReason
}

// Event is the provider-agnostic streaming event delivered to consumers.
type Event struct {
	Type      EventType
	TextDelta string
	Done      *DonePayload
	Err       error
}
