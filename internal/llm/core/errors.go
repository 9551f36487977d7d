package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates missing or malformed provider request input.
	ErrInvalidRequest = errors.New("invalid llm request")
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrStreamTruncated indicates the byte stream ended before a terminal event.
	ErrStreamTruncated = errors.New("stream ended without finish reason")
	// ErrUpstream indicates an error event reported inside the stream by the endpoint.
	ErrUpstream = errors.New("upstream error")
)

// UpstreamError wraps an in-stream error payload.
type UpstreamError struct {
	Kind    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("upstream error: %s", e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}
