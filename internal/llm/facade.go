package llm

import (
	"context"

	anthropicprovider "ghostwriter/internal/llm/providers/anthropic"
	mockprovider "ghostwriter/internal/llm/providers/mock"
	openaiprovider "ghostwriter/internal/llm/providers/openai"

	"ghostwriter/internal/llm/core"
)

type (
	// Provider is the public streaming provider contract.
	Provider = core.Provider

	// EventType enumerates stream event variants.
	EventType = core.EventType

	// Request and Event payload aliases define the public stream protocol.
	Request     = core.Request
	StreamEvent = core.StreamEvent
	DonePayload = core.DonePayload
	Event       = core.Event

	// Conversation-model aliases.
	Role       = core.Role
	StopReason = core.StopReason
	Message    = core.Message

	// UpstreamError is an error reported inside the stream.
	UpstreamError = core.UpstreamError

	// OpenAI* aliases expose the OpenAI-compatible provider.
	OpenAIConfig   = openaiprovider.Config
	OpenAIProvider = openaiprovider.Provider

	// Anthropic* aliases expose provider-specific configuration and implementation.
	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// MockProvider replays scripted byte chunks for tests.
	MockProvider = mockprovider.Provider
)

const (
	EventTextDelta = core.EventTextDelta
	EventDone      = core.EventDone
	EventError     = core.EventError

	RoleSystem    = core.RoleSystem
	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonError   = core.StopReasonError
	StopReasonAborted = core.StopReasonAborted
)

var (
	// ErrInvalidRequest indicates malformed canonical request payloads.
	ErrInvalidRequest = core.ErrInvalidRequest
	// ErrMissingAPIKey indicates missing provider credentials.
	ErrMissingAPIKey = core.ErrMissingAPIKey
	// ErrStreamTruncated indicates a stream that ended without a finish reason.
	ErrStreamTruncated = core.ErrStreamTruncated
	// ErrUpstream indicates an in-stream error event.
	ErrUpstream = core.ErrUpstream
)

// Stream opens req on p and decodes the response into events.
func Stream(ctx context.Context, p Provider, req *Request) (<-chan Event, error) {
	return core.Stream(ctx, p, req)
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message { return core.SystemMessage(content) }

// UserMessage returns a user-role message.
func UserMessage(content string) Message { return core.UserMessage(content) }

// AssistantMessage returns an assistant-role message.
func AssistantMessage(content string) Message { return core.AssistantMessage(content) }

// NewOpenAIProvider constructs an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	return openaiprovider.New(cfg)
}

// NewAnthropicProvider constructs an Anthropic provider with normalized defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}
