package anthropicprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"ghostwriter/internal/llm/core"
	"ghostwriter/internal/sse"
)

const (
	providerName = "anthropic"
	messagesPath = "v1/messages"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

// Provider is a thin wrapper around the official anthropic-sdk-go client.
type Provider struct {
	apiKey string
	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = core.NewStreamingHTTPClient(core.DefaultHeaderTimeout)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Provider{
		apiKey: apiKey,
		client: anthropic.NewClient(clientOptions...),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Open posts a streaming Messages API request and returns the raw SSE body.
func (p *Provider) Open(ctx context.Context, req *core.Request) (io.ReadCloser, error) {
	if p == nil {
		return nil, fmt.Errorf("anthropic provider is nil")
	}
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}

	params, err := toAnthropicSDKParams(req)
	if err != nil {
		return nil, err
	}

	var raw *http.Response
	if err := p.client.Post(ctx, messagesPath, params, &raw, option.WithJSONSet("stream", true)); err != nil {
		return nil, fmt.Errorf("post %s: %w", messagesPath, err)
	}
	if raw == nil || raw.Body == nil {
		return nil, fmt.Errorf("post %s: empty response", messagesPath)
	}
	return raw.Body, nil
}

// Decode maps one Messages API stream record to a stream event.
// message_delta carrying a stop reason is terminal; message_stop is not
// needed to finish the turn.
func (p *Provider) Decode(record sse.Record) (core.StreamEvent, error) {
	if record.Event == "error" || gjson.Get(record.Data, "type").String() == "error" {
		return core.StreamEvent{}, &core.UpstreamError{
			Kind:    gjson.Get(record.Data, "error.type").String(),
			Message: gjson.Get(record.Data, "error.message").String(),
		}
	}

	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(record.Data), &event); err != nil {
		return core.StreamEvent{}, fmt.Errorf("decode %s event: %w", providerName, err)
	}

	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
			return core.StreamEvent{DeltaText: delta.Text}, nil
		}
	case anthropic.MessageDeltaEvent:
		if variant.Delta.StopReason == "" {
			return core.StreamEvent{}, nil
		}
		reason, err := mapStopReason(string(variant.Delta.StopReason))
		if err != nil {
			return core.StreamEvent{}, err
		}
		return core.Finish(reason, ""), nil
	}
	return core.StreamEvent{}, nil
}
