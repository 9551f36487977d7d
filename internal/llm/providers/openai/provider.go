package openaiprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"ghostwriter/internal/llm/core"
	"ghostwriter/internal/sse"
)

const (
	providerName     = "openai"
	chatPath         = "chat/completions"
	defaultMaxTokens = 1024
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider streams chat completions from any OpenAI-compatible endpoint.
type Provider struct {
	apiKey string
	client openai.Client
}

// New constructs a provider. Retries are disabled; a failed request is
// reported once and retried only by a fresh user action.
func New(cfg Config) *Provider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = core.NewStreamingHTTPClient(core.DefaultHeaderTimeout)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}

	return &Provider{
		apiKey: apiKey,
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Open posts a streaming chat completion and hands back the raw SSE body.
func (p *Provider) Open(ctx context.Context, req *core.Request) (io.ReadCloser, error) {
	if p == nil {
		return nil, fmt.Errorf("openai provider is nil")
	}
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}

	params, err := toChatParams(req)
	if err != nil {
		return nil, err
	}

	var raw *http.Response
	if err := p.client.Post(ctx, chatPath, params, &raw, option.WithJSONSet("stream", true)); err != nil {
		return nil, fmt.Errorf("post %s: %w", chatPath, err)
	}
	if raw == nil || raw.Body == nil {
		return nil, fmt.Errorf("post %s: empty response", chatPath)
	}
	return raw.Body, nil
}

// Decode maps one chat.completion.chunk record to a stream event.
func (p *Provider) Decode(record sse.Record) (core.StreamEvent, error) {
	if upstream := gjson.Get(record.Data, "error"); upstream.Exists() {
		return core.StreamEvent{}, &core.UpstreamError{
			Kind:    upstream.Get("type").String(),
			Message: upstream.Get("message").String(),
		}
	}

	choice := gjson.Get(record.Data, "choices.0")
	if !choice.Exists() {
		return core.StreamEvent{}, nil
	}

	delta := choice.Get("delta.content").String()
	finish := choice.Get("finish_reason")
	if finish.Type != gjson.String || finish.String() == "" {
		return core.StreamEvent{DeltaText: delta}, nil
	}
	return core.Finish(mapFinishReason(finish.String()), delta), nil
}

// mapFinishReason folds OpenAI finish reasons into canonical values.
func mapFinishReason(reason string) core.StopReason {
	switch reason {
	case "length":
		return core.StopReasonLength
	case "content_filter":
		return core.StopReasonError
	default:
		return core.StopReasonStop
	}
}

// toChatParams validates and converts a canonical request into SDK params.
func toChatParams(req *core.Request) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: request is nil", core.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: model is required", core.ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: messages are required", core.ErrInvalidRequest)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: unsupported role %q", core.ErrInvalidRequest, msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(req.Model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params, nil
}
