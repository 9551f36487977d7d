package anthropicprovider

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"ghostwriter/internal/llm/core"
	"ghostwriter/internal/sse"
)

type serializedAnthropicParams struct {
	Model       string                       `json:"model"`
	MaxTokens   int64                        `json:"max_tokens"`
	Messages    []serializedAnthropicMessage `json:"messages"`
	System      []serializedAnthropicBlock   `json:"system"`
	Temperature float64                      `json:"temperature"`
}

type serializedAnthropicMessage struct {
	Role    string                     `json:"role"`
	Content []serializedAnthropicBlock `json:"content"`
}

type serializedAnthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func decodeSDKParams(t *testing.T, params any) serializedAnthropicParams {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	var body serializedAnthropicParams
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	return body
}

// TestToAnthropicSDKParamsContinuation verifies the continuation history maps in order
// with the system prompt lifted out of the message list.
func TestToAnthropicSDKParamsContinuation(t *testing.T) {
	t.Parallel()

	temp := 0.3
	params, err := toAnthropicSDKParams(&core.Request{
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   512,
		Temperature: &temp,
		Messages: []core.Message{
			core.SystemMessage("Proofread the text."),
			core.UserMessage("this is a test."),
			core.AssistantMessage("Hello, world"),
			core.UserMessage("continue"),
		},
	})
	if err != nil {
		t.Fatalf("toAnthropicSDKParams() error = %v", err)
	}

	body := decodeSDKParams(t, params)
	if body.MaxTokens != 512 {
		t.Fatalf("max_tokens mismatch: got %d want %d", body.MaxTokens, 512)
	}
	if len(body.System) != 1 || body.System[0].Text != "Proofread the text." {
		t.Fatalf("unexpected system prompt mapping: %+v", body.System)
	}
	if math.Abs(body.Temperature-temp) > 1e-12 {
		t.Fatalf("temperature mismatch: got %v want %v", body.Temperature, temp)
	}
	wantRoles := []string{"user", "assistant", "user"}
	if len(body.Messages) != len(wantRoles) {
		t.Fatalf("message count mismatch: got %d want %d", len(body.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if body.Messages[i].Role != role {
			t.Fatalf("message %d role = %q, want %q", i, body.Messages[i].Role, role)
		}
	}
	if got := body.Messages[1].Content[0].Text; got != "Hello, world" {
		t.Fatalf("assistant text = %q, want verbatim replay", got)
	}
}

func TestToAnthropicSDKParamsPreservesWhitespaceInTextBlocks(t *testing.T) {
	t.Parallel()

	text := "  first line\nsecond line  "
	params, err := toAnthropicSDKParams(&core.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{core.UserMessage(text)},
	})
	if err != nil {
		t.Fatalf("toAnthropicSDKParams() error = %v", err)
	}

	body := decodeSDKParams(t, params)
	if body.MaxTokens != defaultMaxTokens {
		t.Fatalf("max_tokens = %d, want default %d", body.MaxTokens, defaultMaxTokens)
	}
	if body.Messages[0].Content[0].Text != text {
		t.Fatalf("mapped text mismatch: got %q want %q", body.Messages[0].Content[0].Text, text)
	}
}

func TestToAnthropicSDKParamsRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	if _, err := toAnthropicSDKParams(nil); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for nil request, got %v", err)
	}
	if _, err := toAnthropicSDKParams(&core.Request{Model: "   "}); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing model, got %v", err)
	}
	if _, err := toAnthropicSDKParams(&core.Request{Model: "m", Messages: []core.Message{core.SystemMessage("only system")}}); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty conversation, got %v", err)
	}
}

func TestToSDKMessagesRejectsUnsupportedRole(t *testing.T) {
	t.Parallel()

	_, err := toSDKMessages([]core.Message{{Role: core.Role("moderator"), Content: "x"}})
	if !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unsupported role, got %v", err)
	}
}

// TestMapStopReason verifies Anthropic stop reasons map to canonical stop reasons.
func TestMapStopReason(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   core.StopReason
		hasErr bool
	}{
		{name: "end_turn", input: "end_turn", want: core.StopReasonStop},
		{name: "stop_sequence", input: "stop_sequence", want: core.StopReasonStop},
		{name: "max_tokens", input: "max_tokens", want: core.StopReasonLength},
		{name: "refusal", input: "refusal", want: core.StopReasonError},
		{name: "unknown", input: "unknown_reason", hasErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mapStopReason(tc.input)
			if tc.hasErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStopReason() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("mapStopReason() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeRecords(t *testing.T) {
	t.Parallel()

	p := New(Config{APIKey: "k"})

	ev, err := p.Decode(sse.Record{Event: "content_block_delta", Data: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`})
	if err != nil || ev.DeltaText != "hi" || ev.Terminal() {
		t.Fatalf("text delta = %#v, %v", ev, err)
	}

	ev, err = p.Decode(sse.Record{Event: "ping", Data: `{"type":"ping"}`})
	if err != nil || ev.DeltaText != "" || ev.Terminal() {
		t.Fatalf("ping = %#v, %v", ev, err)
	}

	ev, err = p.Decode(sse.Record{Event: "message_delta", Data: `{"type":"message_delta","delta":{"stop_reason":"max_tokens","stop_sequence":null},"usage":{"output_tokens":9}}`})
	if err != nil || !ev.Terminal() || *ev.FinishReason != core.StopReasonLength {
		t.Fatalf("message_delta = %#v, %v", ev, err)
	}

	_, err = p.Decode(sse.Record{Event: "error", Data: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`})
	if !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("error event = %v, want ErrUpstream", err)
	}
}
