package openaiprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"ghostwriter/internal/llm/core"
	"ghostwriter/internal/sse"
)

func newChunkServer(t *testing.T, chunks []string, seen func(body []byte)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen(body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not implement flusher")
			return
		}
		for _, chunk := range chunks {
			_, _ = fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStreamProofreadingChunks(t *testing.T) {
	t.Parallel()

	var body []byte
	server := newChunkServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"This \"},\"finish_reason\":null}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"is a test.\"},\"finish_reason\":\"stop\"}]}\n\n",
		"data: [DONE]\n\n",
	}, func(b []byte) { body = b })

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	temperature := 0.2
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := core.Stream(ctx, p, &core.Request{
		Model: "gpt-4o-mini",
		Messages: []core.Message{
			core.SystemMessage("Proofread the text."),
			core.UserMessage("this is a test."),
		},
		MaxTokens:   256,
		Temperature: &temperature,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var deltas []string
	var done *core.DonePayload
	for ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			deltas = append(deltas, ev.TextDelta)
		case core.EventDone:
			done = ev.Done
		case core.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if len(deltas) != 2 || deltas[0] != "This " || deltas[1] != "is a test." {
		t.Fatalf("deltas = %q", deltas)
	}
	if done == nil || done.Reason != core.StopReasonStop {
		t.Fatalf("done = %#v, want stop", done)
	}

	if !gjson.GetBytes(body, "stream").Bool() {
		t.Fatalf("request body missing stream=true: %s", body)
	}
	if got := gjson.GetBytes(body, "max_tokens").Int(); got != 256 {
		t.Fatalf("max_tokens = %d, want 256", got)
	}
	if got := gjson.GetBytes(body, "messages.0.role").String(); got != "system" {
		t.Fatalf("messages.0.role = %q, want system", got)
	}
	if got := gjson.GetBytes(body, "messages.1.content").String(); got != "this is a test." {
		t.Fatalf("messages.1.content = %q", got)
	}
}

func TestOpenNon2xxIsError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := core.Stream(context.Background(), p, &core.Request{
		Model:    "gpt-4o-mini",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if err == nil {
		t.Fatalf("Stream() error = nil, want status error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly one attempt", calls.Load())
	}
}

func TestOpenWithoutKeyMakesNoRequest(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := p.Open(context.Background(), &core.Request{Model: "m", Messages: []core.Message{core.UserMessage("hi")}})
	if !errors.Is(err, core.ErrMissingAPIKey) {
		t.Fatalf("Open() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestDecodeMapping(t *testing.T) {
	t.Parallel()

	p := New(Config{APIKey: "k"})
	tests := []struct {
		name     string
		data     string
		delta    string
		terminal bool
		reason   core.StopReason
	}{
		{name: "role only", data: `{"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`},
		{name: "delta", data: `{"choices":[{"delta":{"content":"x"},"finish_reason":null}]}`, delta: "x"},
		{name: "length", data: `{"choices":[{"delta":{},"finish_reason":"length"}]}`, terminal: true, reason: core.StopReasonLength},
		{name: "stop with text", data: `{"choices":[{"delta":{"content":"."},"finish_reason":"stop"}]}`, delta: ".", terminal: true, reason: core.StopReasonStop},
		{name: "usage only", data: `{"choices":[],"usage":{"total_tokens":3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := p.Decode(sse.Record{Data: tt.data})
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if ev.DeltaText != tt.delta {
				t.Fatalf("DeltaText = %q, want %q", ev.DeltaText, tt.delta)
			}
			if ev.Terminal() != tt.terminal {
				t.Fatalf("Terminal() = %v, want %v", ev.Terminal(), tt.terminal)
			}
			if tt.terminal && *ev.FinishReason != tt.reason {
				t.Fatalf("FinishReason = %q, want %q", *ev.FinishReason, tt.reason)
			}
		})
	}
}

func TestDecodeErrorPayload(t *testing.T) {
	t.Parallel()

	p := New(Config{APIKey: "k"})
	_, err := p.Decode(sse.Record{Data: `{"error":{"message":"overloaded","type":"server_error"}}`})
	if !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("Decode() error = %v, want ErrUpstream", err)
	}
}
