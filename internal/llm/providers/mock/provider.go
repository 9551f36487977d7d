package mockprovider

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"ghostwriter/internal/llm/core"
	"ghostwriter/internal/sse"
)

// Provider replays a scripted byte stream for deterministic tests.
// Records use the OpenAI chat.completion.chunk shape.
type Provider struct {
	// Chunks are delivered one per Read, split exactly as given.
	Chunks []string
	// Delay is waited before each chunk.
	Delay time.Duration
	// Hold keeps the body open after the last chunk until ctx is cancelled.
	Hold bool
	// OpenErr, when set, fails Open without producing a body.
	OpenErr error

	mu       sync.Mutex
	requests []core.Request
}

// Name returns the provider identifier.
func (m *Provider) Name() string {
	return "mock"
}

// Open records req and returns a body replaying Chunks.
func (m *Provider) Open(ctx context.Context, req *core.Request) (io.ReadCloser, error) {
	m.mu.Lock()
	recorded := *req
	recorded.Messages = core.CloneMessages(req.Messages)
	m.requests = append(m.requests, recorded)
	m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &scriptBody{ctx: ctx, chunks: append([]string(nil), m.Chunks...), delay: m.Delay, hold: m.Hold}, nil
}

// Decode maps one chat.completion.chunk record to a stream event.
func (m *Provider) Decode(record sse.Record) (core.StreamEvent, error) {
	choice := gjson.Get(record.Data, "choices.0")
	ev := core.StreamEvent{DeltaText: choice.Get("delta.content").String()}
	if finish := choice.Get("finish_reason"); finish.Type == gjson.String {
		return core.Finish(core.StopReason(finish.String()), ev.DeltaText), nil
	}
	return ev, nil
}

// Requests returns every request passed to Open.
func (m *Provider) Requests() []core.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Request(nil), m.requests...)
}

type scriptBody struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
	hold   bool
}

func (b *scriptBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.hold {
			<-b.ctx.Done()
			return 0, b.ctx.Err()
		}
		return 0, io.EOF
	}
	if b.delay > 0 {
		timer := time.NewTimer(b.delay)
		select {
		case <-b.ctx.Done():
			timer.Stop()
			return 0, b.ctx.Err()
		case <-timer.C:
		}
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *scriptBody) Close() error {
	return nil
}
