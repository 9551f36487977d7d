package mockprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"ghostwriter/internal/llm/core"
)

// TestMockProviderStreamsScriptedChunks verifies deterministic event ordering
// when records straddle chunk boundaries.
func TestMockProviderStreamsScriptedChunks(t *testing.T) {
	t.Parallel()

	mp := &Provider{
		Chunks: []string{
			"data: {\"choices\":[{\"delta\":{\"content\":\"hel",
			"lo\"},\"finish_reason\":null}]}\n\ndata: {\"choices\":[{\"delta\":{},\"finish_reason\":\"length\"}]}\n\n",
		},
	}

	stream, err := core.Stream(context.Background(), mp, &core.Request{Model: "mock", Messages: []core.Message{core.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var got []core.EventType
	var last core.Event
	for ev := range stream {
		got = append(got, ev.Type)
		last = ev
	}

	want := []core.EventType{core.EventTextDelta, core.EventDone}
	if len(got) != len(want) {
		t.Fatalf("event count mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d mismatch: got %s want %s", i, got[i], want[i])
		}
	}
	if last.Done.Reason != core.StopReasonLength {
		t.Fatalf("reason = %q, want length", last.Done.Reason)
	}
	if reqs := mp.Requests(); len(reqs) != 1 || reqs[0].Messages[0].Content != "x" {
		t.Fatalf("recorded requests = %#v", reqs)
	}
}

func TestMockProviderHoldUntilCancelled(t *testing.T) {
	t.Parallel()

	mp := &Provider{Hold: true, Delay: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := core.Stream(ctx, mp, &core.Request{Model: "mock"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	cancel()

	var last core.Event
	for ev := range stream {
		last = ev
	}
	if last.Type != core.EventError || last.Done.Reason != core.StopReasonAborted {
		t.Fatalf("terminal = %#v, want aborted", last)
	}
	if !errors.Is(last.Err, context.Canceled) {
		t.Fatalf("err = %v, want context canceled", last.Err)
	}
}
