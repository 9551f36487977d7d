package tui

import (
	"fmt"
	"strings"
	"testing"

	"ghostwriter/internal/protocol"
)

func finishedTurn(i int) protocol.Turn {
	return protocol.Turn{
		ID:           fmt.Sprintf("t%d", i),
		Kind:         "proofreading",
		SourceText:   fmt.Sprintf("source %d", i),
		Segments:     []string{fmt.Sprintf("m%d", i)},
		FinishReason: protocol.FinishStop,
	}
}

func TestChatModelRenderUsesViewportAndScroll(t *testing.T) {
	t.Parallel()

	chat := NewChatModel(ResolveTheme("plain"))
	chat.SetWidth(80)
	chat.SetViewportHeight(4)

	turns := make([]protocol.Turn, 0, 5)
	for i := 1; i <= 5; i++ {
		turns = append(turns, finishedTurn(i))
	}
	chat.SetTurns(turns)

	rendered := chat.Render(80)
	if strings.Contains(rendered, "#1 ") || strings.Contains(rendered, "#2 ") {
		t.Fatalf("expected initial render at bottom, got %q", rendered)
	}
	if !strings.Contains(rendered, "#5 proofreading:") {
		t.Fatalf("expected bottom window to include turn 5, got %q", rendered)
	}

	chat.ScrollToTop()
	rendered = chat.Render(80)
	if !strings.Contains(rendered, "#1 proofreading:") {
		t.Fatalf("expected scrolled render to include turn 1, got %q", rendered)
	}
	if strings.Contains(rendered, "#5 ") {
		t.Fatalf("expected scrolled render to exclude turn 5, got %q", rendered)
	}

	// A view scrolled away from the bottom stays put when output grows.
	turns = append(turns, finishedTurn(6))
	chat.SetTurns(turns)
	if chat.scrollTop != 0 {
		t.Fatalf("scrollTop = %d, want 0 after new turn while scrolled up", chat.scrollTop)
	}
}

func TestChatModelRendersTurnStates(t *testing.T) {
	t.Parallel()

	chat := NewChatModel(ResolveTheme("plain"))
	chat.SetWidth(80)
	chat.SetTurns([]protocol.Turn{
		{ID: "a", Kind: "proofreading", SourceText: "multi\nline   source", Segments: []string{"partial"}, Control: protocol.ControlState{CanStop: true}},
		{ID: "b", Kind: "generate-title", SourceText: "x", Segments: []string{"**Bold** title"}, FinishReason: protocol.FinishStop},
		{ID: "c", Kind: "proofreading", SourceText: "y", Error: "request failed", FinishReason: protocol.FinishError},
		{ID: "d", Kind: "proofreading", SourceText: "z", Segments: []string{"cut"}, FinishReason: protocol.FinishCancelled},
	})

	rendered := chat.Render(80)
	for _, want := range []string{
		`#1 proofreading: "multi line source"`,
		"partial" + streamingCursor,
		"Bold",
		"title",
		"error: request failed",
		"stopped",
	} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("render missing %q:\n%s", want, rendered)
		}
	}
}

func TestQuotePreviewTruncates(t *testing.T) {
	t.Parallel()

	got := quotePreview(strings.Repeat("a", maxSourcePreview+10))
	if n := len([]rune(got)); n != maxSourcePreview+2 {
		t.Fatalf("preview rune length = %d, want %d", n, maxSourcePreview+2)
	}
	if !strings.HasSuffix(got, "…\"") {
		t.Fatalf("preview = %q, want ellipsis", got)
	}
}
