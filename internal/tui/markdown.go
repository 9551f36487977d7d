package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"ghostwriter/internal/logger"
)

const markdownCacheLimit = 256

// markdownRenderer renders finished turns with glamour. Renderers are built
// per wrap width, and output is memoized because View runs on every update.
type markdownRenderer struct {
	style     string
	width     int
	renderer  *glamour.TermRenderer
	cache     map[string]string
	disabled  bool
	lastError string
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{style: style, cache: make(map[string]string)}
}

// Render returns text rendered as markdown at width, or text unchanged when
// glamour cannot render it.
func (r *markdownRenderer) Render(text string, width int) string {
	if r == nil || r.disabled || strings.TrimSpace(text) == "" {
		return text
	}
	if width < 20 {
		width = 20
	}
	if width != r.width || r.renderer == nil {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			logger.Warn("markdown renderer unavailable", "style", r.style, "err", err)
			r.disabled = true
			return text
		}
		r.renderer = renderer
		r.width = width
		r.cache = make(map[string]string)
	}
	if out, ok := r.cache[text]; ok {
		return out
	}

	out, err := r.renderer.Render(text)
	if err != nil {
		if msg := err.Error(); msg != r.lastError {
			logger.Warn("render markdown", "err", err)
			r.lastError = msg
		}
		return text
	}
	out = trimBlankLines(out)
	if len(r.cache) >= markdownCacheLimit {
		r.cache = make(map[string]string)
	}
	r.cache[text] = out
	return out
}

// trimBlankLines drops the whitespace-only margin lines glamour wraps documents in.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
