package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown to ANSI using
// glamour, auto-detecting a light or dark terminal background.
func NewRenderer(width int) func(string) (string, error) {
	opts := []glamour.TermRendererOption{
		glamour.WithAutoStyle(),
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)

	return func(markdown string) (string, error) {
		if err != nil {
			// Renderer construction failed (no TTY info); fall back to
			// the raw markdown.
			return markdown, nil
		}
		return r.Render(markdown)
	}
}
