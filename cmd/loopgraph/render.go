package main

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWidth = 100

// renderer styles terminal output. On anything that is not a terminal, or
// with --plain, text passes through unchanged.
type renderer struct {
	md      *glamour.TermRenderer
	profile termenv.Profile
}

func newRenderer(w io.Writer, plain bool) *renderer {
	f, ok := w.(*os.File)
	if plain || !ok || !term.IsTerminal(int(f.Fd())) {
		return &renderer{profile: termenv.Ascii}
	}

	width := defaultWidth
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && cols < width {
		width = cols
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		md = nil
	}
	return &renderer{md: md, profile: termenv.ColorProfile()}
}

// Markdown renders a markdown document.
func (r *renderer) Markdown(s string) string {
	if r.md == nil {
		return s
	}
	out, err := r.md.Render(s)
	if err != nil {
		return s
	}
	return out
}

// Heading styles a section title.
func (r *renderer) Heading(s string) string {
	return r.profile.String(s).Foreground(r.profile.Color("#818cf8")).Bold().String()
}

// Faint styles secondary text such as hints.
func (r *renderer) Faint(s string) string {
	return r.profile.String(s).Faint().String()
}
