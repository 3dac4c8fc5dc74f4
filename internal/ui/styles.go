// Package ui renders command output for the pomosync CLI.
//
// Color is used only when stdout is a terminal and NO_COLOR is unset;
// piped output is plain text.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	PassColor   = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#10B981"}
	WarnColor   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	FailColor   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	AccentColor = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#A78BFA"}
	InfoColor   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	MutedColor  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// Printer styles text for one output stream.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer
	width    int

	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	accent lipgloss.Style
	info   lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
}

// NewPrinter returns a printer for w. Terminal detection and width only
// apply when w is an *os.File.
func NewPrinter(w io.Writer) *Printer {
	width := DefaultWidth
	tty := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}

	r := lipgloss.NewRenderer(w)
	if !tty || termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	return newPrinter(w, r, width)
}

// NewPlainPrinter returns a printer that never emits escape codes.
func NewPlainPrinter(w io.Writer, width int) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.Ascii)
	if width <= 0 {
		width = DefaultWidth
	}
	return newPrinter(w, r, width)
}

func newPrinter(w io.Writer, r *lipgloss.Renderer, width int) *Printer {
	return &Printer{
		w:        w,
		renderer: r,
		width:    width,
		pass:     r.NewStyle().Foreground(PassColor),
		warn:     r.NewStyle().Foreground(WarnColor),
		fail:     r.NewStyle().Foreground(FailColor).Bold(true),
		accent:   r.NewStyle().Foreground(AccentColor),
		info:     r.NewStyle().Foreground(InfoColor),
		muted:    r.NewStyle().Foreground(MutedColor),
		header:   r.NewStyle().Bold(true).Foreground(AccentColor),
	}
}

// Writer returns the output stream.
func (p *Printer) Writer() io.Writer { return p.w }

// Width returns the usable line width.
func (p *Printer) Width() int { return p.width }

func (p *Printer) Pass(s string) string   { return p.pass.Render(s) }
func (p *Printer) Warn(s string) string   { return p.warn.Render(s) }
func (p *Printer) Fail(s string) string   { return p.fail.Render(s) }
func (p *Printer) Accent(s string) string { return p.accent.Render(s) }
func (p *Printer) Info(s string) string   { return p.info.Render(s) }
func (p *Printer) Muted(s string) string  { return p.muted.Render(s) }
func (p *Printer) Header(s string) string { return p.header.Render(s) }
