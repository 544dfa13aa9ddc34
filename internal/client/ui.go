package client

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/radiomirchi/radio-mirchi/internal/protocol"
)

var (
	speakerColor  = lipgloss.Color("#F780FF") // Bright pink
	lineColor     = lipgloss.Color("#E9E9F4") // Light purple/white
	listenerColor = lipgloss.Color("#8BE9FD") // Cyan
	infoColor     = lipgloss.Color("#6272A4") // Muted purple
	errorColor    = lipgloss.Color("#FF5555") // Red
	successColor  = lipgloss.Color("#50FA7B") // Green
	userColor     = lipgloss.Color("#F1FA8C") // Yellow
)

// UI prints client output. Styles are dropped when out is not a terminal.
type UI struct {
	out io.Writer
	mu  sync.Mutex

	speaker  lipgloss.Style
	line     lipgloss.Style
	listener lipgloss.Style
	info     lipgloss.Style
	err      lipgloss.Style
	success  lipgloss.Style
	user     lipgloss.Style
	header   lipgloss.Style
}

// NewUI creates a UI writing to out
func NewUI(out io.Writer) *UI {
	r := lipgloss.NewRenderer(out)

	return &UI{
		out:      out,
		speaker:  r.NewStyle().Foreground(speakerColor).Bold(true),
		line:     r.NewStyle().Foreground(lineColor),
		listener: r.NewStyle().Foreground(listenerColor).Bold(true),
		info:     r.NewStyle().Foreground(infoColor).Italic(true),
		err:      r.NewStyle().Foreground(errorColor).Bold(true),
		success:  r.NewStyle().Foreground(successColor),
		user:     r.NewStyle().Foreground(userColor),
		header:   r.NewStyle().Foreground(speakerColor).Bold(true).Underline(true),
	}
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (u *UI) println(s string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, s)
}

// Header prints a section title
func (u *UI) Header(title string) {
	u.println("\n" + u.header.Render(title))
}

// Plain prints an unstyled line
func (u *UI) Plain(format string, args ...any) {
	u.println(fmt.Sprintf(format, args...))
}

// Info prints a status line
func (u *UI) Info(format string, args ...any) {
	u.println(u.info.Render("[INFO] " + fmt.Sprintf(format, args...)))
}

// Success prints a success line
func (u *UI) Success(format string, args ...any) {
	u.println(u.success.Render("[SUCCESS] " + fmt.Sprintf(format, args...)))
}

// Error prints an error line
func (u *UI) Error(format string, args ...any) {
	u.println(u.err.Render("[ERROR] " + fmt.Sprintf(format, args...)))
}

// Prompt prints a prompt without a newline
func (u *UI) Prompt(label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprint(u.out, u.user.Render(label))
}

// ServerMessage prints one decoded server frame
func (u *UI) ServerMessage(msg *protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeDialogue:
		u.println(u.speaker.Render(msg.Speaker+":") + " " + u.line.Render(msg.Line))
	case protocol.TypeListeners:
		awakened := 0
		if msg.AwakenedListeners != nil {
			awakened = *msg.AwakenedListeners
		}
		text := fmt.Sprintf("[LISTENERS] Awakened: %d", awakened)
		if msg.AwakenedListenersChange != nil && *msg.AwakenedListenersChange != 0 {
			text += fmt.Sprintf(" (%+.2f%%)", *msg.AwakenedListenersChange)
		}
		u.println(u.listener.Render(text))
	case protocol.TypeTranscript:
		u.println(u.user.Render("[HEARD] " + msg.Text))
	case protocol.TypeError:
		u.println(u.err.Render(msg.String()))
	default:
		u.println(u.info.Render(msg.String()))
	}
}
