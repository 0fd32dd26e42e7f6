package summarizecmder

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderer prints summaries and status lines. Styling is only applied when
// out is a terminal.
type renderer struct {
	out   io.Writer
	fancy bool
	width int
}

func newRenderer(out io.Writer, plain bool) *renderer {
	r := &renderer{out: out, width: 80}

	f, ok := out.(*os.File)
	if plain || !ok || !term.IsTerminal(int(f.Fd())) {
		return r
	}

	r.fancy = true
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		r.width = w
	}
	return r
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.fancy {
		return text
	}
	return s.Render(text)
}

// markdown prints a finished summary, rendered when possible.
func (r *renderer) markdown(text string) {
	if r.fancy {
		tr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(r.width),
		)
		if err == nil {
			if rendered, err := tr.Render(text); err == nil {
				io.WriteString(r.out, rendered)
				return
			}
		}
	}

	io.WriteString(r.out, text)
	if !strings.HasSuffix(text, "\n") {
		io.WriteString(r.out, "\n")
	}
}

func (r *renderer) delta(text string) {
	io.WriteString(r.out, text)
}

func (r *renderer) status(text string) {
	io.WriteString(r.out, r.style(statusStyle, text)+"\n")
}

func (r *renderer) notice(text string) {
	io.WriteString(r.out, r.style(noticeStyle, text)+"\n")
}

func (r *renderer) failure(text string) {
	io.WriteString(r.out, r.style(errorStyle, text)+"\n")
}

func (r *renderer) prompt() {
	io.WriteString(r.out, r.style(promptStyle, "> "))
}
