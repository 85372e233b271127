package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	accent      = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#a78bfa"}
	muted       = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	destructive = lipgloss.Color("#ef4444")
	warning     = lipgloss.Color("#f59e0b")
)

// Styles holds the lipgloss styles used by the console transport.
type Styles struct {
	Prompt     lipgloss.Style
	Reply      lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Badge      lipgloss.Style
	Muted      lipgloss.Style
	Attachment lipgloss.Style
}

// NewStyles builds styles bound to a renderer for w, so color support is
// detected for the actual output rather than os.Stdout.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Prompt: r.NewStyle().
			Foreground(accent).
			Bold(true),

		Reply: r.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(accent),

		Warning: r.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(warning),

		Error: r.NewStyle().
			Foreground(destructive).
			Bold(true),

		Badge: r.NewStyle().
			Foreground(accent).
			Padding(0, 1).
			MarginRight(1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted),

		Muted: r.NewStyle().
			Foreground(muted),

		Attachment: r.NewStyle().
			Foreground(accent).
			Underline(true),
	}
}
