package gridview

import "github.com/charmbracelet/lipgloss"

type palette struct {
	Name      string
	Text      string
	TextMuted string
	Panel     string
	PanelAlt  string
	Border    string
	Focus     string
	Success   string
	Warning   string
	Error     string
}

var palettes = map[string]palette{
	"default": {
		Name:      "default",
		Text:      "252",
		TextMuted: "244",
		Panel:     "235",
		PanelAlt:  "238",
		Border:    "240",
		Focus:     "39",
		Success:   "42",
		Warning:   "214",
		Error:     "203",
	},
	"dark": {
		Name:      "dark",
		Text:      "#E6E6E6",
		TextMuted: "#8A8A8A",
		Panel:     "#161616",
		PanelAlt:  "#2A2A2A",
		Border:    "#3C3C3C",
		Focus:     "#5FAFFF",
		Success:   "#5FD787",
		Warning:   "#FFAF5F",
		Error:     "#FF5F5F",
	},
	"light": {
		Name:      "light",
		Text:      "#1C1C1C",
		TextMuted: "#6C6C6C",
		Panel:     "#F5F5F5",
		PanelAlt:  "#DADADA",
		Border:    "#B2B2B2",
		Focus:     "#005FD7",
		Success:   "#008700",
		Warning:   "#AF5F00",
		Error:     "#D70000",
	},
}

func resolvePalette(name string) palette {
	if p, ok := palettes[name]; ok {
		return p
	}
	return palettes["default"]
}

type styles struct {
	palette palette

	Title       lipgloss.Style
	Header      lipgloss.Style
	HeaderFocus lipgloss.Style
	Row         lipgloss.Style
	Focused     lipgloss.Style
	Placeholder lipgloss.Style
	Marker      lipgloss.Style
	Status      lipgloss.Style
	Error       lipgloss.Style
	Prompt      lipgloss.Style
}

func newStyles(p palette) styles {
	return styles{
		palette: p,
		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Text)).
			Background(lipgloss.Color(p.Panel)).
			Padding(0, 1).
			Bold(true),
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.TextMuted)).
			Bold(true),
		HeaderFocus: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Focus)).
			Underline(true).
			Bold(true),
		Row: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Text)),
		Focused: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Text)).
			Background(lipgloss.Color(p.PanelAlt)),
		Placeholder: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.TextMuted)).
			Italic(true),
		Marker: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Focus)).
			Bold(true),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.TextMuted)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Error)).
			Bold(true),
		Prompt: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Warning)).
			Bold(true),
	}
}

// statusStyle colors agent and session status cells.
func (s styles) statusStyle(status string) lipgloss.Style {
	switch status {
	case "ALIVE", "RUNNING":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(s.palette.Success))
	case "PENDING", "PREPARING", "RESTARTING", "TERMINATING":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(s.palette.Warning))
	case "LOST", "ERROR":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(s.palette.Error))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(s.palette.TextMuted))
	}
}
