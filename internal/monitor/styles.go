package monitor

import "github.com/charmbracelet/lipgloss"

// Trace palette
var (
	ColorTrace    = lipgloss.Color("#00FF41")
	ColorTraceMid = lipgloss.Color("#00AA22")
	ColorTraceDim = lipgloss.Color("#004A0A")
	ColorBeat     = lipgloss.Color("#FF3355")
	ColorWarning  = lipgloss.Color("#FFAA00")
	ColorBar      = lipgloss.Color("#002200")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Background(ColorBar).
			Foreground(ColorTrace).
			Bold(true).
			Padding(0, 1)

	StyleStatusBar = lipgloss.NewStyle().
			Background(ColorBar).
			Foreground(ColorTraceMid).
			Padding(0, 1)

	StyleColumn = lipgloss.NewStyle().
			Foreground(ColorTraceMid).
			Bold(true)

	StyleSource = lipgloss.NewStyle().
			Foreground(ColorTrace).
			Bold(true)

	StyleBPM = lipgloss.NewStyle().
			Foreground(ColorBeat).
			Bold(true)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorTraceMid)

	StyleStale = lipgloss.NewStyle().
			Foreground(ColorTraceDim)

	StyleSpark = lipgloss.NewStyle().
			Foreground(ColorTrace)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	StyleCursor = lipgloss.NewStyle().
			Background(lipgloss.Color("#003300"))

	StyleHelp = lipgloss.NewStyle().
			Foreground(ColorTraceDim)
)
