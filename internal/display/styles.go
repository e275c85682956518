package display

import "github.com/charmbracelet/lipgloss"

// Line colors follow the plot palette: blue, orange, green, red.
var (
	ColorBlue   = lipgloss.Color("#396AB1")
	ColorOrange = lipgloss.Color("#DA7C30")
	ColorGreen  = lipgloss.Color("#3E9651")
	ColorRed    = lipgloss.Color("#CC2529")
	ColorGrey   = lipgloss.Color("#535154")
	ColorPurple = lipgloss.Color("#6B4C9A")

	channelColors = []lipgloss.Color{ColorBlue, ColorOrange, ColorGreen, ColorRed}
)

var (
	StyleHeader = lipgloss.NewStyle().
			Background(lipgloss.Color("#1C2541")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true).
			Padding(0, 1)

	StylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGrey).
			Padding(0, 1)

	StylePanelTitle = lipgloss.NewStyle().
			Foreground(ColorPurple).
			Bold(true)

	StyleColumnHeader = lipgloss.NewStyle().
				Foreground(ColorGrey).
				Bold(true)

	StyleStatusBar = lipgloss.NewStyle().
			Foreground(ColorGrey).
			Padding(0, 1)

	StylePaused = lipgloss.NewStyle().
			Foreground(ColorOrange).
			Bold(true)

	StyleSampling = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	StyleMessage = lipgloss.NewStyle().
			Foreground(ColorPurple)
)

func channelStyle(i int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(channelColors[i%len(channelColors)])
}
