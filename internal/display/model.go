package display

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sleepywoodpecker/bridgelog/internal/processing"
)

type Options struct {
	Interval         time.Duration
	SamplingInterval time.Duration
	SecondsBefore    float64
	SecondsAfter     float64
	PlotDir          string
	// Status, when set, is shown in the status bar (e.g. samples written).
	Status func() string
}

type tickMsg time.Time

type plotSavedMsg struct {
	path string
	err  error
}

// shared holds state every copy of the Model must see.
type shared struct {
	buffer *processing.DisplayBuffer
	panels []Panel
	opts   Options
	now    func() time.Time
}

// Model is the live dashboard: one panel per board with the window stats and a
// sparkline per channel.
type Model struct {
	width   int
	height  int
	paused  bool
	message string
	columns [][]float64

	shared *shared
}

func NewModel(buffer *processing.DisplayBuffer, panels []Panel, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Millisecond
	}
	return Model{
		shared: &shared{
			buffer: buffer,
			panels: panels,
			opts:   opts,
			now:    time.Now,
		},
	}
}

func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.shared.opts.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if !m.paused {
			m.columns = m.shared.buffer.Columns(columnCount(m.shared.panels))
		}
		return m, m.tickCmd()

	case plotSavedMsg:
		if msg.err != nil {
			m.message = "plot failed: " + msg.err.Error()
		} else {
			m.message = "plot saved to " + msg.path
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c", "esc":
		return m, tea.Quit

	case " ":
		m.paused = !m.paused

	case "p", "P":
		return m, m.savePlotCmd()
	}
	return m, nil
}

// savePlotCmd plots what is currently on screen.
func (m Model) savePlotCmd() tea.Cmd {
	columns := m.columns
	s := m.shared
	return func() tea.Msg {
		name := "bridgelog " + s.now().Format("2006-01-02 15_04_05") + ".png"
		path := filepath.Join(s.opts.PlotDir, name)
		err := SavePlot(path, s.panels, columns, PlotOptions{
			SamplingInterval: s.opts.SamplingInterval.Seconds(),
			SecondsBefore:    s.opts.SecondsBefore,
			SecondsAfter:     s.opts.SecondsAfter,
		})
		return plotSavedMsg{path: path, err: err}
	}
}

func (m Model) View() string {
	state := StyleSampling.Render("SAMPLING")
	if m.paused {
		state = StylePaused.Render("PAUSED")
	}
	header := StyleHeader.Render("bridgelog") + " " + state + "  [q] quit  [space] pause  [p] plot"

	width := m.width
	if width == 0 {
		width = 100
	}
	body := renderPanels(m.shared.panels, m.columns, width)

	status := fmt.Sprintf("window %.1fs", m.shared.opts.SecondsAfter)
	if m.shared.opts.Status != nil {
		status += "  " + m.shared.opts.Status()
	}
	if m.message != "" {
		status += "  " + StyleMessage.Render(m.message)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, StyleStatusBar.Render(status))
}

// RunTUI runs the dashboard until the user quits or ctx is cancelled.
func RunTUI(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}
