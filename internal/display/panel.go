// Package display renders the most recent window of samples: a bubbletea
// dashboard, a periodically printed table, or a PNG plot.
package display

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

// Panel is one board: a title and its four column headers.
type Panel struct {
	Title   string
	Columns []string
}

// PanelsFor builds one panel per board, in sample column order.
func PanelsFor(boards []*bridge.Board) []Panel {
	panels := make([]Panel, 0, len(boards))
	for _, b := range boards {
		panels = append(panels, Panel{Title: b.Name(), Columns: b.ColumnNames()})
	}
	return panels
}

func columnCount(panels []Panel) int {
	n := 0
	for _, p := range panels {
		n += len(p.Columns)
	}
	return n
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

const (
	nameWidth  = 22
	valueWidth = 11
)

func statsHeader() string {
	return fmt.Sprintf("%-*s%*s%*s%*s%*s", nameWidth, "channel", valueWidth, "latest", valueWidth, "mean", valueWidth, "min", valueWidth, "max")
}

func statsRow(name string, s Stats) string {
	if len(name) > nameWidth-1 {
		name = name[:nameWidth-1]
	}
	return fmt.Sprintf("%-*s%*s%*s%*s%*s", nameWidth, name,
		valueWidth, formatValue(s.Latest),
		valueWidth, formatValue(s.Mean),
		valueWidth, formatValue(s.Min),
		valueWidth, formatValue(s.Max),
	)
}

// renderPanel draws one board; sparkWidth 0 leaves the sparklines out.
func renderPanel(p Panel, columns [][]float64, sparkWidth int, styled bool) string {
	lines := make([]string, 0, len(p.Columns)+2)
	title, header := p.Title, statsHeader()
	if styled {
		title = StylePanelTitle.Render(title)
		header = StyleColumnHeader.Render(header)
	}
	lines = append(lines, title, header)

	for i, name := range p.Columns {
		var values []float64
		if i < len(columns) {
			values = columns[i]
		}
		row := statsRow(name, ComputeStats(values))
		if sparkWidth > 0 {
			row += "  " + renderSparkline(values, sparkWidth)
		}
		if styled {
			row = channelStyle(i).Render(row)
		}
		lines = append(lines, row)
	}

	body := strings.Join(lines, "\n")
	if styled {
		return StylePanel.Render(body)
	}
	return body
}

// RenderTable renders every panel as plain text, without colors.
func RenderTable(panels []Panel, columns [][]float64) string {
	var parts []string
	offset := 0
	for _, p := range panels {
		end := offset + len(p.Columns)
		if end > len(columns) {
			end = len(columns)
		}
		var cols [][]float64
		if offset < end {
			cols = columns[offset:end]
		}
		parts = append(parts, renderPanel(p, cols, 0, false))
		offset += len(p.Columns)
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func renderPanels(panels []Panel, columns [][]float64, width int) string {
	sparkWidth := width - nameWidth - 4*valueWidth - 8
	if sparkWidth < 0 {
		sparkWidth = 0
	}
	if sparkWidth > 120 {
		sparkWidth = 120
	}

	var parts []string
	offset := 0
	for _, p := range panels {
		end := offset + len(p.Columns)
		if end > len(columns) {
			end = len(columns)
		}
		var cols [][]float64
		if offset < end {
			cols = columns[offset:end]
		}
		parts = append(parts, renderPanel(p, cols, sparkWidth, true))
		offset += len(p.Columns)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
