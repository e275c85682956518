package display

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepywoodpecker/bridgelog/internal/processing"
)

func TestComputeStats(t *testing.T) {
	s := ComputeStats([]float64{1, math.NaN(), 3, 2})
	assert.Equal(t, 2.0, s.Latest)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.Equal(t, 3, s.Count)

	empty := ComputeStats([]float64{math.NaN()})
	assert.True(t, math.IsNaN(empty.Mean))
	assert.Equal(t, 0, empty.Count)
	assert.True(t, math.IsNaN(ComputeStats(nil).Latest))
}

func TestRenderSparkline(t *testing.T) {
	assert.Equal(t, "", renderSparkline(nil, 10))
	assert.Equal(t, "▁█", renderSparkline([]float64{0, 1}, 10))
	assert.Equal(t, "▁ █", renderSparkline([]float64{0, math.NaN(), 1}, 10))
	// keeps the newest values
	assert.Equal(t, "▁█", renderSparkline([]float64{5, 0, 1}, 2))
	assert.Equal(t, "▁▁▁", renderSparkline([]float64{2, 2, 2}, 5))
}

func testPanels() []Panel {
	return []Panel{
		{Title: "Fake", Columns: []string{"Fake:0 (mV/V)", "Fake:1 (mV/V)", "Fake:2 (mV/V)", "Fake:3 (mV/V)"}},
	}
}

func filledBuffer() *processing.DisplayBuffer {
	buf := processing.NewDisplayBuffer(10)
	for i := 0; i < 5; i++ {
		v := float64(i)
		buf.Push(processing.Sample{Time: v, Values: []float64{v, v * 2, math.NaN(), -v}})
	}
	return buf
}

func TestRenderTable(t *testing.T) {
	buf := filledBuffer()
	out := RenderTable(testPanels(), buf.Columns(4))

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Fake", lines[0])
	assert.Contains(t, lines[1], "latest")
	assert.Contains(t, lines[2], "Fake:0 (mV/V)")
	assert.Contains(t, lines[2], "4.0000")
	assert.Contains(t, lines[2], "2.0000")
	assert.Contains(t, lines[4], "-")
	assert.Contains(t, lines[5], "-4.0000")
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestTableRun(t *testing.T) {
	out := &syncBuffer{}
	table := NewTable(filledBuffer(), testPanels(), 2*time.Millisecond, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- table.Run(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Fake:3") }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.png")
	buf := filledBuffer()
	err := SavePlot(path, testPanels(), buf.Columns(4), PlotOptions{SamplingInterval: 0.008, SecondsBefore: 15, SecondsAfter: 5})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.Error(t, SavePlot(path, nil, nil, PlotOptions{}))
}

func TestXYForColumn(t *testing.T) {
	pts := xyForColumn([]float64{1, math.NaN(), 3}, 0.5)
	require.Len(t, pts, 2)
	assert.Equal(t, -1.0, pts[0].X)
	assert.Equal(t, 0.0, pts[1].X)
	assert.Equal(t, 3.0, pts[1].Y)
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelTickAndPause(t *testing.T) {
	buf := filledBuffer()
	m := NewModel(buf, testPanels(), Options{Interval: time.Millisecond, SecondsAfter: 5})

	next, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	m = next.(Model)
	require.Len(t, m.columns, 4)
	assert.Len(t, m.columns[0], 5)

	next, _ = m.Update(key(" "))
	m = next.(Model)
	assert.True(t, m.paused)
	assert.Contains(t, m.View(), "PAUSED")

	// paused: new samples are not picked up
	buf.Push(processing.Sample{Time: 9, Values: []float64{9, 9, 9, 9}})
	next, _ = m.Update(tickMsg(time.Now()))
	m = next.(Model)
	assert.Len(t, m.columns[0], 5)

	next, _ = m.Update(key(" "))
	m = next.(Model)
	next, _ = m.Update(tickMsg(time.Now()))
	m = next.(Model)
	assert.Len(t, m.columns[0], 6)
	assert.Contains(t, m.View(), "SAMPLING")
}

func TestModelQuit(t *testing.T) {
	m := NewModel(filledBuffer(), testPanels(), Options{})
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestModelSavePlot(t *testing.T) {
	dir := t.TempDir()
	m := NewModel(filledBuffer(), testPanels(), Options{PlotDir: dir, SamplingInterval: 8 * time.Millisecond, SecondsAfter: 5, SecondsBefore: 15})
	m.shared.now = func() time.Time { return time.Date(2022, 2, 2, 2, 2, 2, 0, time.Local) }

	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	_, cmd := m.Update(key("p"))
	require.NotNil(t, cmd)

	msg := cmd()
	saved, ok := msg.(plotSavedMsg)
	require.True(t, ok)
	require.NoError(t, saved.err)
	assert.FileExists(t, filepath.Join(dir, "bridgelog 2022-02-02 02_02_02.png"))

	next, _ = m.Update(msg)
	assert.Contains(t, next.(Model).View(), "plot saved")
}

func TestModelStatus(t *testing.T) {
	m := NewModel(filledBuffer(), testPanels(), Options{Status: func() string { return "42 samples" }})
	assert.Contains(t, m.View(), "42 samples")
}
