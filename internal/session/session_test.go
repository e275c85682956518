package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/devices"
	"sleepywoodpecker/bridgelog/internal/output"
	"sleepywoodpecker/bridgelog/internal/processing"
)

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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Display.Mode = config.DisplayNone
	cfg.Devices.Dictionary = filepath.Join(dir, "board_dictionary.json")
	cfg.Output.File.Dir = dir
	cfg.Output.File.Interval = config.Duration(10 * time.Millisecond)
	cfg.Output.UDP.Interval = config.Duration(10 * time.Millisecond)
	return &cfg
}

func runSession(s *Session) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", Init.String())
	assert.Equal(t, "WAITING", Waiting.String())
	assert.Equal(t, "PREPARE-FOR-SAMPLING", PrepareForSampling.String())
	assert.Equal(t, "SAMPLING", Sampling.String())
	assert.Equal(t, "SHUTDOWN", Shutdown.String())
	assert.Equal(t, "ERROR", Error.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestSessionFileMode(t *testing.T) {
	cfg := testConfig(t)
	out := &syncBuffer{}
	s := New(cfg, Options{
		In:           strings.NewReader("bench\n\n"),
		Out:          out,
		PromptPrefix: true,
		Managers:     []devices.Manager{devices.NewVirtualManager(1337)},
	}, zap.NewNop())
	require.Equal(t, Init, s.State())

	cancel, done := runSession(s)
	require.Eventually(t, func() bool { return s.State() == Sampling }, 2*time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Shutdown, s.State())

	text := out.String()
	assert.Contains(t, text, "Specify prefix for filename or press ENTER for no prefix:bench")
	assert.Contains(t, text, "Device 'PhidgetBridge 4-Input' attached, Serial Number: 1337")
	assert.Contains(t, text, "Press ENTER to start sampling.")

	matches, err := filepath.Glob(filepath.Join(cfg.Output.File.Dir, "bench - *.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Equal(t, "time (excel-format), Fake:0 (mV/V), Fake:1 (mV/V), Fake:2 (mV/V), Fake:3 (mV/V)", lines[0])
	require.Greater(t, len(lines), 1)
	assert.Len(t, strings.Split(lines[1], ", "), 5)

	// the dictionary template was created on attach
	assert.FileExists(t, cfg.Devices.Dictionary)
	assert.Equal(t, 0, s.Registry().Len())
}

func TestSessionInterruptedAtPrompt(t *testing.T) {
	cfg := testConfig(t)
	out := &syncBuffer{}
	in, feed := io.Pipe()
	defer feed.Close()
	s := New(cfg, Options{
		In:           in,
		Out:          out,
		PromptPrefix: true,
		Managers:     []devices.Manager{devices.NewVirtualManager(1337)},
	}, zap.NewNop())

	cancel, done := runSession(s)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Specify prefix for filename")
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, Init, s.State())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Shutdown, s.State())
}

func TestSessionRefusesWithoutBoards(t *testing.T) {
	cfg := testConfig(t)
	out := &syncBuffer{}
	s := New(cfg, Options{
		In:       strings.NewReader("\n"),
		Out:      out,
		Managers: []devices.Manager{devices.NewVirtualManager()},
	}, zap.NewNop())

	cancel, done := runSession(s)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Cannot start sampling: No boards are connected!")
	}, 2*time.Second, time.Millisecond)
	assert.Contains(t, out.String(), "Connect at least one board and try again.")
	assert.Equal(t, Waiting, s.State())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Shutdown, s.State())
}

func TestSessionUDPMode(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig(t)
	cfg.Output.Mode = config.ModeUDP
	cfg.Output.UDP.Port = server.LocalAddr().(*net.UDPAddr).Port
	out := &syncBuffer{}
	s := New(cfg, Options{
		In:        strings.NewReader("nonsense\n127.0.0.1\n\n\n"),
		Out:       out,
		PromptUDP: true,
		Managers:  []devices.Manager{devices.NewVirtualManager(1337)},
	}, zap.NewNop())

	cancel, done := runSession(s)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
	cancel()
	require.NoError(t, <-done)

	text := out.String()
	assert.Contains(t, text, `"nonsense" is not an IPv4 address.`)
	assert.Contains(t, text, "Specify target port or leave blank for default [")
	assert.Equal(t, "127.0.0.1", cfg.Output.UDP.IP)
}

type memWriter struct {
	mu      sync.Mutex
	samples []processing.Sample
	closed  bool
}

func (m *memWriter) Write(samples []processing.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
	return nil
}

func (m *memWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestSessionAutoStartDrainsEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.File.Interval = config.Duration(time.Hour)
	w := &memWriter{}
	var columns []string
	s := New(cfg, Options{
		AutoStart: true,
		Managers:  []devices.Manager{devices.NewVirtualManager(1337, 1338)},
		Output: func(cfg *config.Config, cols []string, at time.Time, logger *zap.Logger) (output.Writer, string, error) {
			columns = cols
			return w, "memory", nil
		},
	}, zap.NewNop())

	cancel, done := runSession(s)
	require.Eventually(t, func() bool { return s.State() == Sampling }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, columns, 8)
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.NotEmpty(t, w.samples)
	assert.Equal(t, int64(len(w.samples)), s.sampler.Count())
	assert.Equal(t, 0, s.results.Len())
	for _, sample := range w.samples {
		assert.Len(t, sample.Values, 8)
	}
}

func TestSessionOutputFailure(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, Options{
		AutoStart: true,
		Managers:  []devices.Manager{devices.NewVirtualManager(1337)},
		Output: func(*config.Config, []string, time.Time, *zap.Logger) (output.Writer, string, error) {
			return nil, "", errors.New("disk gone")
		},
	}, zap.NewNop())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, Error, s.State())
}

func TestSessionTableDisplay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display.Mode = config.DisplayTable
	cfg.Display.TableInterval = config.Duration(5 * time.Millisecond)
	out := &syncBuffer{}
	s := New(cfg, Options{
		AutoStart: true,
		Out:       out,
		Managers:  []devices.Manager{devices.NewVirtualManager(1337)},
	}, zap.NewNop())

	cancel, done := runSession(s)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Fake:3 (mV/V)") }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestDefaultOutputRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Mode = config.ModeZMQ
	_, _, err := DefaultOutput(cfg, nil, time.Now(), zap.NewNop())
	assert.Error(t, err)
}

func TestVirtualSerials(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, VirtualSerials(&cfg))
	cfg.Devices.Virtual = true
	assert.Equal(t, []int{1337}, VirtualSerials(&cfg))
}
