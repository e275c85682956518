package devices

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/processing"
)

type stubChannel struct {
	closed bool
}

func (c *stubChannel) VoltageRatio() (float64, error)        { return 0.001, nil }
func (c *stubChannel) Attached() bool                        { return true }
func (c *stubChannel) DeviceSerialNumber() (int, error)      { return 0, nil }
func (c *stubChannel) SetBridgeGain(bridge.Gain) error       { return nil }
func (c *stubChannel) SetDataInterval(d time.Duration) error { return nil }
func (c *stubChannel) Close() error                          { c.closed = true; return nil }

// stubManager fires whatever the test tells it to.
type stubManager struct {
	mu       sync.Mutex
	attach   Handler
	detach   Handler
	opened   map[int]int
	channels map[int][bridge.ChannelCount]*stubChannel
}

func newStubManager() *stubManager {
	return &stubManager{opened: map[int]int{}, channels: map[int][bridge.ChannelCount]*stubChannel{}}
}

func (m *stubManager) SetOnAttachHandler(h Handler)   { m.attach = h }
func (m *stubManager) SetOnDetachHandler(h Handler)   { m.detach = h }
func (m *stubManager) Open(ctx context.Context) error { return nil }
func (m *stubManager) Close() error                   { return nil }

func (m *stubManager) OpenChannels(serial int) ([bridge.ChannelCount]bridge.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened[serial]++
	var stubs [bridge.ChannelCount]*stubChannel
	var chans [bridge.ChannelCount]bridge.Channel
	for i := range chans {
		stubs[i] = &stubChannel{}
		chans[i] = stubs[i]
	}
	m.channels[serial] = stubs
	return chans, nil
}

func (m *stubManager) fireAttach(serial int, name string) {
	for ch := 0; ch < bridge.ChannelCount; ch++ {
		m.attach(m, DeviceInfo{SerialNumber: serial, DeviceName: name, Channel: ch})
	}
}

func (m *stubManager) fireDetach(serial int, name string) {
	for ch := 0; ch < bridge.ChannelCount; ch++ {
		m.detach(m, DeviceInfo{SerialNumber: serial, DeviceName: name, Channel: ch})
	}
}

func TestRegistryAttachOncePerBoard(t *testing.T) {
	var events []Event
	reg := NewRegistry(zap.NewNop(), RegistryOptions{Notify: func(e Event) { events = append(events, e) }})
	m := newStubManager()
	reg.Watch(m)

	m.fireAttach(5001, bridge.DeviceName)
	m.fireAttach(5002, bridge.DeviceName)

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 1, m.opened[5001])
	assert.Equal(t, 1, m.opened[5002])
	require.Len(t, events, 2)
	assert.Equal(t, Attached, events[0].Kind)

	boards := reg.Boards()
	require.Len(t, boards, 2)
	assert.Equal(t, 5001, boards[0].Serial())
	assert.Equal(t, 5002, boards[1].Serial())
}

func TestRegistryIgnoresOtherDevices(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), RegistryOptions{})
	m := newStubManager()
	reg.Watch(m)

	m.fireAttach(42, "PhidgetInterfaceKit 8/8/8")
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, m.opened)

	m.fireAttach(42, bridge.DeviceName)
	m.fireDetach(42, "PhidgetInterfaceKit 8/8/8")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryDetach(t *testing.T) {
	var events []Event
	reg := NewRegistry(zap.NewNop(), RegistryOptions{Notify: func(e Event) { events = append(events, e) }})
	m := newStubManager()
	reg.Watch(m)

	m.fireAttach(1, bridge.DeviceName)
	m.fireAttach(2, bridge.DeviceName)
	m.fireDetach(1, bridge.DeviceName)

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get(1)
	assert.False(t, ok)
	for _, ch := range m.channels[1] {
		assert.True(t, ch.closed)
	}
	boards := reg.Boards()
	require.Len(t, boards, 1)
	assert.Equal(t, 2, boards[0].Serial())

	// attach, attach, detach: one event each
	require.Len(t, events, 3)
	assert.Equal(t, Detached, events[2].Kind)
	assert.Equal(t, 1, events[2].SerialNumber)
}

func TestRegistryUsesDictionary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board_dictionary.json")
	require.NoError(t, os.WriteFile(path, []byte(`["/", {"5001": "left"}]`), 0644))

	reg := NewRegistry(zap.NewNop(), RegistryOptions{DictionaryPath: path})
	m := newStubManager()
	reg.Watch(m)
	m.fireAttach(5001, bridge.DeviceName)
	m.fireAttach(5002, bridge.DeviceName)

	left, ok := reg.Get(5001)
	require.True(t, ok)
	assert.Equal(t, "left", left.Name())
	assert.Equal(t, "/", left.Separator())
	assert.Equal(t, "left/0 (mV/V)", left.ColumnNames()[0])

	other, ok := reg.Get(5002)
	require.True(t, ok)
	assert.Equal(t, "5002", other.Name())
}

func TestRegistryCreatesDictionaryTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board_dictionary.json")
	reg := NewRegistry(zap.NewNop(), RegistryOptions{DictionaryPath: path})
	m := newStubManager()
	reg.Watch(m)
	m.fireAttach(7, bridge.DeviceName)

	assert.FileExists(t, path)
	b, ok := reg.Get(7)
	require.True(t, ok)
	assert.Equal(t, "7", b.Name())
}

func TestRegistryBoardOptions(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), RegistryOptions{
		BoardOptions: func(serial int) []bridge.Option {
			return []bridge.Option{
				bridge.WithChannelName(0, "thrust"),
				bridge.WithCalibration(0, bridge.Calibration{Sensitivity: 100}),
			}
		},
	})
	m := newStubManager()
	reg.Watch(m)
	m.fireAttach(9, bridge.DeviceName)

	b, ok := reg.Get(9)
	require.True(t, ok)
	assert.Equal(t, "9:thrust (N)", b.ColumnNames()[0])
	values, err := b.Read()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, values[0], 1e-9)
	assert.InDelta(t, 1.0, values[1], 1e-9)
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), RegistryOptions{})
	m := newStubManager()
	reg.Watch(m)
	m.fireAttach(3, bridge.DeviceName)

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	for _, ch := range m.channels[3] {
		assert.True(t, ch.closed)
	}
}

func TestVirtualManager(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), RegistryOptions{})
	vm := NewVirtualManager(1337)
	reg.Watch(vm)

	require.NoError(t, vm.Open(context.Background()))
	require.Equal(t, 1, reg.Len())
	b, ok := reg.Get(1337)
	require.True(t, ok)
	assert.Equal(t, "Fake", b.Name())
	assert.True(t, b.Virtual())
	assert.True(t, b.Ready())

	_, err := vm.OpenChannels(1)
	assert.Error(t, err)

	require.NoError(t, vm.Close())
	assert.Equal(t, 0, reg.Len())
}

func TestSamplerPicksUpReplugFromRegistry(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), RegistryOptions{})
	vm := NewVirtualManager(1337)
	reg.Watch(vm)
	require.NoError(t, vm.Open(context.Background()))

	s := processing.NewSampler(time.Millisecond, reg.Boards(), nil, nil, zap.NewNop())
	s.Follow(reg.Get)

	require.NoError(t, vm.Close())
	for _, v := range s.SampleOnce().Values {
		assert.True(t, math.IsNaN(v))
	}

	require.NoError(t, vm.Open(context.Background()))
	row := s.SampleOnce().Values
	require.Len(t, row, bridge.ChannelCount)
	for _, v := range row {
		assert.False(t, math.IsNaN(v))
	}
	require.NoError(t, vm.Close())
}

func TestConfigOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Sampling.Gain = 128
	cfg.Devices.Boards = map[string]config.BoardConfig{
		"5001": {Channels: []config.ChannelConfig{
			{Name: "fx", Sensitivity: 2, Offset: 0.5},
			{Name: "fy"},
		}},
	}
	reg := NewRegistry(zap.NewNop(), RegistryOptions{BoardOptions: ConfigOptions(&cfg)})
	m := newStubManager()
	reg.Watch(m)
	m.fireAttach(5001, bridge.DeviceName)
	m.fireAttach(5002, bridge.DeviceName)

	b, ok := reg.Get(5001)
	require.True(t, ok)
	assert.Equal(t, bridge.Gain128, b.Gain())
	assert.Equal(t, []string{"5001:fx (N)", "5001:fy (mV/V)", "5001:2 (mV/V)", "5001:3 (mV/V)"}, b.ColumnNames())
	values, err := b.Read()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, values[0], 1e-9)

	other, ok := reg.Get(5002)
	require.True(t, ok)
	assert.Equal(t, "5002:0 (mV/V)", other.ColumnNames()[0])
}
