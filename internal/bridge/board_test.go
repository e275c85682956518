package bridge

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	ratio        float64
	readErr      error
	attached     bool
	serial       int
	gain         Gain
	dataInterval time.Duration
	closed       bool
}

func (f *fakeChannel) VoltageRatio() (float64, error) { return f.ratio, f.readErr }
func (f *fakeChannel) Attached() bool                 { return f.attached }
func (f *fakeChannel) DeviceSerialNumber() (int, error) {
	return f.serial, nil
}
func (f *fakeChannel) SetBridgeGain(g Gain) error { f.gain = g; return nil }
func (f *fakeChannel) SetDataInterval(d time.Duration) error {
	f.dataInterval = d
	return nil
}
func (f *fakeChannel) Close() error { f.closed = true; return nil }

func fakeChannels(serial int, ratios ...float64) ([ChannelCount]Channel, [ChannelCount]*fakeChannel) {
	var chans [ChannelCount]Channel
	var fakes [ChannelCount]*fakeChannel
	for i := range chans {
		f := &fakeChannel{attached: true, serial: serial}
		if i < len(ratios) {
			f.ratio = ratios[i]
		}
		fakes[i] = f
		chans[i] = f
	}
	return chans, fakes
}

func TestNewBoardConfiguresChannels(t *testing.T) {
	chans, fakes := fakeChannels(42)
	b, err := NewBoard(42, chans, WithGain(Gain128), WithDataInterval(16*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, "42", b.Name())
	assert.Equal(t, ":", b.Separator())
	for i, f := range fakes {
		assert.Equal(t, Gain128, f.gain, "channel %d gain", i)
		assert.Equal(t, 16*time.Millisecond, f.dataInterval, "channel %d interval", i)
	}
}

func TestNewBoardDefaultsToGain64(t *testing.T) {
	chans, fakes := fakeChannels(1)
	_, err := NewBoard(1, chans)
	require.NoError(t, err)
	assert.Equal(t, Gain64, fakes[0].gain)
	assert.Equal(t, DefaultDataInterval, fakes[3].dataInterval)
}

func TestNewBoardRejectsNilChannel(t *testing.T) {
	chans, _ := fakeChannels(1)
	chans[2] = nil
	_, err := NewBoard(1, chans)
	assert.Error(t, err)
}

func TestBoardReady(t *testing.T) {
	chans, fakes := fakeChannels(7)
	b, err := NewBoard(7, chans)
	require.NoError(t, err)
	assert.True(t, b.Ready())

	// every channel must be attached, not only the first one
	fakes[3].attached = false
	assert.False(t, b.Ready())
}

func TestBoardSerialNumber(t *testing.T) {
	chans, fakes := fakeChannels(7)
	b, err := NewBoard(7, chans)
	require.NoError(t, err)

	serial, err := b.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, 7, serial)

	fakes[2].serial = 8
	_, err = b.SerialNumber()
	assert.True(t, errors.Is(err, ErrChannelMismatch))
}

func TestBoardRead(t *testing.T) {
	chans, fakes := fakeChannels(7, 0.001, -0.002, 0.0005, 0)
	b, err := NewBoard(7, chans, WithCalibration(3, Calibration{Sensitivity: 200, Offset: 0.5}))
	require.NoError(t, err)

	fakes[3].ratio = 0.0015 // 1.5 mV/V -> (1.5 - 0.5) * 200 N

	values, err := b.Read()
	require.NoError(t, err)
	require.Len(t, values, ChannelCount)
	assert.InDelta(t, 1.0, values[0], 1e-12)
	assert.InDelta(t, -2.0, values[1], 1e-12)
	assert.InDelta(t, 0.5, values[2], 1e-12)
	assert.InDelta(t, 200.0, values[3], 1e-9)
}

func TestBoardReadFailureYieldsNaN(t *testing.T) {
	chans, fakes := fakeChannels(7, 0.001, 0.001, 0.001, 0.001)
	b, err := NewBoard(7, chans)
	require.NoError(t, err)

	fakes[1].readErr = ErrNotAttached
	values, err := b.Read()
	assert.True(t, errors.Is(err, ErrNotAttached))
	assert.True(t, math.IsNaN(values[1]))
	assert.InDelta(t, 1.0, values[2], 1e-12)
}

func TestBoardColumnNames(t *testing.T) {
	chans, _ := fakeChannels(7)
	b, err := NewBoard(7, chans,
		WithName("Rig"),
		WithSeparator(" / "),
		WithChannelName(0, "left"),
		WithChannelName(9, "ignored"),
		WithCalibration(1, Calibration{Sensitivity: 10}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Rig / left (mV/V)",
		"Rig / 1 (N)",
		"Rig / 2 (mV/V)",
		"Rig / 3 (mV/V)",
	}, b.ColumnNames())
}

func TestBoardClose(t *testing.T) {
	chans, fakes := fakeChannels(7)
	b, err := NewBoard(7, chans)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	for _, f := range fakes {
		assert.True(t, f.closed)
	}
}

func TestParseGain(t *testing.T) {
	tests := []struct {
		multiplier int
		want       Gain
	}{
		{1, Gain1}, {8, Gain8}, {16, Gain16}, {32, Gain32}, {64, Gain64}, {128, Gain128},
	}
	for _, tt := range tests {
		g, err := ParseGain(tt.multiplier)
		require.NoError(t, err)
		assert.Equal(t, tt.want, g)
		assert.Equal(t, tt.multiplier, g.Multiplier())
	}

	_, err := ParseGain(2)
	assert.Error(t, err)
	assert.Equal(t, "64x", Gain64.String())
}
