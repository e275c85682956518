package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var ErrChannelMismatch = errors.New("not all channels report the same serial number")

// Board wraps the four channels of one bridge board.
type Board struct {
	serial       int
	channels     [ChannelCount]Channel
	name         string
	separator    string
	channelNames [ChannelCount]string
	gain         Gain
	dataInterval time.Duration
	calibrations [ChannelCount]Calibration
	virtual      bool
	logger       *zap.Logger
}

type Option func(*Board)

func WithName(name string) Option {
	return func(b *Board) { b.name = name }
}

func WithSeparator(sep string) Option {
	return func(b *Board) { b.separator = sep }
}

// WithChannelName renames channel i; out of range indexes are ignored.
func WithChannelName(i int, name string) Option {
	return func(b *Board) {
		if i >= 0 && i < ChannelCount && name != "" {
			b.channelNames[i] = name
		}
	}
}

func WithCalibration(i int, c Calibration) Option {
	return func(b *Board) {
		if i >= 0 && i < ChannelCount {
			b.calibrations[i] = c
		}
	}
}

func WithGain(g Gain) Option {
	return func(b *Board) { b.gain = g }
}

func WithDataInterval(d time.Duration) Option {
	return func(b *Board) { b.dataInterval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Board) { b.logger = l }
}

// AsVirtual marks a board as simulated: always ready, serial taken as given.
func AsVirtual() Option {
	return func(b *Board) { b.virtual = true }
}

// NewBoard builds a board around four opened channels and pushes the data
// interval and gain down to each of them.
func NewBoard(serial int, channels [ChannelCount]Channel, opts ...Option) (*Board, error) {
	b := &Board{
		serial:       serial,
		channels:     channels,
		name:         strconv.Itoa(serial),
		separator:    ":",
		channelNames: [ChannelCount]string{"0", "1", "2", "3"},
		gain:         DefaultGain,
		dataInterval: DefaultDataInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	for i, ch := range b.channels {
		if ch == nil {
			return nil, fmt.Errorf("board %d: channel %d is nil", serial, i)
		}
		if err := ch.SetDataInterval(b.dataInterval); err != nil {
			return nil, fmt.Errorf("board %d: channel %d: setting data interval: %w", serial, i, err)
		}
		if err := ch.SetBridgeGain(b.gain); err != nil {
			return nil, fmt.Errorf("board %d: channel %d: setting gain: %w", serial, i, err)
		}
	}

	b.logger.Debug("[bridge] board configured",
		zap.Int("serialNumber", serial),
		zap.String("name", b.name),
		zap.Stringer("gain", b.gain),
		zap.Duration("dataInterval", b.dataInterval),
		zap.Bool("virtual", b.virtual),
	)
	return b, nil
}

// NewVirtualBoard builds a board backed by simulated channels.
func NewVirtualBoard(serial int, opts ...Option) (*Board, error) {
	opts = append([]Option{WithName("Fake"), AsVirtual()}, opts...)
	return NewBoard(serial, NewVirtualChannels(serial), opts...)
}

func (b *Board) Name() string             { return b.name }
func (b *Board) Separator() string        { return b.separator }
func (b *Board) Gain() Gain               { return b.gain }
func (b *Board) Virtual() bool            { return b.virtual }
func (b *Board) Serial() int              { return b.serial }
func (b *Board) ChannelName(i int) string { return b.channelNames[i] }

// Ready reports whether every channel is attached.
func (b *Board) Ready() bool {
	if b.virtual {
		return true
	}
	for _, ch := range b.channels {
		if ch == nil || !ch.Attached() {
			return false
		}
	}
	return true
}

// SerialNumber asks every channel for its device serial number and fails
// unless they all agree.
func (b *Board) SerialNumber() (int, error) {
	if b.virtual {
		return b.serial, nil
	}
	serial := -1
	for i, ch := range b.channels {
		s, err := ch.DeviceSerialNumber()
		if err != nil {
			return 0, fmt.Errorf("channel %d: %w", i, err)
		}
		if serial >= 0 && s != serial {
			return 0, fmt.Errorf("%w: channel %d reports %d, expected %d", ErrChannelMismatch, i, s, serial)
		}
		serial = s
	}
	return serial, nil
}

// Read samples all four channels. Values are mV/V, or Newtons for calibrated
// channels. A channel that fails to read yields NaN and contributes to the
// returned error; the other channels are still read.
func (b *Board) Read() ([]float64, error) {
	values := make([]float64, ChannelCount)
	var errs []error
	for i, ch := range b.channels {
		ratio, err := ch.VoltageRatio()
		if err != nil {
			values[i] = math.NaN()
			errs = append(errs, fmt.Errorf("board %d channel %d: %w", b.serial, i, err))
			continue
		}
		values[i] = b.calibrations[i].Apply(MillivoltsPerVolt(ratio))
	}
	return values, errors.Join(errs...)
}

// ColumnNames returns one header per channel: name + separator + channel name + unit.
func (b *Board) ColumnNames() []string {
	names := make([]string, ChannelCount)
	for i := range names {
		names[i] = fmt.Sprintf("%s%s%s (%s)", b.name, b.separator, b.channelNames[i], b.calibrations[i].Unit())
	}
	return names
}

// Close closes every channel and returns the joined errors.
func (b *Board) Close() error {
	var errs []error
	for i, ch := range b.channels {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
