package devices

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
	"sleepywoodpecker/bridgelog/internal/config"
)

type EventKind int

const (
	Attached EventKind = iota
	Detached
)

func (k EventKind) String() string {
	if k == Attached {
		return "attached"
	}
	return "detached"
}

// Event is emitted once per board, not once per channel.
type Event struct {
	Kind         EventKind
	SerialNumber int
	DeviceName   string
	BoardName    string
}

type RegistryOptions struct {
	// DictionaryPath is the board dictionary read (or created) on every new board.
	DictionaryPath   string
	DefaultSeparator string
	// BoardOptions returns configured options (gain, channel names, calibration) for a serial.
	BoardOptions func(serial int) []bridge.Option
	// Notify, when set, is called after a board was added or removed.
	Notify func(Event)
}

// Registry maps serial numbers to connected boards, in attach order.
type Registry struct {
	mu     sync.RWMutex
	boards map[int]*bridge.Board
	order  []int
	opts   RegistryOptions
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger, opts RegistryOptions) *Registry {
	if opts.DefaultSeparator == "" {
		opts.DefaultSeparator = config.DefaultSeparator
	}
	return &Registry{
		boards: make(map[int]*bridge.Board),
		opts:   opts,
		logger: logger,
	}
}

// Watch installs the registry's handlers on m.
func (r *Registry) Watch(m Manager) {
	m.SetOnAttachHandler(r.Attach)
	m.SetOnDetachHandler(r.Detach)
}

// Attach is the attach handler. It is called once per channel, so a board is
// only created the first time its serial number shows up.
func (r *Registry) Attach(m Manager, info DeviceInfo) {
	if info.DeviceName != bridge.DeviceName {
		return
	}

	r.mu.Lock()
	if _, ok := r.boards[info.SerialNumber]; ok {
		r.mu.Unlock()
		return
	}
	board, err := r.newBoard(m, info.SerialNumber)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("[registry] could not open board",
			zap.Int("serialNumber", info.SerialNumber),
			zap.Error(err),
		)
		return
	}
	r.boards[info.SerialNumber] = board
	r.order = append(r.order, info.SerialNumber)
	r.mu.Unlock()

	r.logger.Info("[registry] device attached",
		zap.String("deviceName", info.DeviceName),
		zap.Int("serialNumber", info.SerialNumber),
		zap.String("boardName", board.Name()),
	)
	if r.opts.Notify != nil {
		r.opts.Notify(Event{Kind: Attached, SerialNumber: info.SerialNumber, DeviceName: info.DeviceName, BoardName: board.Name()})
	}
}

func (r *Registry) newBoard(m Manager, serial int) (*bridge.Board, error) {
	var opts []bridge.Option
	if p, ok := m.(optionProvider); ok {
		opts = append(opts, p.BoardOptions(serial)...)
	}

	opts = append(opts, bridge.WithSeparator(r.opts.DefaultSeparator))
	if r.opts.DictionaryPath != "" {
		dict, err := config.ReadOrCreate(r.opts.DictionaryPath, r.opts.DefaultSeparator)
		if err != nil {
			r.logger.Warn("[registry] board dictionary unavailable, using defaults",
				zap.String("path", r.opts.DictionaryPath),
				zap.Error(err),
			)
		} else {
			opts = append(opts, bridge.WithSeparator(dict.Separator))
			if name, ok := dict.Name(serial); ok {
				opts = append(opts, bridge.WithName(name))
			}
		}
	}

	if r.opts.BoardOptions != nil {
		opts = append(opts, r.opts.BoardOptions(serial)...)
	}
	opts = append(opts, bridge.WithLogger(r.logger))

	channels, err := m.OpenChannels(serial)
	if err != nil {
		return nil, err
	}
	board, err := bridge.NewBoard(serial, channels, opts...)
	if err != nil {
		for _, ch := range channels {
			if ch != nil {
				ch.Close()
			}
		}
		return nil, err
	}
	return board, nil
}

// Detach is the detach handler; like Attach it only acts once per board.
func (r *Registry) Detach(m Manager, info DeviceInfo) {
	if info.DeviceName != bridge.DeviceName {
		return
	}

	r.mu.Lock()
	board, ok := r.boards[info.SerialNumber]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.boards, info.SerialNumber)
	for i, serial := range r.order {
		if serial == info.SerialNumber {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if err := board.Close(); err != nil {
		r.logger.Warn("[registry] error closing detached board", zap.Int("serialNumber", info.SerialNumber), zap.Error(err))
	}
	r.logger.Info("[registry] device detached",
		zap.String("deviceName", info.DeviceName),
		zap.Int("serialNumber", info.SerialNumber),
	)
	if r.opts.Notify != nil {
		r.opts.Notify(Event{Kind: Detached, SerialNumber: info.SerialNumber, DeviceName: info.DeviceName, BoardName: board.Name()})
	}
}

// Boards returns the connected boards in attach order.
func (r *Registry) Boards() []*bridge.Board {
	r.mu.RLock()
	defer r.mu.RUnlock()

	boards := make([]*bridge.Board, 0, len(r.order))
	for _, serial := range r.order {
		boards = append(boards, r.boards[serial])
	}
	return boards
}

func (r *Registry) Get(serial int) (*bridge.Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[serial]
	return b, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// Close closes and forgets every board.
func (r *Registry) Close() {
	r.mu.Lock()
	boards := r.boards
	r.boards = make(map[int]*bridge.Board)
	r.order = nil
	r.mu.Unlock()

	for serial, b := range boards {
		if err := b.Close(); err != nil {
			r.logger.Warn("[registry] error closing board", zap.Int("serialNumber", serial), zap.Error(err))
		}
	}
}

// ConfigOptions turns the per-board section of cfg into board options: gain,
// data interval, channel names and calibrations.
func ConfigOptions(cfg *config.Config) func(serial int) []bridge.Option {
	return func(serial int) []bridge.Option {
		opts := []bridge.Option{
			bridge.WithDataInterval(cfg.Sampling.DataInterval.Duration()),
		}
		if gain, err := bridge.ParseGain(cfg.Sampling.Gain); err == nil {
			opts = append(opts, bridge.WithGain(gain))
		}
		board, ok := cfg.Devices.Boards[strconv.Itoa(serial)]
		if !ok {
			return opts
		}
		for i, ch := range board.Channels {
			if i >= bridge.ChannelCount {
				break
			}
			opts = append(opts,
				bridge.WithChannelName(i, ch.Name),
				bridge.WithCalibration(i, bridge.Calibration{Sensitivity: ch.Sensitivity, Offset: ch.Offset}),
			)
		}
		return opts
	}
}
