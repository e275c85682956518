package devices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
	rserial "sleepywoodpecker/bridgelog/internal/rSerial"
)

const defaultIdentifyTimeout = 2 * time.Second

type SerialOptions struct {
	// Ports are opened by name; when empty, USB ports matching VID/PID are used.
	Ports           []string
	VID             string
	PID             string
	BaudRate        int
	ScanInterval    time.Duration
	IdentifyTimeout time.Duration
}

// SerialManager watches serial ports for bridge boards. A board is attached
// once its first packet identified it and detached when its port disappears
// or its stream dies.
type SerialManager struct {
	opts   SerialOptions
	logger *zap.Logger

	listPorts func() ([]*enumerator.PortDetails, error)
	openPort  func(name string, baudrate int) (serial.Port, error)

	mu       sync.Mutex
	attach   Handler
	detach   Handler
	streams  map[string]*rserial.Stream
	bySerial map[int]*rserial.Stream
	warned   map[string]bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSerialManager(opts SerialOptions, logger *zap.Logger) *SerialManager {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Second
	}
	if opts.IdentifyTimeout <= 0 {
		opts.IdentifyTimeout = defaultIdentifyTimeout
	}
	return &SerialManager{
		opts:      opts,
		logger:    logger,
		listPorts: enumerator.GetDetailedPortsList,
		openPort:  rserial.Open,
		streams:   make(map[string]*rserial.Stream),
		bySerial:  make(map[int]*rserial.Stream),
		warned:    make(map[string]bool),
	}
}

func (s *SerialManager) SetOnAttachHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attach = h
}

func (s *SerialManager) SetOnDetachHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach = h
}

// Open scans once, then keeps scanning every ScanInterval until Close.
func (s *SerialManager) Open(ctx context.Context) error {
	if len(s.opts.Ports) == 0 && s.opts.VID == "" {
		s.logger.Info("[serial] no ports or VID configured, serial discovery disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.scan(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
	return nil
}

// Close stops scanning and closes every port; detach events fire for each board.
func (s *SerialManager) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	streams := make([]*rserial.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, st := range streams {
		st.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *SerialManager) OpenChannels(serial int) ([bridge.ChannelCount]bridge.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.bySerial[serial]
	if !ok {
		return [bridge.ChannelCount]bridge.Channel{}, fmt.Errorf("no serial board with serial number %d", serial)
	}
	return st.Channels(), nil
}

// candidates returns the port names that may carry a bridge board.
func (s *SerialManager) candidates() ([]string, error) {
	if len(s.opts.Ports) > 0 {
		return s.opts.Ports, nil
	}
	details, err := s.listPorts()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range details {
		if !d.IsUSB || !strings.EqualFold(d.VID, s.opts.VID) {
			continue
		}
		if s.opts.PID != "" && !strings.EqualFold(d.PID, s.opts.PID) {
			continue
		}
		names = append(names, d.Name)
	}
	return names, nil
}

func (s *SerialManager) scan(ctx context.Context) {
	names, err := s.candidates()
	if err != nil {
		s.logger.Warn("[serial] listing serial ports failed", zap.Error(err))
		return
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}

	s.mu.Lock()
	var gone []*rserial.Stream
	for name, st := range s.streams {
		if !present[name] {
			gone = append(gone, st)
		}
	}
	var fresh []string
	for _, name := range names {
		if _, ok := s.streams[name]; !ok {
			fresh = append(fresh, name)
		}
	}
	s.mu.Unlock()

	// closing makes the stream's Run return, which fires the detach
	for _, st := range gone {
		s.logger.Info("[serial] port disappeared", zap.String("portName", st.PortName))
		st.Close()
	}

	for _, name := range fresh {
		if ctx.Err() != nil {
			return
		}
		s.connect(ctx, name)
	}
}

func (s *SerialManager) connect(ctx context.Context, name string) {
	port, err := s.openPort(name, s.opts.BaudRate)
	if err != nil {
		s.warnOnce(name, "[serial] could not open port", err)
		return
	}

	stream := rserial.NewStream(port, name, s.logger)
	serialNumber, err := stream.Identify(ctx, s.opts.IdentifyTimeout)
	if err != nil {
		stream.Close()
		s.warnOnce(name, "[serial] could not identify board", err)
		return
	}

	s.mu.Lock()
	if _, dup := s.bySerial[serialNumber]; dup {
		s.mu.Unlock()
		stream.Close()
		s.warnOnce(name, "[serial] serial number already attached on another port", fmt.Errorf("serial %d", serialNumber))
		return
	}
	delete(s.warned, name)
	s.streams[name] = stream
	s.bySerial[serialNumber] = stream
	attach := s.attach
	s.mu.Unlock()

	s.logger.Info("[serial] board identified", zap.String("portName", name), zap.Int("serialNumber", serialNumber))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := stream.Run(ctx); err != nil {
			s.logger.Warn("[serial] stream ended", zap.String("portName", name), zap.Error(err))
		}
		stream.Close()
		s.forget(name, serialNumber)
	}()

	s.fire(attach, serialNumber)
}

func (s *SerialManager) forget(name string, serialNumber int) {
	s.mu.Lock()
	delete(s.streams, name)
	delete(s.bySerial, serialNumber)
	detach := s.detach
	s.mu.Unlock()

	s.fire(detach, serialNumber)
}

func (s *SerialManager) fire(h Handler, serialNumber int) {
	if h == nil {
		return
	}
	for ch := 0; ch < bridge.ChannelCount; ch++ {
		h(s, DeviceInfo{SerialNumber: serialNumber, DeviceName: bridge.DeviceName, Channel: ch})
	}
}

func (s *SerialManager) warnOnce(name, msg string, err error) {
	s.mu.Lock()
	first := !s.warned[name]
	s.warned[name] = true
	s.mu.Unlock()

	if first {
		s.logger.Warn(msg, zap.String("portName", name), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("portName", name), zap.Error(err))
	}
}
