package rserial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

const DEFAULT_QUEUE_SIZE = 20

const (
	// a reading older than this many data intervals is stale
	staleIntervals = 10
	minStaleAge    = 250 * time.Millisecond
)

var (
	ErrNoReading    = errors.New("no reading received yet")
	ErrStaleReading = errors.New("board stopped sending readings")
)

// Stream owns one serial bridge board: the robust reader, the packet decoder
// and the latest-reading store its channels read from.
type Stream struct {
	PortName string

	reader    *RSerial
	queue     chan []byte
	store     ReadingStore
	logger    *zap.Logger
	serial    uint32
	attached  atomic.Bool
	interval  atomic.Int64
	now       func() time.Time
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewStream(port serial.Port, portName string, logger *zap.Logger) *Stream {
	queue := make(chan []byte, DEFAULT_QUEUE_SIZE)
	return &Stream{
		PortName: portName,
		reader:   NewRSerial(port, portName, queue, logger, RawPacketSize, StopSequence),
		queue:    queue,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Identify syncs the port and reads packets until one decodes, returning the
// serial number the board reports.
func (s *Stream) Identify(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.reader.initialize(ctx); err != nil {
		return 0, fmt.Errorf("[rserial] %s: initializing: %w", s.PortName, err)
	}

	for {
		raw, err := s.reader.ReadPacket(ctx)
		if err != nil {
			var oosError *OutOfSyncError
			if errors.As(err, &oosError) {
				if err := s.reader.sync(ctx); err != nil {
					return 0, err
				}
				continue
			}
			return 0, fmt.Errorf("[rserial] %s: identifying board: %w", s.PortName, err)
		}
		packet, err := DecodePacket(raw)
		if err != nil {
			return 0, err
		}
		s.serial = packet.Serial
		s.store.Update(packet, s.now())
		s.attached.Store(true)
		return int(packet.Serial), nil
	}
}

// Run reads and decodes packets until ctx is cancelled or the port dies.
// Done is closed when it returns.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.attached.Store(false)

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.reader.Run(ctx)
	}()

	for raw := range s.queue {
		if err := s.processPacket(raw); err != nil {
			s.logger.Warn(
				"[rserial] error decoding byte packet",
				zap.Error(err),
				zap.Int("packetLength", len(raw)),
				zap.String("portName", s.PortName),
				zap.ByteString("rawBytes", raw),
			)
		}
	}
	return <-readErr
}

func (s *Stream) processPacket(raw []byte) error {
	packet, err := DecodePacket(raw)
	if err != nil {
		return err
	}
	if packet.Serial != s.serial {
		return fmt.Errorf("packet from serial %d on a port identified as %d", packet.Serial, s.serial)
	}
	s.store.Update(packet, s.now())
	return nil
}

// Done is closed once Run has returned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Attached() bool {
	return s.attached.Load()
}

// Latest returns the most recent decoded packet.
func (s *Stream) Latest() (Packet, bool) {
	p, _, ok := s.store.Latest()
	return p, ok
}

// Fresh returns the most recent packet, failing with ErrStaleReading once the
// board has been silent for staleIntervals data intervals.
func (s *Stream) Fresh() (Packet, error) {
	p, at, ok := s.store.Latest()
	if !ok {
		return Packet{}, ErrNoReading
	}
	if age := s.now().Sub(at); age > s.staleAfter() {
		return Packet{}, fmt.Errorf("%w: last packet %s ago", ErrStaleReading, age.Round(time.Millisecond))
	}
	return p, nil
}

func (s *Stream) staleAfter() time.Duration {
	limit := staleIntervals * time.Duration(s.interval.Load())
	if limit < minStaleAge {
		return minStaleAge
	}
	return limit
}

// SendCommand writes one ASCII command line to the board.
func (s *Stream) SendCommand(format string, args ...interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	line := fmt.Sprintf(format, args...) + string(StopSequence)
	if _, err := s.reader.Write([]byte(line)); err != nil {
		return fmt.Errorf("[rserial] %s: writing command: %w", s.PortName, err)
	}
	return nil
}

// Close closes the port once; the read loop then fails and Run returns.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.attached.Store(false)
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

// Channels returns the four voltage ratio inputs of the board.
func (s *Stream) Channels() [bridge.ChannelCount]bridge.Channel {
	var chans [bridge.ChannelCount]bridge.Channel
	for i := range chans {
		chans[i] = &streamChannel{stream: s, index: i}
	}
	return chans
}

type streamChannel struct {
	stream *Stream
	index  int
}

func (c *streamChannel) VoltageRatio() (float64, error) {
	if !c.stream.Attached() {
		return 0, bridge.ErrNotAttached
	}
	p, err := c.stream.Fresh()
	if err != nil {
		return 0, err
	}
	return p.Ratios[c.index], nil
}

func (c *streamChannel) Attached() bool {
	return c.stream.Attached()
}

func (c *streamChannel) DeviceSerialNumber() (int, error) {
	p, ok := c.stream.Latest()
	if !ok {
		return 0, ErrNoReading
	}
	return int(p.Serial), nil
}

func (c *streamChannel) SetBridgeGain(g bridge.Gain) error {
	return c.stream.SendCommand("GAIN %d %d", c.index, int(g))
}

func (c *streamChannel) SetDataInterval(d time.Duration) error {
	c.stream.interval.Store(int64(d))
	return c.stream.SendCommand("INTERVAL %d %d", c.index, d.Milliseconds())
}

// Close is shared by the four channels: the first call closes the port.
func (c *streamChannel) Close() error {
	return c.stream.Close()
}
