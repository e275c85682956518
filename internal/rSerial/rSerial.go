// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	readTimeout = 5 * time.Millisecond
	// consecutive read errors before the port is considered gone
	maxReadErrors = 10
)

type RSerial struct {
	serial.Port
	MessageQueue  chan<- []byte // channels are all implicitly passed as pointers
	tempBuff      []byte
	logger        *zap.Logger
	portName      string
	stopSequence  []byte
	rawPacketSize int
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] incorrect stop sequence detected: %v", e.ByteSequence)
}

// Open opens portName at the given baud rate.
func Open(portName string, baudrate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return port, nil
}

func NewRSerial(port serial.Port, portName string, messageQueue chan<- []byte, logger *zap.Logger, rawPacketSize int, stopSequence []byte) *RSerial {
	return &RSerial{
		Port:          port,
		MessageQueue:  messageQueue,
		tempBuff:      make([]byte, rawPacketSize),
		logger:        logger,
		portName:      portName,
		stopSequence:  stopSequence,
		rawPacketSize: rawPacketSize,
	}
}

func (r *RSerial) initialize(ctx context.Context) error {
	if err := r.SetReadTimeout(readTimeout); err != nil {
		return err
	}
	if err := r.ResetInputBuffer(); err != nil {
		return err
	}
	return r.sync(ctx)
}

// Run reads packets until ctx is cancelled or the port keeps failing, then
// closes the message queue. It returns the error that ended the loop, nil on
// cancellation.
func (r *RSerial) Run(ctx context.Context) error {
	defer close(r.MessageQueue)

	readErrors := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return nil
		default:
		}

		packet, err := r.ReadPacket(ctx)
		if err == nil {
			readErrors = 0
			select {
			case r.MessageQueue <- packet:
			case <-ctx.Done():
			}
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		var oosError *OutOfSyncError
		if errors.As(err, &oosError) {
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
			if err := r.sync(ctx); err != nil {
				return err
			}
			continue
		}

		readErrors++
		r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName), zap.Int("consecutiveErrors", readErrors))
		if readErrors >= maxReadErrors {
			return fmt.Errorf("[rserial] %s: giving up after %d read errors: %w", r.portName, readErrors, err)
		}
	}
}

// ReadPacket reads one raw packet and checks its stop sequence. The returned
// slice is a copy owned by the caller.
func (r *RSerial) ReadPacket(ctx context.Context) ([]byte, error) {
	count := 0
	for count < r.rawPacketSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// a read timeout returns n == 0 with no error
		n, err := r.Read(r.tempBuff[count:])
		if err != nil {
			return nil, err
		}
		count += n
	}

	packet := make([]byte, r.rawPacketSize)
	copy(packet, r.tempBuff)

	// validate that the packet is valid by checking the last bytes of the packet
	if !bytes.Equal(packet[r.rawPacketSize-len(r.stopSequence):], r.stopSequence) {
		return nil, &OutOfSyncError{
			ByteSequence: packet,
		}
	}

	return packet, nil
}

// sync discards bytes until the last byte of the stop sequence went by.
func (r *RSerial) sync(ctx context.Context) error {
	r.logger.Warn("[rserial] resyncing serial port", zap.String("portName", r.portName))
	onebyte := make([]byte, 1)
	last := r.stopSequence[len(r.stopSequence)-1]

	readErrors := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(onebyte)
		if err != nil {
			readErrors++
			r.logger.Warn("[rserial] error while resyncing serial port", zap.Error(err), zap.String("portName", r.portName))
			if readErrors >= maxReadErrors {
				return fmt.Errorf("[rserial] %s: resync failed: %w", r.portName, err)
			}
			continue
		}
		if n == 1 && onebyte[0] == last {
			return nil
		}
	}
}
