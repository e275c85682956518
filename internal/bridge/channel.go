package bridge

import (
	"errors"
	"time"
)

const (
	// DeviceName is reported by the device manager for 4-input bridge boards.
	DeviceName   = "PhidgetBridge 4-Input"
	ChannelCount = 4

	DefaultDataInterval = 8 * time.Millisecond
)

var ErrNotAttached = errors.New("channel not attached")

// Channel is one voltage ratio input of a bridge board.
type Channel interface {
	// VoltageRatio returns the latest bridge reading in V/V.
	VoltageRatio() (float64, error)
	Attached() bool
	DeviceSerialNumber() (int, error)
	SetBridgeGain(Gain) error
	SetDataInterval(time.Duration) error
	Close() error
}
