// Package devices discovers bridge boards and keeps the registry of the ones
// currently connected.
//
// A Manager reports channels coming and going, once per channel, the way the
// vendor device manager does. The Registry listens to one or more managers and
// turns those per-channel events into one Board per serial number.
package devices

import (
	"context"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

// DeviceInfo describes one channel reported by a manager.
type DeviceInfo struct {
	SerialNumber int
	DeviceName   string
	Channel      int
}

// Handler is called for every attached or detached channel.
type Handler func(m Manager, info DeviceInfo)

type Manager interface {
	SetOnAttachHandler(Handler)
	SetOnDetachHandler(Handler)
	// Open starts reporting devices; already connected ones are reported
	// before or shortly after Open returns.
	Open(ctx context.Context) error
	Close() error
	// OpenChannels returns the four channels of an attached board.
	OpenChannels(serial int) ([bridge.ChannelCount]bridge.Channel, error)
}

// optionProvider is implemented by managers whose boards need extra
// construction options, e.g. virtual boards.
type optionProvider interface {
	BoardOptions(serial int) []bridge.Option
}
