package devices

import (
	"context"
	"fmt"
	"sync"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

// VirtualManager reports simulated boards, for running without hardware.
type VirtualManager struct {
	serials []int
	attach  Handler
	detach  Handler
	mu      sync.Mutex
	open    bool
}

func NewVirtualManager(serials ...int) *VirtualManager {
	return &VirtualManager{serials: serials}
}

func (v *VirtualManager) SetOnAttachHandler(h Handler) { v.attach = h }
func (v *VirtualManager) SetOnDetachHandler(h Handler) { v.detach = h }

// Open reports every virtual board, one event per channel.
func (v *VirtualManager) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.open {
		v.mu.Unlock()
		return nil
	}
	v.open = true
	v.mu.Unlock()

	v.fire(v.attach)
	return nil
}

func (v *VirtualManager) Close() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return nil
	}
	v.open = false
	v.mu.Unlock()

	v.fire(v.detach)
	return nil
}

func (v *VirtualManager) fire(h Handler) {
	if h == nil {
		return
	}
	for _, serial := range v.serials {
		for ch := 0; ch < bridge.ChannelCount; ch++ {
			h(v, DeviceInfo{SerialNumber: serial, DeviceName: bridge.DeviceName, Channel: ch})
		}
	}
}

func (v *VirtualManager) OpenChannels(serial int) ([bridge.ChannelCount]bridge.Channel, error) {
	for _, s := range v.serials {
		if s == serial {
			return bridge.NewVirtualChannels(serial), nil
		}
	}
	return [bridge.ChannelCount]bridge.Channel{}, fmt.Errorf("no virtual board with serial %d", serial)
}

func (v *VirtualManager) BoardOptions(serial int) []bridge.Option {
	return []bridge.Option{bridge.WithName("Fake"), bridge.AsVirtual()}
}
