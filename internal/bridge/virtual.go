package bridge

import (
	"math"
	"sync/atomic"
	"time"
)

// Sawtooth parameters of the simulated channels, in mV/V.
const (
	virtualRate   = 10.0
	virtualPeriod = 50.0
	virtualOffset = 25.0
)

// virtualPhases staggers the four simulated channels by a quarter period.
var virtualPhases = [ChannelCount]float64{0, 12.5, 25, 37.5}

// VirtualChannel produces a sawtooth between -25 and +25 mV/V.
type VirtualChannel struct {
	serial int
	phase  float64
	now    func() time.Time
	closed atomic.Bool
}

// NewVirtualChannels returns four staggered simulated channels.
func NewVirtualChannels(serial int) [ChannelCount]Channel {
	var chans [ChannelCount]Channel
	for i := range chans {
		chans[i] = &VirtualChannel{serial: serial, phase: virtualPhases[i], now: time.Now}
	}
	return chans
}

func (v *VirtualChannel) VoltageRatio() (float64, error) {
	if v.closed.Load() {
		return 0, ErrNotAttached
	}
	t := float64(v.now().UnixNano()) / float64(time.Second)
	mvv := math.Mod(t*virtualRate+v.phase, virtualPeriod) - virtualOffset
	return mvv / 1000, nil
}

func (v *VirtualChannel) Attached() bool                      { return !v.closed.Load() }
func (v *VirtualChannel) DeviceSerialNumber() (int, error)    { return v.serial, nil }
func (v *VirtualChannel) SetBridgeGain(Gain) error            { return nil }
func (v *VirtualChannel) SetDataInterval(time.Duration) error { return nil }

func (v *VirtualChannel) Close() error {
	v.closed.Store(true)
	return nil
}
