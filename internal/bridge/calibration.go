package bridge

// Calibration converts a bridge reading in mV/V to Newtons.
// A zero Sensitivity means the channel is not calibrated.
type Calibration struct {
	Sensitivity float64 // N per mV/V
	Offset      float64 // mV/V reading at zero load
}

func (c Calibration) Enabled() bool {
	return c.Sensitivity != 0
}

// Apply converts mV/V to Newtons, or returns the input unchanged when not calibrated.
func (c Calibration) Apply(millivoltsPerVolt float64) float64 {
	if !c.Enabled() {
		return millivoltsPerVolt
	}
	return (millivoltsPerVolt - c.Offset) * c.Sensitivity
}

func (c Calibration) Unit() string {
	if c.Enabled() {
		return "N"
	}
	return "mV/V"
}

// MillivoltsPerVolt converts a raw V/V ratio to mV/V.
func MillivoltsPerVolt(ratio float64) float64 {
	return ratio * 1000
}
