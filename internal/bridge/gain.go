package bridge

import "fmt"

// Gain is the vendor bridge gain code.
type Gain int

const (
	Gain1   Gain = 1
	Gain8   Gain = 4
	Gain16  Gain = 5
	Gain32  Gain = 6
	Gain64  Gain = 7
	Gain128 Gain = 8
)

const DefaultGain = Gain64

var gainMultipliers = map[Gain]int{
	Gain1:   1,
	Gain8:   8,
	Gain16:  16,
	Gain32:  32,
	Gain64:  64,
	Gain128: 128,
}

// ParseGain maps an amplification factor (1, 8, 16, 32, 64, 128) to its gain code.
func ParseGain(multiplier int) (Gain, error) {
	for g, m := range gainMultipliers {
		if m == multiplier {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unsupported bridge gain %dx", multiplier)
}

// Multiplier returns the amplification factor, or 0 for an unknown code.
func (g Gain) Multiplier() int {
	return gainMultipliers[g]
}

func (g Gain) String() string {
	if m, ok := gainMultipliers[g]; ok {
		return fmt.Sprintf("%dx", m)
	}
	return fmt.Sprintf("Gain(%d)", int(g))
}
