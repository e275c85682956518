package display

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes one channel over the display window. NaN readings are
// skipped; with no valid reading every field is NaN.
type Stats struct {
	Latest float64
	Mean   float64
	Min    float64
	Max    float64
	Count  int
}

func ComputeStats(values []float64) Stats {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		nan := math.NaN()
		return Stats{Latest: nan, Mean: nan, Min: nan, Max: nan}
	}
	return Stats{
		Latest: valid[len(valid)-1],
		Mean:   stat.Mean(valid, nil),
		Min:    floats.Min(valid),
		Max:    floats.Max(valid),
		Count:  len(valid),
	}
}
