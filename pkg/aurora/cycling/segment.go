package cycling

import (
	"fmt"
	"math"
)

// minHalfCycleSamples is the noise filter: sign-change artifacts shorter than
// this many samples are not real half-cycles and are discarded.
const minHalfCycleSamples = 10

// Segment splits a raw time/voltage/current trace into charge and discharge
// half-cycles and integrates per-cycle capacities and energies.
//
// Preconditions: the three arrays have equal length, t is sorted ascending
// and starts at 0 (the extractor normalizes). Samples with zero current are
// dropped before segmentation since dead zones belong to no half-cycle.
//
// Capacities are converted from amp-seconds to mAh and energies from joules
// to Wh. Fewer than two current sign changes is valid input and yields empty
// capacity lists, not an error.
func Segment(t, V, I []float64) (*CycleSeries, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("cannot segment an empty measurement")
	}
	if len(t) != len(V) || len(t) != len(I) {
		return nil, fmt.Errorf("array length mismatch: t=%d Ewe=%d I=%d", len(t), len(V), len(I))
	}

	// Drop dead-current samples.
	ft := make([]float64, 0, len(t))
	fV := make([]float64, 0, len(V))
	fI := make([]float64, 0, len(I))
	for k := range I {
		if I[k] == 0 {
			continue
		}
		ft = append(ft, t[k])
		fV = append(fV, V[k])
		fI = append(fI, I[k])
	}

	series := &CycleSeries{Time: ft, Ewe: fV, I: fI}
	if len(fI) == 0 {
		return series, nil
	}

	// Boundary indices where the current changes sign. The implicit
	// predecessor of the first sample has sign 0, so index 0 is always a
	// boundary; the array length closes the final half-cycle. A trace with
	// no real sign change has no half-cycles at all: a single constant
	// charge or discharge is "not enough data yet", not one giant cycle.
	bounds := []int{0}
	prev := sign(fI[0])
	for k := 1; k < len(fI); k++ {
		if s := sign(fI[k]); s != prev {
			bounds = append(bounds, k)
			prev = s
		}
	}
	if len(bounds) == 1 {
		return series, nil
	}
	bounds = append(bounds, len(fI))

	for b := 0; b < len(bounds)-1; b++ {
		i0, ie := bounds[b], bounds[b+1]
		if ie-i0 < minHalfCycleSamples {
			continue
		}

		q := trapezoid(ft[i0:ie], fI[i0:ie])
		e := energyOf(ft[i0:ie], fV[i0:ie], fI[i0:ie])

		hc := HalfCycle{
			Start:    i0,
			End:      ie,
			Charge:   q > 0,
			Capacity: math.Abs(q) / 3.6,
			Energy:   math.Abs(e) / 3600.0,
		}
		series.HalfCycles = append(series.HalfCycles, hc)

		if hc.Charge {
			series.Qc = append(series.Qc, hc.Capacity)
			series.Ec = append(series.Ec, hc.Energy)
			series.CycleIndex = append(series.CycleIndex, i0)
		} else {
			series.Qd = append(series.Qd, hc.Capacity)
			series.Ed = append(series.Ed, hc.Energy)
		}
	}

	return series, nil
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// trapezoid integrates y over x by trapezoidal quadrature.
func trapezoid(x, y []float64) float64 {
	var sum float64
	for k := 1; k < len(x); k++ {
		sum += 0.5 * (y[k] + y[k-1]) * (x[k] - x[k-1])
	}
	return sum
}

// energyOf integrates the voltage over the cumulative charge Q(t), itself
// accumulated by trapezoidal quadrature of the current, yielding the
// half-cycle energy in joules.
func energyOf(t, V, I []float64) float64 {
	var e float64
	for k := 1; k < len(t); k++ {
		dq := 0.5 * (I[k] + I[k-1]) * (t[k] - t[k-1])
		e += 0.5 * (V[k] + V[k-1]) * dq
	}
	return e
}
