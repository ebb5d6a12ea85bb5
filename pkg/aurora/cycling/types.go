package cycling

import "fmt"

// CheckType selects which half-cycle capacity list an analysis looks at.
type CheckType string

const (
	CheckDischargeCapacity CheckType = "discharge_capacity"
	CheckChargeCapacity    CheckType = "charge_capacity"
)

// HalfCycle is a maximal contiguous run of same-signed current within the
// filtered (I != 0) sample arrays. The index range is half-open [Start, End).
type HalfCycle struct {
	Start    int
	End      int
	Charge   bool    // true for charge (positive current), false for discharge
	Capacity float64 // absolute capacity in mAh
	Energy   float64 // absolute energy in Wh
}

// CycleSeries holds the post-processed view of a cycling measurement: the
// filtered raw arrays plus the per-cycle capacities and energies derived from
// them. Qd/Qc need not be equal length since cycling alternates between
// half-cycles and either may have completed one more than the other.
type CycleSeries struct {
	Time []float64 // seconds, normalized so Time[0] == 0
	Ewe  []float64 // working-electrode voltage, V
	I    []float64 // current, A (signed: positive = charge)

	HalfCycles []HalfCycle

	Qd []float64 // discharge capacities, mAh
	Qc []float64 // charge capacities, mAh
	Ed []float64 // discharge energies, Wh
	Ec []float64 // charge energies, Wh

	// CycleIndex records the filtered-array start index of each charge
	// half-cycle; used to truncate a retained snapshot to the last N cycles.
	CycleIndex []int
}

// Cycles returns the number of completed discharge half-cycles, which is the
// cycle count reported to monitors.
func (s *CycleSeries) Cycles() int {
	return len(s.Qd)
}

// Capacities returns the capacity list selected by the check type.
func (s *CycleSeries) Capacities(check CheckType) ([]float64, error) {
	switch check {
	case CheckDischargeCapacity:
		return s.Qd, nil
	case CheckChargeCapacity:
		return s.Qc, nil
	default:
		return nil, fmt.Errorf("unsupported check type %q", check)
	}
}

// TruncateLast reduces the series to the last n cycles, keeping enough of the
// raw sample arrays to reconstruct them. A series with fewer cycles is
// returned unchanged.
func (s *CycleSeries) TruncateLast(n int) *CycleSeries {
	if n <= 0 || len(s.CycleIndex) <= n {
		return s
	}

	start := s.CycleIndex[len(s.CycleIndex)-n]

	clip := func(v []float64, keep int) []float64 {
		if len(v) <= keep {
			return v
		}
		return v[len(v)-keep:]
	}

	// Rebase the kept cycle indices onto the clipped arrays. Half-cycles are
	// derived data and are recomputed from raw arrays when needed, so they
	// are not carried over.
	rebased := make([]int, n)
	for i, idx := range s.CycleIndex[len(s.CycleIndex)-n:] {
		rebased[i] = idx - start
	}

	return &CycleSeries{
		Time:       s.Time[start:],
		Ewe:        s.Ewe[start:],
		I:          s.I[start:],
		Qd:         clip(s.Qd, n),
		Qc:         clip(s.Qc, n),
		Ed:         clip(s.Ed, n),
		Ec:         clip(s.Ec, n),
		CycleIndex: rebased,
	}
}
