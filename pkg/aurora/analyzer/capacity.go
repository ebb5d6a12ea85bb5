// Package analyzer evaluates cycling measurements against stop conditions.
// Analyzers are pure: they hold configuration only, so one instance can be
// shared across polling loops while each job keeps its own series.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
)

// Action is the monitoring decision for one evaluation.
type Action int

const (
	// ActionContinue means cycling is healthy or there is not enough data
	// to decide yet.
	ActionContinue Action = iota
	// ActionDegraded means capacity dipped below the threshold for the
	// configured run length at some point but has since recovered. The
	// flag is informational; the job keeps running.
	ActionDegraded
	// ActionTerminate means the below-threshold run includes the newest
	// cycle. The degradation is current and the job should be stopped.
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionDegraded:
		return "degraded"
	case ActionTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Verdict is the full outcome of one evaluation. Report and Status are
// stable human-readable strings consumed by the monitoring log and the job
// annotation respectively.
type Verdict struct {
	Action Action
	Flag   string // 🔴 on terminate, 🟡 on degraded, empty otherwise
	Report string
	Status string
	Reason string // termination reason, set only on ActionTerminate

	// Cycles and Retention summarize the evaluated series: the number of
	// complete cycles and the latest capacity as a fraction of the first.
	Cycles    int
	Retention float64
}

// Settings configures a CapacityAnalyzer. Zero values fall back to the
// defaults applied by NewCapacityAnalyzer.
type Settings struct {
	// CheckType selects the charge or discharge capacity list.
	CheckType cycling.CheckType
	// Threshold is the capacity retention fraction, relative to the first
	// cycle, below which a cycle counts as degraded.
	Threshold float64
	// ConsecutiveCycles is the run length of degraded cycles required
	// before the condition fires.
	ConsecutiveCycles int
	// KeepLast bounds the retained series to this many cycles.
	KeepLast int
}

const (
	defaultThreshold         = 0.8
	defaultConsecutiveCycles = 2
	defaultKeepLast          = 10
)

// CapacityAnalyzer checks whether capacity has fallen below a threshold for
// a required number of consecutive cycles.
type CapacityAnalyzer struct {
	checkType   cycling.CheckType
	threshold   float64
	consecutive int
	keepLast    int
}

// NewCapacityAnalyzer validates the settings and applies defaults. An
// unsupported check type is a configuration error, not a runtime one.
func NewCapacityAnalyzer(s Settings) (*CapacityAnalyzer, error) {
	a := &CapacityAnalyzer{
		checkType:   s.CheckType,
		threshold:   s.Threshold,
		consecutive: s.ConsecutiveCycles,
		keepLast:    s.KeepLast,
	}

	if a.checkType == "" {
		a.checkType = cycling.CheckDischargeCapacity
	}
	switch a.checkType {
	case cycling.CheckDischargeCapacity, cycling.CheckChargeCapacity:
	default:
		return nil, fmt.Errorf("check type %q not supported", a.checkType)
	}

	if a.threshold == 0 {
		a.threshold = defaultThreshold
	}
	if a.threshold <= 0 || a.threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside (0, 1]", a.threshold)
	}

	if a.consecutive == 0 {
		a.consecutive = defaultConsecutiveCycles
	}
	if a.consecutive < 1 {
		return nil, fmt.Errorf("consecutive cycles must be at least 1, got %d", a.consecutive)
	}

	if a.keepLast == 0 {
		a.keepLast = defaultKeepLast
	}
	if a.keepLast < a.consecutive {
		return nil, fmt.Errorf("keep last (%d) must cover the consecutive run length (%d)", a.keepLast, a.consecutive)
	}

	return a, nil
}

// Analyze post-processes a raw snapshot document and evaluates the stop
// condition over the full capacity history. The returned series is the
// retained copy, truncated to the configured keep-last window; the full
// series is recomputed from scratch on the next poll.
func (a *CapacityAnalyzer) Analyze(snapshot map[string]interface{}) (Verdict, *cycling.CycleSeries, error) {
	t, V, I, err := cycling.FromRawJSON(snapshot)
	if err != nil {
		return Verdict{}, nil, err
	}
	series, err := cycling.Segment(t, V, I)
	if err != nil {
		return Verdict{}, nil, err
	}
	return a.Evaluate(series), series.TruncateLast(a.keepLast), nil
}

// Evaluate checks the capacity series against the threshold condition. The
// decision is a run-length property over the whole history: only a run of
// below-threshold cycles that includes the newest cycle triggers
// termination; an earlier qualifying run that cycling recovered from is
// reported as degraded.
func (a *CapacityAnalyzer) Evaluate(series *cycling.CycleSeries) Verdict {
	capacities, err := series.Capacities(a.checkType)
	if err != nil {
		return Verdict{Action: ActionContinue, Report: err.Error()}
	}

	n := len(capacities)
	if n < 2 {
		return Verdict{Action: ActionContinue, Report: "need at least two complete cycles", Cycles: n}
	}

	Qs := capacities[0]
	Q := capacities[n-1]
	Qt := a.threshold * Qs
	retention := Q / Qs * 100

	v := Verdict{
		Report:    fmt.Sprintf("cycle #%d : Q = %.2f mAh (%.1f%%)", n, Q, retention),
		Status:    fmt.Sprintf("(cycle #%d : C @ %.1f%%)", n, retention),
		Cycles:    n,
		Retention: Q / Qs,
	}
	if Q < Qt {
		v.Report += fmt.Sprintf(" - %.1f%% below threshold", (Qt-Q)/Qt*100)
	}

	qualifying := a.qualifyingCycles(capacities, Qt)
	if len(qualifying) == 0 {
		return v
	}

	v.Report += fmt.Sprintf(" - cycles below threshold: %s", formatCycles(qualifying))

	if qualifying[len(qualifying)-1] == n {
		v.Action = ActionTerminate
		v.Flag = "🔴"
		v.Reason = fmt.Sprintf(
			"capacity below %.0f%% of first cycle for %d consecutive cycles %s",
			a.threshold*100, a.consecutive, v.Status)
	} else {
		v.Action = ActionDegraded
		v.Flag = "🟡"
	}
	return v
}

// qualifyingCycles returns the 1-based cycle numbers that sit at or past
// position `consecutive` of a maximal run of below-threshold cycles. The
// run counter restarts at every above-threshold cycle.
func (a *CapacityAnalyzer) qualifyingCycles(capacities []float64, Qt float64) []int {
	var out []int
	run := 0
	for i, q := range capacities {
		if q < Qt {
			run++
		} else {
			run = 0
		}
		if run >= a.consecutive {
			out = append(out, i+1)
		}
	}
	return out
}

func formatCycles(cycles []int) string {
	parts := make([]string, len(cycles))
	for i, c := range cycles {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
