// Package payload models tomato job payloads: the battery sample, the
// sequence of electrochemistry techniques to run, and the tomato daemon
// settings, serialized to the YAML document "ketchup submit" consumes.
package payload

import "fmt"

// IRange is the potentiostat current range vocabulary.
type IRange string

const (
	IRangeKeep    IRange = "keep"
	IRange100pA   IRange = "100 pA"
	IRange1nA     IRange = "1 nA"
	IRange10nA    IRange = "10 nA"
	IRange100nA   IRange = "100 nA"
	IRange1uA     IRange = "1 uA"
	IRange10uA    IRange = "10 uA"
	IRange100uA   IRange = "100 uA"
	IRange1mA     IRange = "1 mA"
	IRange10mA    IRange = "10 mA"
	IRange100mA   IRange = "100 mA"
	IRange1A      IRange = "1 A"
	IRangeBooster IRange = "booster"
	IRangeAuto    IRange = "auto"
)

var validIRanges = map[IRange]bool{
	IRangeKeep: true, IRange100pA: true, IRange1nA: true, IRange10nA: true,
	IRange100nA: true, IRange1uA: true, IRange10uA: true, IRange100uA: true,
	IRange1mA: true, IRange10mA: true, IRange100mA: true, IRange1A: true,
	IRangeBooster: true, IRangeAuto: true,
}

// ERange is the potentiostat voltage range vocabulary.
type ERange string

const (
	ERange2V5  ERange = "+-2.5 V"
	ERange5V   ERange = "+-5.0 V"
	ERange10V  ERange = "+-10 V"
	ERangeAuto ERange = "auto"
)

var validERanges = map[ERange]bool{
	ERange2V5: true, ERange5V: true, ERange10V: true, ERangeAuto: true,
}

// Technique is one step of a cycling method. The set of variants is closed:
// open-circuit voltage, constant current, constant voltage and loop. Each
// variant carries a fixed, statically validated parameter record.
type Technique interface {
	// TechniqueName is the tomato technique identifier.
	TechniqueName() string
	// Validate checks the parameter record in isolation. Cross-step rules
	// such as loop targets are checked by Sequence.Validate.
	Validate() error

	// isTechnique closes the union.
	isTechnique()
}

// OpenCircuitVoltage rests the cell and records the voltage.
type OpenCircuitVoltage struct {
	Time          float64 // s
	RecordEveryDt float64 // s
	RecordEveryDE float64 // V
	IRange        IRange
	ERange        ERange
}

func (OpenCircuitVoltage) isTechnique()          {}
func (OpenCircuitVoltage) TechniqueName() string { return "open_circuit_voltage" }

func (t OpenCircuitVoltage) Validate() error {
	if t.Time < 0 || t.RecordEveryDt < 0 || t.RecordEveryDE < 0 {
		return fmt.Errorf("open_circuit_voltage: durations and spacings must be non-negative")
	}
	return validateRanges(t.TechniqueName(), t.IRange, t.ERange)
}

// ConstantCurrent drives the cell at a fixed current, with optional voltage
// limits. The current may be given relative to the sample capacity using
// C-rate notation, e.g. "C/20".
type ConstantCurrent struct {
	Time          float64     // s
	Current       interface{} // A as float64, or a C-rate string
	RecordEveryDt float64     // s
	RecordEveryDE float64     // V
	IRange        IRange
	ERange        ERange
	NCycles       int
	IsDelta       bool
	ExitOnLimit   bool

	LimitVoltageMax *float64
	LimitVoltageMin *float64
}

func (ConstantCurrent) isTechnique()          {}
func (ConstantCurrent) TechniqueName() string { return "constant_current" }

func (t ConstantCurrent) Validate() error {
	if t.Time < 0 || t.RecordEveryDt < 0 || t.RecordEveryDE < 0 {
		return fmt.Errorf("constant_current: durations and spacings must be non-negative")
	}
	if t.NCycles < 0 {
		return fmt.Errorf("constant_current: n_cycles must be non-negative")
	}
	switch t.Current.(type) {
	case float64, string:
	case nil:
		return fmt.Errorf("constant_current: current is required")
	default:
		return fmt.Errorf("constant_current: current must be a number or a C-rate string")
	}
	return validateRanges(t.TechniqueName(), t.IRange, t.ERange)
}

// ConstantVoltage holds the cell at a fixed voltage, with optional current
// limits.
type ConstantVoltage struct {
	Time          float64 // s
	Voltage       float64 // V
	RecordEveryDt float64 // s
	RecordEveryDI float64 // A
	IRange        IRange
	ERange        ERange
	NCycles       int
	IsDelta       bool
	ExitOnLimit   bool

	LimitCurrentMax *float64
	LimitCurrentMin *float64
}

func (ConstantVoltage) isTechnique()          {}
func (ConstantVoltage) TechniqueName() string { return "constant_voltage" }

func (t ConstantVoltage) Validate() error {
	if t.Time < 0 || t.RecordEveryDt < 0 || t.RecordEveryDI < 0 {
		return fmt.Errorf("constant_voltage: durations and spacings must be non-negative")
	}
	if t.NCycles < 0 {
		return fmt.Errorf("constant_voltage: n_cycles must be non-negative")
	}
	return validateRanges(t.TechniqueName(), t.IRange, t.ERange)
}

// Loop repeats a set of preceding techniques. Goto is the 1-based index of
// the step to jump back to; NGotos -1 repeats without limit.
type Loop struct {
	NGotos int
	Goto   int
}

func (Loop) isTechnique()          {}
func (Loop) TechniqueName() string { return "loop" }

func (t Loop) Validate() error {
	if t.Goto < 1 {
		return fmt.Errorf("loop: goto must be a 1-based step index, got %d", t.Goto)
	}
	if t.NGotos < -1 {
		return fmt.Errorf("loop: n_gotos must be -1 (unlimited) or non-negative, got %d", t.NGotos)
	}
	return nil
}

func validateRanges(name string, ir IRange, er ERange) error {
	if ir != "" && !validIRanges[ir] {
		return fmt.Errorf("%s: unknown current range %q", name, ir)
	}
	if er != "" && !validERanges[er] {
		return fmt.Errorf("%s: unknown voltage range %q", name, er)
	}
	return nil
}

// Sequence is an ordered method of techniques making up one experiment.
type Sequence struct {
	Name   string
	Method []Technique
}

// Validate checks every step and the cross-step loop targets: a loop may
// only jump back to a preceding step.
func (s Sequence) Validate() error {
	if len(s.Method) == 0 {
		return fmt.Errorf("method must contain at least one technique")
	}
	for i, step := range s.Method {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if loop, ok := step.(Loop); ok && loop.Goto > i {
			return fmt.Errorf("step %d: loop goto %d does not precede the loop", i+1, loop.Goto)
		}
	}
	return nil
}

// methodDocs renders the sequence for the payload document. The loop goto
// is converted from the 1-based step numbering used here to the 0-based
// indexing tomato expects.
func (s Sequence) methodDocs() []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(s.Method))
	for _, step := range s.Method {
		doc := map[string]interface{}{
			"device":    "MPG2",
			"technique": step.TechniqueName(),
		}
		for k, v := range paramsOf(step) {
			doc[k] = v
		}
		if loop, ok := step.(Loop); ok {
			doc["goto"] = loop.Goto - 1
		}
		docs = append(docs, doc)
	}
	return docs
}

func paramsOf(t Technique) map[string]interface{} {
	switch v := t.(type) {
	case OpenCircuitVoltage:
		return withRanges(map[string]interface{}{
			"time":            v.Time,
			"record_every_dt": v.RecordEveryDt,
			"record_every_dE": v.RecordEveryDE,
		}, v.IRange, v.ERange)
	case ConstantCurrent:
		p := withRanges(map[string]interface{}{
			"time":            v.Time,
			"current":         v.Current,
			"record_every_dt": v.RecordEveryDt,
			"record_every_dE": v.RecordEveryDE,
			"n_cycles":        v.NCycles,
			"is_delta":        v.IsDelta,
			"exit_on_limit":   v.ExitOnLimit,
		}, v.IRange, v.ERange)
		putLimit(p, "limit_voltage_max", v.LimitVoltageMax)
		putLimit(p, "limit_voltage_min", v.LimitVoltageMin)
		return p
	case ConstantVoltage:
		p := withRanges(map[string]interface{}{
			"time":            v.Time,
			"voltage":         v.Voltage,
			"record_every_dt": v.RecordEveryDt,
			"record_every_dI": v.RecordEveryDI,
			"n_cycles":        v.NCycles,
			"is_delta":        v.IsDelta,
			"exit_on_limit":   v.ExitOnLimit,
		}, v.IRange, v.ERange)
		putLimit(p, "limit_current_max", v.LimitCurrentMax)
		putLimit(p, "limit_current_min", v.LimitCurrentMin)
		return p
	case Loop:
		return map[string]interface{}{"n_gotos": v.NGotos}
	default:
		return nil
	}
}

func withRanges(p map[string]interface{}, ir IRange, er ERange) map[string]interface{} {
	if ir == "" {
		ir = IRangeKeep
	}
	if er == "" {
		er = ERangeAuto
	}
	p["I_range"] = string(ir)
	p["E_range"] = string(er)
	return p
}

// putLimit writes optional limits only when set; absent limits must not
// appear in the payload at all.
func putLimit(p map[string]interface{}, key string, v *float64) {
	if v != nil {
		p[key] = *v
	}
}
