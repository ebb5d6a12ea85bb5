package cycling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMultiStep is returned when a measurement document contains more than one
// experimental step. Multi-step analysis is not supported; callers must get a
// clear error rather than a silent truncation to the first step.
var ErrMultiStep = errors.New("analysis of multi-step experiments is not supported")

// TypeError reports input of the wrong kind (not a mapping, not an array).
type TypeError struct {
	Field string
	Want  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s", e.Field, e.Want)
}

// MissingKeyError names the field absent from an incomplete document.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing %q in measurement document", e.Key)
}

// FromRawJSON extracts the (t, Ewe, I) triple from a decoded tomato results
// or snapshot document of the nested form
//
//	{"steps": [{"data": [{"uts": ..., "raw": {"Ewe": {"n": ...}, "I": {"n": ...}}}, ...]}]}
//
// The time axis is normalized so the series starts at zero.
func FromRawJSON(doc interface{}) (t, V, I []float64, err error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, nil, nil, &TypeError{Field: "document", Want: "a mapping"}
	}

	rawSteps, ok := m["steps"]
	if !ok {
		return nil, nil, nil, &MissingKeyError{Key: "steps"}
	}
	steps, ok := rawSteps.([]interface{})
	if !ok {
		return nil, nil, nil, &TypeError{Field: "steps", Want: "an array"}
	}
	if len(steps) == 0 {
		return nil, nil, nil, &MissingKeyError{Key: "steps[0]"}
	}
	if len(steps) > 1 {
		return nil, nil, nil, ErrMultiStep
	}

	step, ok := steps[0].(map[string]interface{})
	if !ok {
		return nil, nil, nil, &TypeError{Field: "steps[0]", Want: "a mapping"}
	}
	rawData, ok := step["data"]
	if !ok {
		return nil, nil, nil, &MissingKeyError{Key: "data"}
	}
	samples, ok := rawData.([]interface{})
	if !ok {
		return nil, nil, nil, &TypeError{Field: "data", Want: "an array"}
	}

	t = make([]float64, 0, len(samples))
	V = make([]float64, 0, len(samples))
	I = make([]float64, 0, len(samples))

	for i, s := range samples {
		sample, ok := s.(map[string]interface{})
		if !ok {
			return nil, nil, nil, &TypeError{Field: fmt.Sprintf("data[%d]", i), Want: "a mapping"}
		}

		uts, err := numberField(sample, "uts")
		if err != nil {
			return nil, nil, nil, err
		}

		raw, ok := sample["raw"].(map[string]interface{})
		if !ok {
			return nil, nil, nil, &MissingKeyError{Key: "raw"}
		}
		ewe, err := nominalValue(raw, "Ewe")
		if err != nil {
			return nil, nil, nil, err
		}
		cur, err := nominalValue(raw, "I")
		if err != nil {
			return nil, nil, nil, err
		}

		t = append(t, uts)
		V = append(V, ewe)
		I = append(I, cur)
	}

	normalizeTime(t)
	return t, V, I, nil
}

// FromColumnarStore extracts the (t, Ewe, I) triple from an already
// column-oriented array store produced by ParseResults. Stores holding more
// than one step are rejected per ErrMultiStep.
func FromColumnarStore(s *ArrayStore) (t, V, I []float64, err error) {
	return s.Columns()
}

// Columns is the method form of FromColumnarStore.
func (s *ArrayStore) Columns() (t, V, I []float64, err error) {
	if s == nil || s.Arrays == nil {
		return nil, nil, nil, &TypeError{Field: "store", Want: "a populated array store"}
	}
	if s.Steps() > 1 {
		return nil, nil, nil, ErrMultiStep
	}

	uts, err := s.Get("step0_uts")
	if err != nil {
		return nil, nil, nil, err
	}
	ewe, err := s.Get("step0_Ewe_n")
	if err != nil {
		return nil, nil, nil, err
	}
	cur, err := s.Get("step0_I_n")
	if err != nil {
		return nil, nil, nil, err
	}

	t = append([]float64(nil), uts...)
	normalizeTime(t)
	return t, ewe, cur, nil
}

// LoadSnapshot decodes and validates a snapshot file. The snapshot must be a
// non-empty JSON mapping; anything else is a structural error the monitor
// must not see.
func LoadSnapshot(data []byte) (map[string]interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot is not valid JSON: %v", err)
	}
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, &TypeError{Field: "snapshot", Want: "a mapping"}
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("snapshot is empty")
	}
	return m, nil
}

func numberField(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &TypeError{Field: key, Want: "a number"}
	}
	return f, nil
}

// nominalValue digs the "n" (nominal value) entry out of a raw quantity
// sub-mapping like {"n": 1.23, "s": 0.01, "u": "V"}.
func nominalValue(raw map[string]interface{}, name string) (float64, error) {
	q, ok := raw[name]
	if !ok {
		return 0, &MissingKeyError{Key: name}
	}
	qm, ok := q.(map[string]interface{})
	if !ok {
		return 0, &TypeError{Field: name, Want: "a mapping"}
	}
	return numberField(qm, "n")
}

func normalizeTime(t []float64) {
	if len(t) == 0 {
		return
	}
	t0 := t[0]
	for i := range t {
		t[i] -= t0
	}
}
