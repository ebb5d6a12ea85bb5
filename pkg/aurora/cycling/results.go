package cycling

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var nonIdentChars = regexp.MustCompile(`[^0-9a-zA-Z_]`)

// ArrayStore is the column-oriented encoding of a results document: one
// named numeric array per step, raw quantity and identifier, using names of
// the form "step{i}_{quantity}_{identifier}" plus "step{i}_uts".
type ArrayStore struct {
	Arrays   map[string][]float64
	Metadata map[string]interface{}
}

// Get returns the named array or a MissingKeyError.
func (s *ArrayStore) Get(name string) ([]float64, error) {
	arr, ok := s.Arrays[name]
	if !ok {
		return nil, &MissingKeyError{Key: name}
	}
	return arr, nil
}

// Steps counts the distinct "step{i}_" prefixes present in the store.
func (s *ArrayStore) Steps() int {
	seen := map[string]bool{}
	for name := range s.Arrays {
		if i := strings.Index(name, "_"); i > 0 && strings.HasPrefix(name, "step") {
			seen[name[:i]] = true
		}
	}
	return len(seen)
}

// Names returns the sorted array names, mainly for logging.
func (s *ArrayStore) Names() []string {
	names := make([]string, 0, len(s.Arrays))
	for name := range s.Arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseResults explodes a decoded results.json document into an ArrayStore.
// Each method step contributes one array per raw quantity and identifier
// (nominal value / std error; unit strings are not numeric and are skipped),
// with special characters in quantity names replaced by underscores. The
// document metadata mapping is carried along as store attributes.
func ParseResults(doc interface{}) (*ArrayStore, error) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, &TypeError{Field: "document", Want: "a mapping"}
	}
	rawSteps, ok := m["steps"]
	if !ok {
		return nil, &MissingKeyError{Key: "steps"}
	}
	steps, ok := rawSteps.([]interface{})
	if !ok {
		return nil, &TypeError{Field: "steps", Want: "an array"}
	}

	store := &ArrayStore{Arrays: map[string][]float64{}}
	if meta, ok := m["metadata"].(map[string]interface{}); ok {
		store.Metadata = meta
	}

	for istep, s := range steps {
		step, ok := s.(map[string]interface{})
		if !ok {
			return nil, &TypeError{Field: fmt.Sprintf("steps[%d]", istep), Want: "a mapping"}
		}
		samples, ok := step["data"].([]interface{})
		if !ok {
			return nil, &MissingKeyError{Key: fmt.Sprintf("steps[%d].data", istep)}
		}
		if len(samples) == 0 {
			continue
		}

		first, ok := samples[0].(map[string]interface{})
		if !ok {
			return nil, &TypeError{Field: fmt.Sprintf("steps[%d].data[0]", istep), Want: "a mapping"}
		}
		firstRaw, ok := first["raw"].(map[string]interface{})
		if !ok {
			return nil, &MissingKeyError{Key: "raw"}
		}

		for qtyName, qty := range firstRaw {
			cleaned := nonIdentChars.ReplaceAllString(qtyName, "_")

			if sub, ok := qty.(map[string]interface{}); ok {
				for ident := range sub {
					name := fmt.Sprintf("step%d_%s_%s", istep, cleaned, ident)
					arr, numeric := collectColumn(samples, qtyName, ident)
					if numeric {
						store.Arrays[name] = arr
					}
				}
			} else {
				name := fmt.Sprintf("step%d_%s", istep, cleaned)
				arr, numeric := collectColumn(samples, qtyName, "")
				if numeric {
					store.Arrays[name] = arr
				}
			}
		}

		uts := make([]float64, 0, len(samples))
		for i, s := range samples {
			sample, ok := s.(map[string]interface{})
			if !ok {
				return nil, &TypeError{Field: fmt.Sprintf("steps[%d].data[%d]", istep, i), Want: "a mapping"}
			}
			v, err := numberField(sample, "uts")
			if err != nil {
				return nil, err
			}
			uts = append(uts, v)
		}
		store.Arrays[fmt.Sprintf("step%d_uts", istep)] = uts
	}

	return store, nil
}

// collectColumn gathers one quantity (optionally one identifier within it)
// across all samples of a step. The second return is false when the column
// holds non-numeric values such as unit strings.
func collectColumn(samples []interface{}, qtyName, ident string) ([]float64, bool) {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		sample, ok := s.(map[string]interface{})
		if !ok {
			return nil, false
		}
		raw, ok := sample["raw"].(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := raw[qtyName]
		if !ok {
			return nil, false
		}
		if ident != "" {
			sub, ok := v.(map[string]interface{})
			if !ok {
				return nil, false
			}
			v, ok = sub[ident]
			if !ok {
				return nil, false
			}
		}
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
