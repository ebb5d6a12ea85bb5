package cycling

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawStep fabricates one step of the nested per-sample log format, with uts
// counting up from base.
func rawStep(base float64, currents []float64) map[string]interface{} {
	samples := make([]interface{}, len(currents))
	for i, cur := range currents {
		samples[i] = map[string]interface{}{
			"uts": base + float64(i),
			"raw": map[string]interface{}{
				"Ewe": map[string]interface{}{"n": 3.7, "s": 0.001, "u": "V"},
				"I":   map[string]interface{}{"n": cur, "s": 0.001, "u": "A"},
			},
		}
	}
	return map[string]interface{}{"data": samples}
}

func rawDoc(steps ...map[string]interface{}) map[string]interface{} {
	s := make([]interface{}, len(steps))
	for i, step := range steps {
		s[i] = step
	}
	return map[string]interface{}{"steps": s}
}

func TestFromRawJSON(t *testing.T) {
	doc := rawDoc(rawStep(1.7e9, []float64{1, 1, -1, -1}))

	ts, V, I, err := FromRawJSON(doc)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2, 3}, ts, "time axis starts at zero")
	assert.Equal(t, []float64{3.7, 3.7, 3.7, 3.7}, V)
	assert.Equal(t, []float64{1, 1, -1, -1}, I)
}

func TestFromRawJSONMultiStep(t *testing.T) {
	doc := rawDoc(
		rawStep(0, []float64{1, 1}),
		rawStep(10, []float64{-1, -1}),
	)

	_, _, _, err := FromRawJSON(doc)
	assert.ErrorIs(t, err, ErrMultiStep)
}

func TestFromRawJSONShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  interface{}
		want string
	}{
		{name: "not a mapping", doc: []interface{}{}, want: "expected a mapping"},
		{name: "missing steps", doc: map[string]interface{}{}, want: `"steps"`},
		{name: "steps not an array", doc: map[string]interface{}{"steps": "nope"}, want: "expected an array"},
		{name: "no steps", doc: rawDoc(), want: `"steps[0]"`},
		{
			name: "sample missing raw",
			doc: rawDoc(map[string]interface{}{
				"data": []interface{}{map[string]interface{}{"uts": 1.0}},
			}),
			want: `"raw"`,
		},
		{
			name: "quantity missing nominal value",
			doc: rawDoc(map[string]interface{}{
				"data": []interface{}{map[string]interface{}{
					"uts": 1.0,
					"raw": map[string]interface{}{
						"Ewe": map[string]interface{}{"u": "V"},
						"I":   map[string]interface{}{"n": 1.0},
					},
				}},
			}),
			want: `"n"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := FromRawJSON(tt.doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseResults(t *testing.T) {
	doc := rawDoc(rawStep(100, []float64{1, 1, -1}))
	doc["metadata"] = map[string]interface{}{"provenance": "yadg"}

	store, err := ParseResults(doc)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Steps())
	assert.Equal(t, "yadg", store.Metadata["provenance"])

	uts, err := store.Get("step0_uts")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, uts)

	cur, err := store.Get("step0_I_n")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, -1}, cur)

	_, hasUnits := store.Arrays["step0_Ewe_u"]
	assert.False(t, hasUnits, "unit strings are not numeric arrays")
}

func TestParseResultsCleansQuantityNames(t *testing.T) {
	doc := rawDoc(map[string]interface{}{
		"data": []interface{}{map[string]interface{}{
			"uts": 1.0,
			"raw": map[string]interface{}{
				"control-I/V": map[string]interface{}{"n": 0.5},
			},
		}},
	})

	store, err := ParseResults(doc)
	require.NoError(t, err)

	_, err = store.Get("step0_control_I_V_n")
	assert.NoError(t, err)
}

func TestStoreGetMissingNamesArray(t *testing.T) {
	store := &ArrayStore{Arrays: map[string][]float64{}}

	_, err := store.Get("step0_Ewe_n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step0_Ewe_n")
}

func TestColumns(t *testing.T) {
	doc := rawDoc(rawStep(50, []float64{1, -1, 1}))
	store, err := ParseResults(doc)
	require.NoError(t, err)

	ts, V, I, err := FromColumnarStore(store)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2}, ts)
	assert.Equal(t, []float64{3.7, 3.7, 3.7}, V)
	assert.Equal(t, []float64{1, -1, 1}, I)

	orig, _ := store.Get("step0_uts")
	assert.Equal(t, 50.0, orig[0], "normalization must not mutate the store")
}

func TestColumnsMultiStep(t *testing.T) {
	store := &ArrayStore{Arrays: map[string][]float64{
		"step0_uts": {0, 1},
		"step1_uts": {2, 3},
	}}

	_, _, _, err := store.Columns()
	assert.ErrorIs(t, err, ErrMultiStep)
}

func TestLoadSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "valid", data: `{"steps": []}`},
		{name: "not json", data: `steps: []`, wantErr: true},
		{name: "not a mapping", data: `[1, 2, 3]`, wantErr: true},
		{name: "empty mapping", data: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSnapshot([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadSnapshotRoundTrip(t *testing.T) {
	doc := rawDoc(rawStep(0, []float64{1, 1, 1, -1, -1}))
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	loaded, err := LoadSnapshot(data)
	require.NoError(t, err)

	ts, _, I, err := FromRawJSON(loaded)
	require.NoError(t, err)
	assert.Len(t, ts, 5)
	assert.Equal(t, -1.0, I[4])
}

func TestTypeErrorMessage(t *testing.T) {
	err := &TypeError{Field: "snapshot", Want: "a mapping"}
	assert.Equal(t, "snapshot: expected a mapping", err.Error())

	missing := &MissingKeyError{Key: "uts"}
	assert.Equal(t, fmt.Sprintf("missing %q in measurement document", "uts"), missing.Error())
}
