package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/analyzer"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/archive"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/clock"
)

// snapshotWithDischarges builds a snapshot whose cycles discharge at the
// given current magnitudes, so capacity retention follows the magnitudes.
func snapshotWithDischarges(t *testing.T, magnitudes []float64) []byte {
	t.Helper()

	var samples []interface{}
	uts := 0.0
	appendRun := func(current float64) {
		for i := 0; i < 12; i++ {
			samples = append(samples, map[string]interface{}{
				"uts": uts,
				"raw": map[string]interface{}{
					"Ewe": map[string]interface{}{"n": 3.7},
					"I":   map[string]interface{}{"n": current},
				},
			})
			uts++
		}
	}
	for _, mag := range magnitudes {
		appendRun(1.0)
		appendRun(-mag)
	}

	data, err := json.Marshal(map[string]interface{}{
		"steps": []interface{}{map[string]interface{}{"data": samples}},
	})
	require.NoError(t, err)
	return data
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeKiller struct {
	killed []string
	err    error
}

func (k *fakeKiller) Kill(_ context.Context, jobID string) error {
	if k.err != nil {
		return k.err
	}
	k.killed = append(k.killed, jobID)
	return nil
}

func newTestMonitor(t *testing.T, fetcher SnapshotFetcher, killer Killer) *Monitor {
	t.Helper()

	a, err := analyzer.NewCapacityAnalyzer(analyzer.Settings{
		Threshold:         0.8,
		ConsecutiveCycles: 2,
		KeepLast:          5,
	})
	require.NoError(t, err)

	m, err := New(Options{
		JobID:    "12",
		Interval: time.Minute,
		Fetcher:  fetcher,
		Analyzer: a,
		Killer:   killer,
		Clock:    clock.NewMockClock(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	a, err := analyzer.NewCapacityAnalyzer(analyzer.Settings{})
	require.NoError(t, err)

	valid := Options{
		JobID: "1", Interval: time.Minute,
		Fetcher: &fakeFetcher{}, Analyzer: a, Killer: &fakeKiller{},
	}

	_, err = New(valid)
	assert.NoError(t, err)

	for _, mutate := range []func(*Options){
		func(o *Options) { o.JobID = "" },
		func(o *Options) { o.Interval = 0 },
		func(o *Options) { o.Fetcher = nil },
		func(o *Options) { o.Analyzer = nil },
		func(o *Options) { o.Killer = nil },
	} {
		opts := valid
		mutate(&opts)
		_, err := New(opts)
		assert.Error(t, err)
	}
}

func TestPollContinuesOnHealthyData(t *testing.T) {
	killer := &fakeKiller{}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 1})}
	m := newTestMonitor(t, fetcher, killer)

	done := m.Poll(context.Background())

	assert.False(t, done)
	assert.Empty(t, killer.killed)

	state := m.State()
	assert.Contains(t, state.Status, "cycle #3")
	assert.NotNil(t, state.Retained)
	assert.False(t, state.Finished)
	assert.Empty(t, state.Flag)
}

func TestPollTerminatesDegradedJob(t *testing.T) {
	killer := &fakeKiller{}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 0.7, 0.7, 0.7})}
	m := newTestMonitor(t, fetcher, killer)

	done := m.Poll(context.Background())

	assert.True(t, done)
	assert.Equal(t, []string{"12"}, killer.killed)

	state := m.State()
	assert.True(t, state.Finished)
	assert.Equal(t, "🍅🔴", state.Flag)
	assert.Contains(t, state.Status, "consecutive cycles")
}

func TestPollRecoveredDipOnlyFlags(t *testing.T) {
	killer := &fakeKiller{}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 0.7, 0.7, 1})}
	m := newTestMonitor(t, fetcher, killer)

	done := m.Poll(context.Background())

	assert.False(t, done)
	assert.Empty(t, killer.killed)
	assert.Equal(t, "🍅🟡", m.State().Flag)
}

func TestPollSwallowsTransientErrors(t *testing.T) {
	killer := &fakeKiller{}

	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{name: "not yet produced", fetcher: &fakeFetcher{err: ErrNotProduced}},
		{name: "fetch failure", fetcher: &fakeFetcher{err: errors.New("connection reset")}},
		{name: "malformed snapshot", fetcher: &fakeFetcher{data: []byte("{{{")}},
		{name: "empty snapshot", fetcher: &fakeFetcher{data: []byte("{}")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(t, tt.fetcher, killer)

			assert.False(t, m.Poll(context.Background()))
			assert.Empty(t, killer.killed)
			assert.False(t, m.State().Finished)
		})
	}
}

func TestPollMarkedForDeath(t *testing.T) {
	killer := &fakeKiller{}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 1})}
	m := newTestMonitor(t, fetcher, killer)

	m.MarkForDeath()
	done := m.Poll(context.Background())

	assert.True(t, done)
	assert.Equal(t, []string{"12"}, killer.killed)

	state := m.State()
	assert.Equal(t, "☠️", state.Flag)
	assert.Nil(t, state.Retained, "retained data is dropped on user termination")
	assert.Equal(t, "Job terminated by monitor per user request", state.Status)
}

func TestPollRetriesFailedKill(t *testing.T) {
	killer := &fakeKiller{err: errors.New("daemon unreachable")}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 0.7, 0.7, 0.7})}
	m := newTestMonitor(t, fetcher, killer)

	done := m.Poll(context.Background())
	assert.False(t, done, "a failed kill keeps the monitor alive")
	assert.False(t, m.State().Finished)

	killer.err = nil
	done = m.Poll(context.Background())
	assert.True(t, done)
	assert.Equal(t, []string{"12"}, killer.killed)
}

func TestPollRecordsToArchive(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "aurora.db"))
	require.NoError(t, err)
	defer store.Close()

	a, err := analyzer.NewCapacityAnalyzer(analyzer.Settings{})
	require.NoError(t, err)

	m, err := New(Options{
		JobID:    "12",
		Interval: time.Minute,
		Fetcher:  &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 1})},
		Analyzer: a,
		Killer:   &fakeKiller{},
		Archive:  store,
	})
	require.NoError(t, err)

	require.False(t, m.Poll(context.Background()))

	polls, err := store.GetPolls("12")
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, "continue", polls[0].Action)
	assert.Equal(t, 3, polls[0].Cycles)
	assert.InDelta(t, 1.0, polls[0].Retention, 1e-9)
}

func TestRunStops(t *testing.T) {
	m := newTestMonitor(t, &fakeFetcher{err: ErrNotProduced}, &fakeKiller{})

	go m.Run(context.Background())
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	assert.False(t, m.State().Finished)
}

func TestFileFetcher(t *testing.T) {
	root := t.TempDir()
	fetcher := FileFetcher{Root: root, Filename: "snapshot.json"}

	_, err := fetcher.Fetch(context.Background(), "12")
	assert.ErrorIs(t, err, ErrNotProduced)

	jobDir := filepath.Join(root, "12")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "snapshot.json"), []byte(`{"steps": []}`), 0o644))

	data, err := fetcher.Fetch(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, `{"steps": []}`, string(data))
}

func TestRunTerminatesAndReturns(t *testing.T) {
	killer := &fakeKiller{}
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 0.7, 0.7, 0.7})}
	m := newTestMonitor(t, fetcher, killer)

	doneCh := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after terminating the job")
	}
	assert.Equal(t, []string{"12"}, killer.killed)
}

func TestStateIsACopy(t *testing.T) {
	fetcher := &fakeFetcher{data: snapshotWithDischarges(t, []float64{1, 1, 1})}
	m := newTestMonitor(t, fetcher, &fakeKiller{})
	require.False(t, m.Poll(context.Background()))

	state := m.State()
	state.Status = fmt.Sprintf("mutated %s", state.Status)
	assert.NotEqual(t, state.Status, m.State().Status)
}
