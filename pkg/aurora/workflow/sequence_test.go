package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/ketchup"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/payload"
)

// stubScheduler pretends every submitted job completes after one status
// query.
type stubScheduler struct {
	nextID    int
	submitted []string
	statusErr error
}

func (s *stubScheduler) Submit(_ context.Context, jobName, payloadFile string) (string, error) {
	s.nextID++
	s.submitted = append(s.submitted, jobName)
	return fmt.Sprintf("%d", s.nextID), nil
}

func (s *stubScheduler) Status(_ context.Context, jobIDs ...string) ([]ketchup.JobRecord, error) {
	if s.statusErr != nil {
		err := s.statusErr
		s.statusErr = nil
		return nil, err
	}
	records := make([]ketchup.JobRecord, len(jobIDs))
	for i, id := range jobIDs {
		records[i] = ketchup.JobRecord{ID: id, State: ketchup.StateDone}
	}
	return records, nil
}

func testStep() Step {
	return Step{
		Method: payload.Sequence{
			Method: []payload.Technique{
				payload.OpenCircuitVoltage{Time: 300, RecordEveryDt: 30},
			},
		},
	}
}

func testSequence(sched Submitter) *Sequence {
	return &Sequence{
		Name: "stress-test",
		Sample: payload.BatterySample{
			Name:        "1234-commercial-2",
			Composition: payload.Composition{Description: "LNO|LP57|graphite"},
			Capacity:    payload.Capacity{Nominal: 4.8, Units: "mAh"},
		},
		Steps: map[string]Step{
			"01-formation": testStep(),
			"02-cycling":   testStep(),
		},
		Submitter: sched,
		WritePayload: func(stepName string, data []byte) (string, error) {
			return stepName + ".yaml", nil
		},
		LoadResult: func(_ context.Context, jobID string) (*cycling.ArrayStore, error) {
			return &cycling.ArrayStore{Arrays: map[string][]float64{"step0_uts": {0, 1}}}, nil
		},
		PollInterval: time.Millisecond,
	}
}

func TestSequenceValidate(t *testing.T) {
	sched := &stubScheduler{}

	seq := testSequence(sched)
	assert.NoError(t, seq.Validate())

	seq = testSequence(sched)
	seq.Steps = nil
	assert.Error(t, seq.Validate())

	seq = testSequence(sched)
	seq.Submitter = nil
	assert.Error(t, seq.Validate())

	seq = testSequence(sched)
	seq.PollInterval = 0
	assert.Error(t, seq.Validate())

	seq = testSequence(sched)
	seq.Steps["03-bad"] = Step{Method: payload.Sequence{}}
	assert.Error(t, seq.Validate(), "every step method must validate")
}

func TestSequenceRunsStepsInOrder(t *testing.T) {
	sched := &stubScheduler{}
	seq := testSequence(sched)

	result, err := seq.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"stress-test-01-formation", "stress-test-02-cycling"}, sched.submitted)
	assert.Equal(t, map[string]string{"01-formation": "1", "02-cycling": "2"}, result.JobIDs)
	assert.Len(t, result.Results, 2)
}

func TestSequenceSkipsMissingResults(t *testing.T) {
	sched := &stubScheduler{}
	seq := testSequence(sched)
	seq.LoadResult = func(_ context.Context, jobID string) (*cycling.ArrayStore, error) {
		if jobID == "1" {
			return nil, errors.New("no results produced")
		}
		return &cycling.ArrayStore{}, nil
	}

	result, err := seq.Run(context.Background())
	require.NoError(t, err, "a step without results is skipped, not fatal")

	assert.NotContains(t, result.Results, "01-formation")
	assert.Contains(t, result.Results, "02-cycling")
}

func TestSequenceRetriesStatusFailures(t *testing.T) {
	sched := &stubScheduler{statusErr: errors.New("connection reset")}
	seq := testSequence(sched)

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.JobIDs, 2)
}

func TestSequenceAbortsOnInvalidPayload(t *testing.T) {
	sched := &stubScheduler{}
	seq := testSequence(sched)
	seq.Sample.Capacity.Units = "Wh"

	_, err := seq.Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, sched.submitted)
}

func TestSequenceHonorsContext(t *testing.T) {
	sched := &stubScheduler{}
	seq := testSequence(sched)
	seq.Submitter = neverDone{sched}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := seq.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// neverDone reports every job as still running.
type neverDone struct {
	*stubScheduler
}

func (n neverDone) Status(_ context.Context, jobIDs ...string) ([]ketchup.JobRecord, error) {
	records := make([]ketchup.JobRecord, len(jobIDs))
	for i, id := range jobIDs {
		records[i] = ketchup.JobRecord{ID: id, State: ketchup.StateRunning}
	}
	return records, nil
}
