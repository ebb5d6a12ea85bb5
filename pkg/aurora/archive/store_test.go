package archive

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "aurora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobUpsert(t *testing.T) {
	store := openTestStore(t)

	submitted := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertJob(JobEntry{
		JobID:     "12",
		Title:     "cycling-run-1",
		State:     "running",
		Pipeline:  "pip-cycler-01",
		Submitted: &submitted,
	}))

	entry, err := store.GetJob("12")
	require.NoError(t, err)
	assert.Equal(t, "running", entry.State)
	assert.Equal(t, "pip-cycler-01", entry.Pipeline)
	require.NotNil(t, entry.Submitted)
	assert.True(t, entry.Submitted.Equal(submitted))
	assert.Nil(t, entry.Completed)

	// A later state update replaces the old one in place.
	completed := submitted.Add(6 * time.Hour)
	require.NoError(t, store.UpsertJob(JobEntry{
		JobID:     "12",
		Title:     "cycling-run-1",
		State:     "done",
		Pipeline:  "pip-cycler-01",
		Completed: &completed,
	}))

	entry, err = store.GetJob("12")
	require.NoError(t, err)
	assert.Equal(t, "done", entry.State)
	require.NotNil(t, entry.Completed)
}

func TestGetJobMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetJob("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPollHistory(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordPoll(PollEntry{
			JobID:     "12",
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
			Cycles:    i + 2,
			Capacity:  100 - float64(i),
			Retention: 1 - float64(i)/100,
			Action:    "continue",
			Report:    "cycle report",
		}))
	}

	polls, err := store.GetPolls("12")
	require.NoError(t, err)
	require.Len(t, polls, 3)
	assert.Equal(t, 2, polls[0].Cycles)
	assert.Equal(t, 4, polls[2].Cycles)
	assert.True(t, polls[0].Timestamp.Before(polls[1].Timestamp))

	other, err := store.GetPolls("99")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCleanup(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordPoll(PollEntry{
		JobID:     "12",
		Timestamp: time.Now(),
		Action:    "continue",
	}))

	// A negative retention puts the cutoff in the future, removing
	// everything written so far.
	require.NoError(t, store.Cleanup(-time.Minute))

	polls, err := store.GetPolls("12")
	require.NoError(t, err)
	assert.Empty(t, polls)
}
