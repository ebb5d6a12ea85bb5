// Package ketchup drives the tomato instrument scheduler through its
// "ketchup" command line tool: building the commands, running them over a
// shell, and parsing their two output formats back into job records.
package ketchup

import "time"

// JobState is the uniform lifecycle state of a scheduler job.
type JobState string

const (
	// StateQueued means the job is waiting and no pipeline has matched it
	// yet. Jobs should not stay here long; a stuck queued job usually
	// means no pipeline can process the payload.
	StateQueued JobState = "queued"
	// StateQueuedMatched means a matching pipeline was found but it is
	// busy, not ready, or holds the wrong sample.
	StateQueuedMatched JobState = "queued-matched"
	// StateRunning means the job is executing on a pipeline.
	StateRunning JobState = "running"
	// StateDone covers completed, completed-with-error and cancelled.
	// Done does not imply success; callers decide from the output files.
	StateDone JobState = "done"
	// StateUndetermined marks a status code this package does not know.
	StateUndetermined JobState = "undetermined"
)

// The status codes ketchup emits:
//
//	q   queued
//	qw  queued, matching pipeline found
//	r   running
//	c   completed successfully
//	ce  completed with an error; output data not guaranteed
//	cd  cancelled; output data available as specified in the payload
var statusStates = map[string]JobState{
	"q":  StateQueued,
	"qw": StateQueuedMatched,
	"r":  StateRunning,
	"c":  StateDone,
	"ce": StateDone,
	"cd": StateDone,
}

var statusAnnotations = map[string]string{
	"q":  "Queued",
	"qw": "Queued, matching pipeline found",
	"r":  "Running",
	"c":  "Completed successfully",
	"ce": "Completed with error",
	"cd": "Cancelled",
}

// JobRecord is the uniform representation of one scheduler job, produced
// from either the tabular queue listing or the per-job record format.
type JobRecord struct {
	ID         string
	Title      string
	State      JobState
	Annotation string
	Pipeline   string

	Submitted *time.Time
	Executed  *time.Time
	Completed *time.Time

	// Raw keeps the unparsed fields for debugging.
	Raw []string
}

// Terminal reports whether the job has left the scheduler for good.
func (r *JobRecord) Terminal() bool {
	return r.State == StateDone
}
