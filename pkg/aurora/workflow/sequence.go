// Package workflow runs multi-step cycling sequences: a variable number of
// technique steps submitted to the scheduler one after another, each polled
// to completion before the next starts.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/ketchup"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/payload"
)

// Step is one named entry of a cycling sequence.
type Step struct {
	Method payload.Sequence
	Tomato payload.TomatoSettings
}

// Submitter covers the scheduler operations a sequence needs. The ketchup
// client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, jobName, payloadFile string) (string, error)
	Status(ctx context.Context, jobIDs ...string) ([]ketchup.JobRecord, error)
}

// PayloadWriter persists a rendered payload and returns the file path the
// submit command should reference.
type PayloadWriter func(stepName string, data []byte) (string, error)

// ResultLoader fetches the parsed results of a finished job, or an error
// when the job produced none.
type ResultLoader func(ctx context.Context, jobID string) (*cycling.ArrayStore, error)

// Sequence is a set of named steps cycled on one battery sample.
type Sequence struct {
	Name   string
	Sample payload.BatterySample
	Steps  map[string]Step

	Submitter    Submitter
	WritePayload PayloadWriter
	LoadResult   ResultLoader

	// PollInterval is the wait between job status checks.
	PollInterval time.Duration
}

// Result is the outcome of one sequence run. Results holds the parsed
// output per step name; steps whose jobs produced no output are absent.
type Result struct {
	JobIDs  map[string]string
	Results map[string]*cycling.ArrayStore
}

// Validate checks the sequence is runnable: collaborators wired, at least
// one step, every step's method valid.
func (s *Sequence) Validate() error {
	if s.Submitter == nil || s.WritePayload == nil || s.LoadResult == nil {
		return fmt.Errorf("sequence %q: submitter, payload writer and result loader are all required", s.Name)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence %q has no steps", s.Name)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("sequence %q: poll interval must be positive", s.Name)
	}
	for name, step := range s.Steps {
		if err := step.Method.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", name, err)
		}
	}
	return nil
}

// Run executes the steps in name order, waiting for each job to finish
// before submitting the next. A step whose job leaves no results is
// skipped in the output with a warning; a submission or polling failure
// aborts the sequence since later steps depend on the cell state the
// failed step should have produced.
func (s *Sequence) Run(ctx context.Context) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.Steps))
	for name := range s.Steps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &Result{
		JobIDs:  make(map[string]string, len(names)),
		Results: make(map[string]*cycling.ArrayStore),
	}

	for _, name := range names {
		jobID, err := s.runStep(ctx, name, s.Steps[name])
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		out.JobIDs[name] = jobID
	}

	// Results are gathered after the whole sequence so one output-less
	// step does not hide the data of those that follow it.
	for _, name := range names {
		store, err := s.LoadResult(ctx, out.JobIDs[name])
		if err != nil {
			klog.InfoS("Step left no results; skipping",
				"sequence", s.Name, "step", name, "jobID", out.JobIDs[name], "reason", err)
			continue
		}
		out.Results[name] = store
	}
	return out, nil
}

func (s *Sequence) runStep(ctx context.Context, name string, step Step) (string, error) {
	p := &payload.Payload{Sample: s.Sample, Method: step.Method, Tomato: step.Tomato}
	data, err := p.Render()
	if err != nil {
		return "", err
	}

	file, err := s.WritePayload(name, data)
	if err != nil {
		return "", fmt.Errorf("writing payload: %w", err)
	}

	jobName := fmt.Sprintf("%s-%s", s.Name, name)
	jobID, err := s.Submitter.Submit(ctx, jobName, file)
	if err != nil {
		return "", err
	}

	klog.InfoS("Launched cycling step", "sequence", s.Name, "step", name, "jobID", jobID)

	if err := s.waitForJob(ctx, jobID); err != nil {
		return "", err
	}
	return jobID, nil
}

// waitForJob polls the scheduler until the job reaches a terminal state.
// Transient status failures are logged and retried on the next tick.
func (s *Sequence) waitForJob(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		records, err := s.Submitter.Status(ctx, jobID)
		if err != nil {
			klog.ErrorS(err, "Status query failed; will retry", "jobID", jobID)
		} else if rec := findJob(records, jobID); rec == nil {
			klog.V(2).InfoS("Job not listed yet", "jobID", jobID)
		} else if rec.Terminal() {
			klog.V(1).InfoS("Job finished", "jobID", jobID, "annotation", rec.Annotation)
			return nil
		} else {
			klog.V(2).InfoS("Job still active", "jobID", jobID, "state", rec.State)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func findJob(records []ketchup.JobRecord, jobID string) *ketchup.JobRecord {
	for i := range records {
		if records[i].ID == jobID {
			return &records[i]
		}
	}
	return nil
}
