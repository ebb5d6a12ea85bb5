// Package monitor polls running cycling jobs, evaluates their snapshots
// against the capacity stop condition and cancels jobs that degraded.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/analyzer"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/archive"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/clock"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
)

// ErrNotProduced signals that the snapshot file does not exist yet. Early
// in a run this is expected, not a failure.
var ErrNotProduced = errors.New("snapshot not yet produced")

// SnapshotFetcher retrieves the latest snapshot bytes for a job. Fetching
// is the only I/O the monitor performs; analysis itself is pure.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, jobID string) ([]byte, error)
}

// FileFetcher reads snapshots from per-job working directories under Root,
// the layout tomato uses on the instrument host.
type FileFetcher struct {
	// Root holds one directory per job id.
	Root string
	// Filename is the snapshot file inside each job directory.
	Filename string
}

func (f FileFetcher) Fetch(_ context.Context, jobID string) ([]byte, error) {
	path := filepath.Join(f.Root, jobID, f.Filename)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotProduced
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Killer cancels a scheduler job. *ketchup.Client satisfies this.
type Killer interface {
	Kill(ctx context.Context, jobID string) error
}

// State is the persisted per-job monitoring state carried between polls.
type State struct {
	Status   string
	Flag     string
	Report   string
	Retained *cycling.CycleSeries
	Finished bool
}

// Options configures one job monitor.
type Options struct {
	JobID    string
	Interval time.Duration

	Fetcher  SnapshotFetcher
	Analyzer *analyzer.CapacityAnalyzer
	Killer   Killer

	// Archive is optional; when set, every evaluation is recorded.
	Archive *archive.Store
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Monitor owns the polling loop of one job. Each monitored job gets its own
// instance and goroutine; instances share nothing, so concurrent jobs are
// isolated by construction.
type Monitor struct {
	opts  Options
	clock clock.Clock

	mu             sync.Mutex
	state          State
	markedForDeath bool

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New validates the options and builds a monitor.
func New(opts Options) (*Monitor, error) {
	if opts.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if opts.Fetcher == nil || opts.Analyzer == nil || opts.Killer == nil {
		return nil, fmt.Errorf("fetcher, analyzer and killer are all required")
	}
	c := opts.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	return &Monitor{
		opts:   opts,
		clock:  c,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run polls until the job is terminated, Stop is called or the context is
// cancelled. It is meant to run on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	klog.V(2).InfoS("Monitoring job", "jobID", m.opts.JobID, "interval", m.opts.Interval)

	for {
		if done := m.Poll(ctx); done {
			return
		}
		select {
		case <-ticker.C:
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// MarkForDeath requests termination on the next poll regardless of the
// capacity condition.
func (m *Monitor) MarkForDeath() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markedForDeath = true
}

// State returns a copy of the current monitoring state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Poll runs one evaluation. The return value reports whether monitoring is
// finished because the job was terminated. Transient fetch errors and
// structural snapshot errors are logged and swallowed; a single failed poll
// must never abort monitoring.
func (m *Monitor) Poll(ctx context.Context) bool {
	jobID := m.opts.JobID

	data, err := m.opts.Fetcher.Fetch(ctx, jobID)
	if errors.Is(err, ErrNotProduced) {
		klog.V(2).InfoS("Snapshot not yet produced; continue", "jobID", jobID)
		pollsTotal.WithLabelValues("pending").Inc()
		return false
	}
	if err != nil {
		klog.ErrorS(err, "Failed to fetch snapshot; continue", "jobID", jobID)
		pollsTotal.WithLabelValues("error").Inc()
		return false
	}

	snapshot, err := cycling.LoadSnapshot(data)
	if err != nil {
		klog.ErrorS(err, "Malformed snapshot; continue", "jobID", jobID)
		pollsTotal.WithLabelValues("error").Inc()
		return false
	}

	verdict, retained, err := m.opts.Analyzer.Analyze(snapshot)
	if err != nil {
		klog.ErrorS(err, "Snapshot analysis failed; continue", "jobID", jobID)
		pollsTotal.WithLabelValues("error").Inc()
		return false
	}

	klog.V(1).InfoS("Evaluated job snapshot",
		"jobID", jobID, "action", verdict.Action, "report", verdict.Report)

	m.mu.Lock()
	m.state.Status = verdict.Status
	m.state.Report = verdict.Report
	m.state.Retained = retained
	if verdict.Flag != "" {
		m.state.Flag = "🍅" + verdict.Flag
	}
	marked := m.markedForDeath
	m.mu.Unlock()

	jobCycles.WithLabelValues(jobID).Set(float64(verdict.Cycles))
	jobCapacityRetention.WithLabelValues(jobID).Set(verdict.Retention)
	m.recordPoll(verdict)

	if marked {
		m.mu.Lock()
		m.state.Flag = "☠️"
		m.state.Retained = nil
		m.mu.Unlock()
		return m.terminate(ctx, "user", "Job terminated by monitor per user request")
	}

	if verdict.Action == analyzer.ActionTerminate {
		return m.terminate(ctx, "capacity", verdict.Reason)
	}

	pollsTotal.WithLabelValues(verdict.Action.String()).Inc()
	return false
}

// terminate cancels the job. A failed kill leaves the monitor running so
// the cancellation is retried on the next poll.
func (m *Monitor) terminate(ctx context.Context, cause, reason string) bool {
	jobID := m.opts.JobID

	klog.InfoS("Terminating job", "jobID", jobID, "cause", cause, "reason", reason)

	if err := m.opts.Killer.Kill(ctx, jobID); err != nil {
		klog.ErrorS(err, "Failed to cancel job; will retry", "jobID", jobID)
		pollsTotal.WithLabelValues("error").Inc()
		return false
	}

	terminationsTotal.WithLabelValues(cause).Inc()
	pollsTotal.WithLabelValues("terminate").Inc()

	m.mu.Lock()
	m.state.Finished = true
	m.state.Status = reason
	m.mu.Unlock()
	return true
}

func (m *Monitor) recordPoll(v analyzer.Verdict) {
	if m.opts.Archive == nil {
		return
	}

	var capacity float64
	m.mu.Lock()
	if s := m.state.Retained; s != nil && len(s.Qd) > 0 {
		capacity = s.Qd[len(s.Qd)-1]
	}
	m.mu.Unlock()

	entry := archive.PollEntry{
		JobID:     m.opts.JobID,
		Timestamp: m.clock.Now(),
		Cycles:    v.Cycles,
		Capacity:  capacity,
		Retention: v.Retention,
		Action:    v.Action.String(),
		Report:    v.Report,
	}
	if err := m.opts.Archive.RecordPoll(entry); err != nil {
		klog.ErrorS(err, "Failed to archive poll", "jobID", m.opts.JobID)
	}
}
