package cycling

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// JobArtifacts bundles everything a finished or killed job left behind that
// an analysis can work from. Fields are filled in best effort; Analyze picks
// the richest source available.
type JobArtifacts struct {
	JobID  string
	Label  string
	Sample string

	// ExitStatus is nil while the job is still running.
	ExitStatus  *int
	ExitMessage string

	// Results is the parsed columnar store, present after a clean run.
	Results *ArrayStore
	// RawJSON is the retrieved results.json content, present when the job
	// produced output but parsing was skipped or failed upstream.
	RawJSON []byte
	// Snapshot is the last snapshot fetched from the instrument, the only
	// source left when a job was killed mid-run.
	Snapshot []byte
}

// MonitorDetails describes the monitor attached to a job, for the report.
type MonitorDetails struct {
	Label      string
	Interval   int // seconds
	SourceFile string
	Settings   map[string]interface{}
	CheckType  string
}

// Analyze post-processes a cycling experiment for plotting and reporting.
// The returned report always carries the job header; the series is nil when
// no output could be found or parsed, with the failure noted in the report.
func Analyze(art *JobArtifacts, monitors []MonitorDetails) (*CycleSeries, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:       <%s> %q\n", art.JobID, art.Label)
	fmt.Fprintf(&b, "Sample:    %s\n", art.Sample)

	b.WriteString("Monitored: ")
	if len(monitors) == 0 {
		b.WriteString("false\n")
	} else {
		b.WriteString("true\n")
		for _, m := range monitors {
			b.WriteString(m.describe())
		}
	}

	if art.ExitStatus != nil && *art.ExitStatus != 0 {
		msg := art.ExitMessage
		if msg == "" {
			msg = "job killed by monitor"
		}
		fmt.Fprintf(&b, "\nWARNING: %s\n", msg)
	}

	series, err := extractSeries(art)
	if err != nil {
		fmt.Fprintf(&b, "\nERROR: failed to find or parse output: %v\n", err)
		return nil, b.String()
	}

	fmt.Fprintf(&b, "\nSamples:   %d\n", len(series.Time))
	fmt.Fprintf(&b, "Cycles:    %d\n", series.Cycles())
	return series, b.String()
}

// extractSeries tries output sources from richest to poorest: the parsed
// columnar results, then the retrieved results file, then the snapshot.
func extractSeries(art *JobArtifacts) (*CycleSeries, error) {
	var (
		t, V, I []float64
		err     error
	)
	switch {
	case art.Results != nil:
		t, V, I, err = art.Results.Columns()
	case art.RawJSON != nil:
		var doc map[string]interface{}
		if doc, err = LoadSnapshot(art.RawJSON); err == nil {
			t, V, I, err = FromRawJSON(doc)
		}
	case art.Snapshot != nil:
		var doc map[string]interface{}
		if doc, err = LoadSnapshot(art.Snapshot); err == nil {
			t, V, I, err = FromRawJSON(doc)
		}
	default:
		err = fmt.Errorf("no output source available")
	}
	if err != nil {
		return nil, err
	}
	return Segment(t, V, I)
}

func (m MonitorDetails) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nMonitor:              %s\n", m.Label)
	interval := m.Interval
	if interval == 0 {
		interval = 600
	}
	fmt.Fprintf(&b, "  Interval (s):       %d\n", interval)
	source := m.SourceFile
	if source == "" {
		source = "snapshot.json"
	}
	fmt.Fprintf(&b, "  Source file:        %s\n", source)
	check := m.CheckType
	if check == "" {
		check = string(CheckDischargeCapacity)
	}
	fmt.Fprintf(&b, "  Check type:         %s\n", check)
	keys := make([]string, 0, len(m.Settings))
	for key := range m.Settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "  %-19s %v\n", sentenceCase(key)+":", m.Settings[key])
	}
	return b.String()
}

// sentenceCase turns a snake_case settings key into a report label, e.g.
// "consecutive_cycles" into "Consecutive cycles".
func sentenceCase(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
