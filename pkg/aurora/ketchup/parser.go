package ketchup

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// SchedulerError reports a protocol violation by the ketchup tool: a
// non-zero exit code, a missing job id, or a malformed report. The specific
// operation is aborted since no safe default exists.
type SchedulerError struct {
	Op     string
	Retval int
	Stdout string
	Stderr string
	Msg    string
}

func (e *SchedulerError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("ketchup %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("ketchup %s: exit code %d; stdout=%q stderr=%q",
		e.Op, e.Retval, strings.TrimSpace(e.Stdout), strings.TrimSpace(e.Stderr))
}

// ParseStatusOutput parses the output of a status or queue query. Ketchup
// emits two incompatible shapes depending on query form: a fixed-width
// table with a header separator line of '=' characters for the full queue,
// and a YAML list of per-job records for specific jobs. The separator line
// is the explicit discriminator between the two.
func ParseStatusOutput(retval int, stdout, stderr string) ([]JobRecord, error) {
	if retval != 0 {
		return nil, &SchedulerError{Op: "status", Retval: retval, Stdout: stdout, Stderr: stderr}
	}
	if s := strings.TrimSpace(stderr); s != "" {
		klog.V(2).InfoS("ketchup status succeeded with non-empty stderr", "stderr", s)
	}

	// Empty lines and ERROR chatter are interleaved with the report.
	var lines []string
	for _, l := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(l) == "" || strings.Contains(l, "ERROR") {
			continue
		}
		lines = append(lines, l)
	}
	text := strings.Join(lines, "\n")

	if hasSeparatorLine(lines) {
		return ParseQueueListing(text)
	}
	return ParseJobRecords(text)
}

func hasSeparatorLine(lines []string) bool {
	for _, l := range lines {
		if isSeparatorLine(l) {
			return true
		}
	}
	return false
}

// isSeparatorLine matches the table header underline, a run of '=' possibly
// split per column by spaces.
func isSeparatorLine(line string) bool {
	seen := false
	for _, r := range line {
		switch r {
		case '=':
			seen = true
		case ' ', '\t':
		default:
			return false
		}
	}
	return seen
}

// ParseQueueListing parses the tabular queue report. Each data row carries
// three or four whitespace-separated fields: id, title, status code and an
// optional pipeline. More than four fields is a hard parse error.
func ParseQueueListing(text string) ([]JobRecord, error) {
	lines := strings.Split(text, "\n")

	// Skip the header block: everything up to and including the separator.
	start := 0
	for i, l := range lines {
		if isSeparatorLine(l) {
			start = i + 1
			break
		}
	}

	var records []JobRecord
	for _, line := range lines[start:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 || len(fields) > 4 {
			return nil, &SchedulerError{
				Op:  "status",
				Msg: fmt.Sprintf("queue row has %d columns, want 3 or 4: %q", len(fields), line),
			}
		}

		rec := JobRecord{
			ID:    fields[0],
			Title: fields[1],
			Raw:   fields,
		}
		rec.State, rec.Annotation = mapStatus(fields[2], rec.ID)
		if len(fields) == 4 {
			rec.Pipeline = fields[3]
		}
		records = append(records, rec)
	}
	return records, nil
}

type yamlJobRecord struct {
	JobID     interface{} `yaml:"jobid"`
	JobName   string      `yaml:"jobname"`
	Status    string      `yaml:"status"`
	Submitted string      `yaml:"submitted"`
	Executed  string      `yaml:"executed"`
	Completed string      `yaml:"completed"`
	Pipeline  string      `yaml:"pipeline"`
	PID       int         `yaml:"pid"`
}

// ParseJobRecords parses the per-job YAML record format emitted by
// "ketchup status <jobid>...".
func ParseJobRecords(text string) ([]JobRecord, error) {
	var raw []yamlJobRecord
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SchedulerError{Op: "status", Msg: fmt.Sprintf("cannot parse job records: %v", err)}
	}

	records := make([]JobRecord, 0, len(raw))
	for _, r := range raw {
		rec := JobRecord{
			ID:       fmt.Sprintf("%v", r.JobID),
			Title:    r.JobName,
			Pipeline: r.Pipeline,
		}
		rec.State, rec.Annotation = mapStatus(r.Status, rec.ID)
		rec.Submitted = parseTimestamp(r.Submitted)
		rec.Executed = parseTimestamp(r.Executed)
		rec.Completed = parseTimestamp(r.Completed)
		records = append(records, rec)
	}
	return records, nil
}

// mapStatus maps a raw ketchup status code to a lifecycle state. The
// mapping is total: unknown codes become StateUndetermined with a warning,
// never a silent default and never an error.
func mapStatus(code, jobID string) (JobState, string) {
	state, ok := statusStates[code]
	if !ok {
		klog.InfoS("Unrecognized job status code", "code", code, "jobID", jobID)
		return StateUndetermined, ""
	}
	return state, statusAnnotations[code]
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	klog.V(2).InfoS("Unparseable job timestamp", "value", s)
	return nil
}

// ParseSubmitOutput extracts the job id from the submission command output,
// a YAML document with a "jobid" field.
func ParseSubmitOutput(retval int, stdout, stderr string) (string, error) {
	if retval != 0 {
		return "", &SchedulerError{Op: "submit", Retval: retval, Stdout: stdout, Stderr: stderr}
	}
	if s := strings.TrimSpace(stderr); s != "" {
		klog.V(2).InfoS("ketchup submit succeeded with non-empty stderr", "stderr", s)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(stdout), &doc); err != nil {
		return "", &SchedulerError{Op: "submit", Msg: fmt.Sprintf("cannot parse submit output: %v", err)}
	}
	id, ok := doc["jobid"]
	if !ok {
		return "", &SchedulerError{Op: "submit", Msg: fmt.Sprintf("no jobid in output %q", strings.TrimSpace(stdout))}
	}
	return fmt.Sprintf("%v", id), nil
}

// ParseKillOutput reports whether a cancel command succeeded. Success is
// exit code 0; any text on stdout or stderr of a successful kill is only a
// warning.
func ParseKillOutput(retval int, stdout, stderr string) bool {
	if retval != 0 {
		klog.ErrorS(nil, "ketchup cancel failed", "retval", retval, "stdout", stdout, "stderr", stderr)
		return false
	}
	if s := strings.TrimSpace(stderr); s != "" {
		klog.V(2).InfoS("ketchup cancel succeeded with non-empty stderr", "stderr", s)
	}
	if s := strings.TrimSpace(stdout); s != "" {
		klog.V(2).InfoS("ketchup cancel succeeded with non-empty stdout", "stdout", s)
	}
	return true
}
