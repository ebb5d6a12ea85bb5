package ketchup

import (
	"fmt"
	"regexp"
	"strings"
)

// ShellType selects the remote shell a submission script runs under. Tomato
// instruments are frequently driven from Windows hosts, so powershell is a
// first-class target.
type ShellType string

const (
	ShellBash       ShellType = "bash"
	ShellPowershell ShellType = "powershell"
)

// Valid reports whether the shell type is one this package can target.
func (s ShellType) Valid() bool {
	return s == ShellBash || s == ShellPowershell
}

var jobTitleInvalid = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

const maxJobTitleLen = 128

// SanitizeJobTitle reduces a free-form job name to something the scheduler
// accepts: letters, digits, dots, dashes and underscores, starting with an
// alphanumeric character, at most 128 characters.
func SanitizeJobTitle(name string) string {
	title := jobTitleInvalid.ReplaceAllString(name, "")
	if title == "" || !isAlnum(title[0]) {
		title = "j" + title
	}
	if len(title) > maxJobTitleLen {
		title = title[:maxJobTitleLen]
	}
	return title
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// CommandBuilder constructs the ketchup command lines for one submission
// target. The shell is a per-builder value passed along with each job, so
// concurrent jobs can target different remote shells.
type CommandBuilder struct {
	// Executable is the ketchup binary name or path, "ketchup" if empty.
	Executable string
	// Shell is the remote shell submission scripts run under.
	Shell ShellType
}

func (b CommandBuilder) executable() string {
	if b.Executable == "" {
		return "ketchup"
	}
	return b.Executable
}

// QueueCommand returns the command listing every job known to the scheduler.
func (b CommandBuilder) QueueCommand() string {
	return fmt.Sprintf("%s status queue -v", b.executable())
}

// StatusCommand returns the command querying one or more specific jobs.
func (b CommandBuilder) StatusCommand(jobIDs ...string) string {
	if len(jobIDs) == 0 {
		return b.QueueCommand()
	}
	return fmt.Sprintf("%s status %s", b.executable(), strings.Join(jobIDs, " "))
}

// SubmitCommand returns the command submitting a payload file. The job title
// is taken from the $JOB_TITLE variable set by SubmitScriptHeader so the
// run line itself stays shell-agnostic.
func (b CommandBuilder) SubmitCommand(payloadFile string) string {
	return fmt.Sprintf("%s submit --jobname $JOB_TITLE %s", b.executable(), payloadFile)
}

// KillCommand returns the command cancelling a job.
func (b CommandBuilder) KillCommand(jobID string) string {
	return fmt.Sprintf("%s cancel %s", b.executable(), jobID)
}

// SubmitScriptHeader returns the variable-assignment header of a submission
// script, in the syntax of the configured shell.
func (b CommandBuilder) SubmitScriptHeader(jobName string) (string, error) {
	if !b.Shell.Valid() {
		return "", fmt.Errorf("unsupported shell type %q", b.Shell)
	}
	if jobName == "" {
		return "", nil
	}
	title := SanitizeJobTitle(jobName)
	if b.Shell == ShellPowershell {
		return fmt.Sprintf("$JOB_TITLE='%s'", title), nil
	}
	return fmt.Sprintf("JOB_TITLE='%s'", title), nil
}
