package ketchup

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Client ties the command builder, a runner and the parsers together into
// the scheduler operations the rest of the system uses.
type Client struct {
	commands CommandBuilder
	runner   Runner
}

// NewClient builds a client for one submission target. The builder's shell
// travels with the client, so clients for different remote shells coexist.
func NewClient(commands CommandBuilder, runner Runner) (*Client, error) {
	if !commands.Shell.Valid() {
		return nil, fmt.Errorf("unsupported shell type %q", commands.Shell)
	}
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}
	return &Client{commands: commands, runner: runner}, nil
}

// Submit sends a payload file to the scheduler and returns the assigned
// job id.
func (c *Client) Submit(ctx context.Context, jobName, payloadFile string) (string, error) {
	header, err := c.commands.SubmitScriptHeader(jobName)
	if err != nil {
		return "", err
	}
	script := c.commands.SubmitCommand(payloadFile)
	if header != "" {
		script = header + "\n" + script
	}

	res, err := c.runner.Run(ctx, script)
	if err != nil {
		return "", err
	}
	id, err := ParseSubmitOutput(res.Retval, res.Stdout, res.Stderr)
	if err != nil {
		return "", err
	}

	klog.V(2).InfoS("Submitted job", "jobID", id, "jobName", jobName, "payload", payloadFile)
	return id, nil
}

// Queue lists every job known to the scheduler.
func (c *Client) Queue(ctx context.Context) ([]JobRecord, error) {
	res, err := c.runner.Run(ctx, c.commands.QueueCommand())
	if err != nil {
		return nil, err
	}
	return ParseStatusOutput(res.Retval, res.Stdout, res.Stderr)
}

// Status queries specific jobs by id.
func (c *Client) Status(ctx context.Context, jobIDs ...string) ([]JobRecord, error) {
	res, err := c.runner.Run(ctx, c.commands.StatusCommand(jobIDs...))
	if err != nil {
		return nil, err
	}
	return ParseStatusOutput(res.Retval, res.Stdout, res.Stderr)
}

// Kill cancels a job. A non-zero exit from ketchup is an error since no
// safe default exists for a failed cancellation.
func (c *Client) Kill(ctx context.Context, jobID string) error {
	res, err := c.runner.Run(ctx, c.commands.KillCommand(jobID))
	if err != nil {
		return err
	}
	if !ParseKillOutput(res.Retval, res.Stdout, res.Stderr) {
		return &SchedulerError{Op: "cancel", Retval: res.Retval, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	klog.V(2).InfoS("Cancelled job", "jobID", jobID)
	return nil
}
