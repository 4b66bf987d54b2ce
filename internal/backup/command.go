package backup

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandRunner abstracts external process invocation so tests can
// substitute a fake instead of requiring a real dump utility on PATH.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
}

// ExecRunner invokes the command through os/exec, bounded by the caller's
// context.
type ExecRunner struct{}

// NewExecRunner returns the production command runner.
func NewExecRunner() ExecRunner { return ExecRunner{} }

// Run executes the command and captures both output streams in full. Dump
// utilities routinely report progress on stderr, so the caller decides
// whether stderr content is fatal.
func (ExecRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
