package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single external command. Individual callers
// (boot polling, provisioning) pass their own shorter timeouts.
const DefaultTimeout = 30 * time.Second

// Outcome classifies a finished command. Nonzero exit is not automatically
// fatal: adb and docker both exit zero while printing errors, and exit
// nonzero for conditions that just mean "try again in two seconds".
type Outcome int

const (
	// OutcomeOK means the command ran and its output is usable.
	OutcomeOK Outcome = iota
	// OutcomeTransient means the command failed in a way that is expected
	// to clear up on retry (device still booting, daemon not up yet).
	OutcomeTransient
	// OutcomeFatal means retrying is pointless (container gone, binary
	// missing, context canceled).
	OutcomeFatal
)

// Result captures everything a single external command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error // start/timeout error, nil when the process ran to completion
}

// Output returns combined stdout+stderr for error-marker scanning.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Ok reports whether the process ran and exited zero.
func (r Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner executes one external command and returns its captured result.
// The provider, provisioner and bridge all depend on this interface so
// tests can substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
}

// ExecRunner is the real Runner backed by os/exec.
type ExecRunner struct{}

// Run executes name with args, enforcing timeout. It never returns a Go
// error for a nonzero exit; the exit status lives in the Result.
func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, new(*exec.ExitError)):
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		// Did not run at all: missing binary, canceled context.
		res.ExitCode = -1
		res.Err = err
	}
	if ctx.Err() != nil && res.Err == nil {
		res.Err = ctx.Err()
	}
	return res
}

// structural failure markers: the environment itself is gone, not merely
// not ready yet. Matched case-insensitively against stderr.
var fatalMarkers = []string{
	"no such container",
	"is not running",
	"executable file not found",
	"command not found",
	"cannot connect to the docker daemon",
}

// Classify maps a Result onto the three-valued outcome used by the boot
// state machine and the provisioner. Empty output with a zero exit is OK;
// the caller decides whether the content satisfied it.
func Classify(r Result) Outcome {
	if r.Err != nil {
		if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
			return OutcomeTransient
		}
		return OutcomeFatal
	}
	if r.ExitCode == 0 {
		return OutcomeOK
	}
	low := strings.ToLower(r.Output())
	for _, m := range fatalMarkers {
		if strings.Contains(low, m) {
			return OutcomeFatal
		}
	}
	return OutcomeTransient
}
