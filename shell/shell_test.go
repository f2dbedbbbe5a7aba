package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	r := ExecRunner{}.Run(context.Background(), 5*time.Second, "echo", "hello")
	if !r.Ok() {
		t.Fatalf("echo failed: exit=%d err=%v stderr=%q", r.ExitCode, r.Err, r.Stderr)
	}
	if strings.TrimSpace(r.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", r.Stdout)
	}
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	r := ExecRunner{}.Run(context.Background(), 5*time.Second, "sh", "-c", "echo oops >&2; exit 3")
	if r.Err != nil {
		t.Fatalf("nonzero exit must not produce Err, got %v", r.Err)
	}
	if r.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", r.ExitCode)
	}
	if !strings.Contains(r.Stderr, "oops") {
		t.Errorf("stderr = %q, want to contain oops", r.Stderr)
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := ExecRunner{}.Run(context.Background(), 5*time.Second, "definitely-not-a-binary-xyz")
	if r.Err == nil {
		t.Fatal("expected Err for missing binary")
	}
	if Classify(r) != OutcomeFatal {
		t.Errorf("missing binary should classify fatal")
	}
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	r := ExecRunner{}.Run(context.Background(), 200*time.Millisecond, "sleep", "10")
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not enforced")
	}
	if r.Err == nil {
		t.Fatal("expected timeout error")
	}
	if Classify(r) != OutcomeTransient {
		t.Errorf("timeout should classify transient")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want Outcome
	}{
		{"clean", Result{ExitCode: 0}, OutcomeOK},
		{"plain failure", Result{ExitCode: 1, Stderr: "adb: device offline"}, OutcomeTransient},
		{"container gone", Result{ExitCode: 1, Stderr: "Error: No such container: dev1"}, OutcomeFatal},
		{"stopped container", Result{ExitCode: 1, Stderr: "container dev1 is not running"}, OutcomeFatal},
		{"daemon down", Result{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"}, OutcomeFatal},
		{"missing tool", Result{ExitCode: 127, Stderr: "sh: adb: command not found"}, OutcomeFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.res); got != tc.want {
			t.Errorf("%s: Classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOutputCombines(t *testing.T) {
	r := Result{Stdout: "a", Stderr: "b"}
	if r.Output() != "a\nb" {
		t.Errorf("Output = %q", r.Output())
	}
	r = Result{Stdout: "a"}
	if r.Output() != "a" {
		t.Errorf("Output = %q", r.Output())
	}
}
