package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"androidbox/shell"
)

// fastBoot keeps polling real but sub-millisecond so boot tests finish
// instantly.
func fastBoot() BootOptions {
	return BootOptions{
		PollInterval:   time.Millisecond,
		ProcessBudget:  20 * time.Millisecond,
		StabilizeDelay: time.Millisecond,
		Timeout:        time.Second,
	}
}

// bootScript serves scripted responses for the probe commands AwaitReady
// issues: the emulator process check, adb devices, and the boot flag.
type bootScript struct {
	psOutput    string // emulator process probe stdout
	deviceSeq   []string
	deviceIdx   int
	bootFlag    string
	devicesErr  shell.Result // non-zero value overrides the device sequence
	useDevError bool
}

func (s *bootScript) runner() *fakeRunner {
	return &fakeRunner{fn: func(name string, args []string) shell.Result {
		cmd := strings.Join(args, " ")
		switch {
		case strings.Contains(cmd, "ps aux"):
			return shell.Result{Stdout: s.psOutput}
		case strings.Contains(cmd, "adb devices"):
			if s.useDevError {
				return s.devicesErr
			}
			status := s.deviceSeq[len(s.deviceSeq)-1]
			if s.deviceIdx < len(s.deviceSeq) {
				status = s.deviceSeq[s.deviceIdx]
				s.deviceIdx++
			}
			if status == "" {
				return shell.Result{Stdout: "List of devices attached\n\n"}
			}
			return shell.Result{Stdout: "List of devices attached\nemulator-5554\t" + status + "\n"}
		case strings.Contains(cmd, "sys.boot_completed"):
			return shell.Result{Stdout: s.bootFlag}
		}
		return shell.Result{}
	}}
}

func states(report *BootReport) []ReadinessState {
	out := []ReadinessState{StateCreated}
	for _, tr := range report.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func TestAwaitReadyHappyPath(t *testing.T) {
	script := &bootScript{
		psOutput:  "root  123  emulator -avd samsung_galaxy_s10\n",
		deviceSeq: []string{"offline", "offline", "device"},
		bootFlag:  "1\n",
	}
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", fastBoot())
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if report.State != StateSystemBooted {
		t.Fatalf("final state = %s, want system_booted", report.State)
	}
	if report.Serial != "emulator-5554" {
		t.Errorf("serial = %q", report.Serial)
	}

	seq := states(report)
	want := []ReadinessState{
		StateCreated, StateBootingKernel, StateWaitingForTransport,
		StateDeviceOffline, StateDeviceOnline, StateSystemBooted,
	}
	if len(seq) != len(want) {
		t.Fatalf("transition sequence %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("transition sequence %v, want %v", seq, want)
		}
	}
}

func TestAwaitReadyBootFlagIsAdvisory(t *testing.T) {
	// Device comes up but never reports sys.boot_completed: readiness is
	// still declared.
	script := &bootScript{
		psOutput:  "emulator\n",
		deviceSeq: []string{"device"},
		bootFlag:  "\n",
	}
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", fastBoot())
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if report.State != StateSystemBooted {
		t.Errorf("state = %s, want system_booted despite unset boot flag", report.State)
	}
}

func TestAwaitReadyTimeoutCarriesLastState(t *testing.T) {
	script := &bootScript{
		psOutput:  "emulator\n",
		deviceSeq: []string{"offline"},
	}
	opts := fastBoot()
	opts.Timeout = 50 * time.Millisecond
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", opts)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.LastState != StateDeviceOffline {
		t.Errorf("last state = %s, want device_offline", te.LastState)
	}
	if te.Elapsed <= 0 {
		t.Error("timeout must report elapsed time")
	}
	if report.State != StateTimedOut {
		t.Errorf("report state = %s, want timed_out", report.State)
	}
}

func TestAwaitReadyStructuralFailure(t *testing.T) {
	script := &bootScript{
		psOutput:    "emulator\n",
		useDevError: true,
		devicesErr:  shell.Result{ExitCode: 1, Stderr: "Error: No such container: dev1"},
	}
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", fastBoot())
	var be *BootError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BootError (not a timeout)", err)
	}
	if report.State != StateFailed {
		t.Errorf("report state = %s, want failed", report.State)
	}
	if _, isTimeout := err.(*TimeoutError); isTimeout {
		t.Error("structural failure must not be conflated with timeout")
	}
}

func TestAwaitReadyNoEmulatorProcessStillProceeds(t *testing.T) {
	// Some images never show the emulator process under this name; the
	// sub-budget expires and the wait moves on to the transport poll.
	script := &bootScript{
		psOutput:  "",
		deviceSeq: []string{"device"},
		bootFlag:  "1\n",
	}
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", fastBoot())
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if report.State != StateSystemBooted {
		t.Errorf("state = %s, want system_booted after process budget expiry", report.State)
	}
}

func TestAwaitReadyCancellation(t *testing.T) {
	script := &bootScript{
		psOutput:  "emulator\n",
		deviceSeq: []string{"offline"},
	}
	f := script.runner()
	p := New(f)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	opts := fastBoot()
	opts.Timeout = time.Hour
	_, err := p.AwaitReady(ctx, "dev1", opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// Cancellation abandons the wait but must not touch the container.
	for _, c := range f.calls {
		joined := strings.Join(c, " ")
		if strings.Contains(joined, "docker stop") || strings.Contains(joined, "docker rm") {
			t.Errorf("cancellation must leave the container running, saw %q", joined)
		}
	}
}

func TestReadinessMonotonicAfterBoot(t *testing.T) {
	script := &bootScript{
		psOutput:  "emulator\n",
		deviceSeq: []string{"device"},
		bootFlag:  "1\n",
	}
	p := New(script.runner())

	report, err := p.AwaitReady(context.Background(), "dev1", fastBoot())
	if err != nil {
		t.Fatal(err)
	}
	last := report.Transitions[len(report.Transitions)-1]
	if last.To != StateSystemBooted {
		t.Fatalf("final transition to %s", last.To)
	}
	for i, tr := range report.Transitions {
		if tr.To == StateSystemBooted && i != len(report.Transitions)-1 {
			t.Error("system_booted must be terminal")
		}
	}
}
