package provider

import (
	"context"
	"log"
	"time"

	"androidbox/shell"
)

// ReadinessState tracks how far the emulated device has come up. Forward
// transitions are monotonic except DeviceOnline/DeviceOffline, which may
// oscillate while adb settles.
type ReadinessState string

const (
	StateCreated             ReadinessState = "created"
	StateBootingKernel       ReadinessState = "booting_kernel"
	StateWaitingForTransport ReadinessState = "waiting_for_transport"
	StateDeviceOnline        ReadinessState = "device_online"
	StateDeviceOffline       ReadinessState = "device_offline"
	StateSystemBooted        ReadinessState = "system_booted"
	StateFailed              ReadinessState = "failed"
	StateTimedOut            ReadinessState = "timed_out"
)

// Transition is one recorded state change, kept for diagnostics.
type Transition struct {
	From ReadinessState `json:"from"`
	To   ReadinessState `json:"to"`
	At   time.Time      `json:"at"`
}

// BootOptions tunes the readiness wait. Zero values take the defaults,
// which match the emulator image's observed boot behavior.
type BootOptions struct {
	PollInterval   time.Duration // default 2s
	ProcessBudget  time.Duration // default 30s: emulator process probe sub-budget
	StabilizeDelay time.Duration // default 5s: settle time after the device appears
	Timeout        time.Duration // default 120s: overall wall-clock budget
}

func (o *BootOptions) fill() {
	if o.PollInterval == 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ProcessBudget == 0 {
		o.ProcessBudget = 30 * time.Second
	}
	if o.StabilizeDelay == 0 {
		o.StabilizeDelay = 5 * time.Second
	}
	if o.Timeout == 0 {
		o.Timeout = 120 * time.Second
	}
}

// BootReport is what the readiness wait hands back: the terminal state,
// the serial adb assigned, and every transition along the way.
type BootReport struct {
	State       ReadinessState `json:"state"`
	Serial      string         `json:"serial,omitempty"`
	Transitions []Transition   `json:"transitions"`
	Elapsed     time.Duration  `json:"elapsed"`
}

func (r *BootReport) advance(to ReadinessState) {
	r.Transitions = append(r.Transitions, Transition{From: r.State, To: to, At: time.Now()})
	r.State = to
}

// AwaitReady polls the container until the emulated device accepts input,
// or the budget runs out. Cancelling ctx stops the polling loop and leaves
// the container (and its boot) untouched. The report is returned even on
// error so the caller can see how far boot got.
func (p *Provider) AwaitReady(ctx context.Context, name string, opts BootOptions) (*BootReport, error) {
	opts.fill()
	start := time.Now()
	deadline := start.Add(opts.Timeout)
	report := &BootReport{State: StateCreated}

	report.advance(StateBootingKernel)
	log.Printf("Waiting for emulator process in %s...", name)

	// The emulator process probe has its own short budget: some images
	// never show the process under this name, so expiry here is not a
	// failure, we just move on to the transport poll.
	processDeadline := start.Add(opts.ProcessBudget)
	for time.Now().Before(processDeadline) {
		res := p.Exec(ctx, name, execTimeout, "sh", "-c", "ps aux | grep -v grep | grep emulator")
		if res.Ok() && res.Stdout != "" {
			log.Printf("Emulator process started in %s", name)
			break
		}
		if shell.Classify(res) == shell.OutcomeFatal {
			report.advance(StateFailed)
			report.Elapsed = time.Since(start)
			return report, &BootError{Name: name, State: StateBootingKernel, Reason: res.Output()}
		}
		if err := sleepCtx(ctx, opts.PollInterval); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
	}

	report.advance(StateWaitingForTransport)
	log.Printf("Waiting for device to appear in adb...")

	client := p.ADBClient(name)
	lastProgress := time.Now()
	for {
		if time.Now().After(deadline) {
			last := report.State
			report.advance(StateTimedOut)
			report.Elapsed = time.Since(start)
			return report, &TimeoutError{Name: name, LastState: last, Elapsed: report.Elapsed}
		}

		devices, res := client.Devices(ctx)
		switch shell.Classify(res) {
		case shell.OutcomeFatal:
			last := report.State
			report.advance(StateFailed)
			report.Elapsed = time.Since(start)
			return report, &BootError{Name: name, State: last, Reason: res.Output()}
		case shell.OutcomeOK:
			serial, status := pickDevice(devices)
			switch status {
			case "device":
				report.Serial = serial
				report.advance(StateDeviceOnline)
				log.Printf("Android device ready: %s", serial)
				return p.confirmBoot(ctx, name, report, start, opts)
			case "offline", "unauthorized":
				if report.State != StateDeviceOffline {
					report.advance(StateDeviceOffline)
				}
			}
		}
		// Transient errors (adb server still starting, empty output) are
		// swallowed and retried.

		if elapsed := time.Since(start); time.Since(lastProgress) >= 10*time.Second {
			log.Printf("Still waiting for emulator... (%ds elapsed)", int(elapsed.Seconds()))
			lastProgress = time.Now()
		}
		if err := sleepCtx(ctx, opts.PollInterval); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
	}
}

// confirmBoot waits out the stabilization delay, then checks the device's
// boot-completed flag. The flag is advisory: emulator images have shipped
// that never set it, so a negative answer is logged and readiness is
// declared anyway.
func (p *Provider) confirmBoot(ctx context.Context, name string, report *BootReport, start time.Time, opts BootOptions) (*BootReport, error) {
	log.Printf("Waiting for system to stabilize...")
	if err := sleepCtx(ctx, opts.StabilizeDelay); err != nil {
		report.Elapsed = time.Since(start)
		return report, err
	}

	if p.ADBClient(name).BootCompleted(ctx) {
		log.Printf("Android system fully booted")
	} else {
		log.Printf("Boot-completed flag not set, proceeding anyway")
	}

	report.advance(StateSystemBooted)
	report.Elapsed = time.Since(start)
	return report, nil
}

// pickDevice selects the device to wait on. A ready device wins over an
// offline one when adb momentarily lists both.
func pickDevice(devices map[string]string) (string, string) {
	var serial, status string
	for s, st := range devices {
		if st == "device" {
			return s, st
		}
		serial, status = s, st
	}
	return serial, status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
