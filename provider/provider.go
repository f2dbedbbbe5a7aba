// Package provider drives the container engine that hosts the emulated
// Android device: create/reuse/teardown, boot readiness, and bridge
// provisioning. Every external command goes through shell.Runner so the
// whole package is testable against a scripted fake.
package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"androidbox/adb"
	"androidbox/models"
	"androidbox/shell"
)

const (
	dockerBin = "docker"

	inspectTimeout = 10 * time.Second
	execTimeout    = 15 * time.Second
	runTimeout     = 60 * time.Second
	stopTimeout    = 30 * time.Second
)

// hasKVM is overridable in tests; hardware acceleration is passed through
// only when the host exposes it.
var hasKVM = func() bool {
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

// Provider is the container lifecycle controller. One instance serves many
// devices; it holds no per-device state (that lives in the manager's
// handle map and the registry).
type Provider struct {
	runner shell.Runner
}

func New(runner shell.Runner) *Provider {
	return &Provider{runner: runner}
}

// Start creates, restarts or reuses the container for spec. The returned
// handle carries the negotiated bindings. Creation failure is fatal and
// never retried here: repeating `docker run --name` after a partial
// failure is not idempotent at the engine level.
func (p *Provider) Start(ctx context.Context, spec models.DeviceSpec) (*models.ExecutionHandle, error) {
	switch state := p.containerState(ctx, spec.Name); state {
	case "running":
		log.Printf("Container %s is already running, reusing it", spec.Name)
		return p.adoptHandle(ctx, spec, models.StateRunning)

	case "exited", "created", "paused":
		log.Printf("Starting existing container %s (state: %s)", spec.Name, state)
		res := p.runner.Run(ctx, runTimeout, dockerBin, "start", spec.Name)
		if !res.Ok() {
			return nil, &StartError{Name: spec.Name, Stderr: strings.TrimSpace(res.Output())}
		}
		return p.adoptHandle(ctx, spec, models.StateRunning)
	}

	bindings, err := NegotiatePorts(spec.DesiredBindings())
	if err != nil {
		return nil, err
	}

	args := buildRunArgs(spec, bindings)
	log.Printf("Creating container: docker %s", strings.Join(args, " "))
	res := p.runner.Run(ctx, runTimeout, dockerBin, args...)
	if !res.Ok() {
		return nil, &StartError{Name: spec.Name, Stderr: strings.TrimSpace(res.Output())}
	}

	containerID := strings.TrimSpace(res.Stdout)
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	log.Printf("Container %s started with ID %s", spec.Name, containerID)

	return &models.ExecutionHandle{
		ContainerID: containerID,
		Name:        spec.Name,
		Spec:        spec,
		Bindings:    bindings,
		State:       models.StateRunning,
		CreatedAt:   time.Now(),
	}, nil
}

// buildRunArgs assembles the docker run invocation for a fresh container.
func buildRunArgs(spec models.DeviceSpec, bindings []models.PortBinding) []string {
	args := []string{"run", "-d", "--privileged", "--name", spec.Name}
	for _, b := range bindings {
		args = append(args, "-p", fmt.Sprintf("%d:%d", b.HostPort, b.ContainerPort))
	}
	if spec.Memory != "" {
		args = append(args, "--memory", spec.Memory)
	}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(spec.CPUs))
	}
	args = append(args, "-e", "EMULATOR_DEVICE="+spec.DeviceProfile)
	args = append(args, "-e", "WEB_VNC=true")
	if hasKVM() {
		args = append(args, "--device", "/dev/kvm")
	}
	args = append(args, spec.Image)
	return args
}

// StopByName stops the container, removing it too when remove is set.
// A container that is already gone is a no-op, not an error, since
// teardown races with caller-side cleanup. Identity alone is enough, so a
// failed Start or readiness wait can still be cleaned up without a handle.
// The provider never touches handle state; the owner applies the
// resulting lifecycle state under its own lock.
func (p *Provider) StopByName(ctx context.Context, name string, remove bool) error {
	res := p.runner.Run(ctx, stopTimeout, dockerBin, "stop", name)
	if !res.Ok() && !isGone(res) {
		if res.Err != nil {
			return fmt.Errorf("stopping %s: %w", name, res.Err)
		}
		return fmt.Errorf("stopping %s: %s", name, strings.TrimSpace(res.Output()))
	}
	if remove {
		res = p.runner.Run(ctx, stopTimeout, dockerBin, "rm", "-f", name)
		if !res.Ok() && !isGone(res) {
			log.Printf("Warning: could not remove container %s: %s", name, strings.TrimSpace(res.Output()))
		}
	}
	return nil
}

func isGone(res shell.Result) bool {
	return strings.Contains(strings.ToLower(res.Output()), "no such container")
}

// containerState returns the engine's status string for name, or "" when
// the container does not exist.
func (p *Provider) containerState(ctx context.Context, name string) string {
	res := p.runner.Run(ctx, inspectTimeout, dockerBin,
		"inspect", "-f", "{{.State.Status}}", name)
	if !res.Ok() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// adoptHandle reconstructs a handle for an existing container: identity
// from inspect, bindings from `docker port`, so a reused container keeps
// its original ports rather than renegotiating.
func (p *Provider) adoptHandle(ctx context.Context, spec models.DeviceSpec, state models.LifecycleState) (*models.ExecutionHandle, error) {
	handle := &models.ExecutionHandle{
		Name:      spec.Name,
		Spec:      spec,
		State:     state,
		CreatedAt: time.Now(),
	}

	res := p.runner.Run(ctx, inspectTimeout, dockerBin, "inspect", "-f", "{{.Id}}", spec.Name)
	if res.Ok() {
		id := strings.TrimSpace(res.Stdout)
		if len(id) > 12 {
			id = id[:12]
		}
		handle.ContainerID = id
	}

	res = p.runner.Run(ctx, inspectTimeout, dockerBin, "port", spec.Name)
	if res.Ok() {
		handle.Bindings = parsePortOutput(res.Stdout)
	}
	if len(handle.Bindings) == 0 {
		// Engine did not report mappings (host networking, old engine);
		// fall back to the spec's desired set.
		handle.Bindings = spec.DesiredBindings()
	}
	return handle, nil
}

// parsePortOutput parses `docker port` lines of the form
// "8000/tcp -> 0.0.0.0:8000" back into role-tagged bindings.
func parsePortOutput(output string) []models.PortBinding {
	roleByContainerPort := map[int]models.PortRole{
		models.ContainerControlPort:   models.RoleControl,
		models.ContainerDisplayPort:   models.RoleDisplay,
		models.ContainerTransportPort: models.RoleTransport,
		models.ContainerConsolePort:   models.RoleConsole,
		models.ContainerVNCPort:       models.RoleVNC,
	}
	var bindings []models.PortBinding
	seen := make(map[models.PortRole]bool)
	for _, line := range strings.Split(output, "\n") {
		left, right, ok := strings.Cut(line, "->")
		if !ok {
			continue
		}
		portStr, _, _ := strings.Cut(strings.TrimSpace(left), "/")
		containerPort, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		idx := strings.LastIndex(strings.TrimSpace(right), ":")
		if idx < 0 {
			continue
		}
		hostPort, err := strconv.Atoi(strings.TrimSpace(right)[idx+1:])
		if err != nil {
			continue
		}
		role, ok := roleByContainerPort[containerPort]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		bindings = append(bindings, models.PortBinding{
			Role:          role,
			HostPort:      hostPort,
			ContainerPort: containerPort,
		})
	}
	return bindings
}

// Exec runs a command inside the container. This is the direct-execution
// surface the caller falls back to when the bridge is unavailable.
func (p *Provider) Exec(ctx context.Context, name string, timeout time.Duration, args ...string) shell.Result {
	full := append([]string{"exec", name}, args...)
	return p.runner.Run(ctx, timeout, dockerBin, full...)
}

// ADBClient returns an action client that reaches the device through
// `docker exec <name> adb`, bypassing the bridge entirely.
func (p *Provider) ADBClient(name string) *adb.Client {
	return adb.NewClient(p.runner, dockerBin, "exec", name, "adb")
}
