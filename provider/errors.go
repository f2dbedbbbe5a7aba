package provider

import (
	"fmt"
	"time"

	"androidbox/models"
)

// StartError is a fatal container-creation failure. It is never retried:
// `docker run --name` is not idempotent, and a blind retry can collide
// with the half-created container.
type StartError struct {
	Name   string
	Stderr string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start container %s: %s", e.Name, e.Stderr)
}

// PortError reports that a mandatory port could not be bound. Optional
// ports are dropped with a warning instead of producing this.
type PortError struct {
	Role models.PortRole
	Port int
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s port %d is already in use", e.Role, e.Port)
}

// TimeoutError reports that the boot budget elapsed. It carries the last
// observed sub-state so operators can tell "never started" apart from
// "stuck waiting for the device".
type TimeoutError struct {
	Name      string
	LastState ReadinessState
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device %s not ready after %s (last state: %s)",
		e.Name, e.Elapsed.Round(time.Second), e.LastState)
}

// BootError is a structural readiness failure, distinct from a timeout:
// a probe failed in a way that polling cannot recover from.
type BootError struct {
	Name   string
	State  ReadinessState
	Reason string
}

func (e *BootError) Error() string {
	return fmt.Sprintf("device %s failed during %s: %s", e.Name, e.State, e.Reason)
}

// ToolchainError means adb itself is unreachable inside the container.
// Nothing downstream can work, so provisioning aborts with this.
type ToolchainError struct {
	Name   string
	Output string
}

func (e *ToolchainError) Error() string {
	return fmt.Sprintf("adb unreachable in container %s: %s", e.Name, e.Output)
}

// BridgeDegradedError marks a non-fatal provisioning failure: the bridge is
// unavailable but direct adb execution through the controller still works.
type BridgeDegradedError struct {
	Name   string
	Reason string
}

func (e *BridgeDegradedError) Error() string {
	return fmt.Sprintf("bridge unavailable on %s, direct adb mode only: %s", e.Name, e.Reason)
}
