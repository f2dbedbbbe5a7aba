package models

import "time"

// Default container-side ports for the emulator image. The host side of
// each mapping comes from the DeviceSpec and may be dropped by port
// negotiation (except the control port, which is mandatory).
const (
	ContainerControlPort   = 8000
	ContainerDisplayPort   = 6080
	ContainerTransportPort = 5555
	ContainerConsolePort   = 5554
	ContainerVNCPort       = 5900
)

// PortRole identifies the purpose of one port mapping.
type PortRole string

const (
	RoleControl   PortRole = "control"   // bridge wire protocol
	RoleDisplay   PortRole = "display"   // web VNC
	RoleTransport PortRole = "transport" // adb over TCP
	RoleConsole   PortRole = "console"   // emulator console
	RoleVNC       PortRole = "vnc"       // raw VNC
)

// PortBinding maps one host port to one container port.
type PortBinding struct {
	Role          PortRole `json:"role"`
	HostPort      int      `json:"host_port"`
	ContainerPort int      `json:"container_port"`
}

// DeviceSpec is the immutable request to provision one emulated device.
// It is consumed once by the lifecycle controller.
type DeviceSpec struct {
	Name          string `json:"name"`
	Image         string `json:"image"`
	Memory        string `json:"memory,omitempty"` // e.g. "4g", passed to --memory
	CPUs          int    `json:"cpus,omitempty"`
	ControlPort   int    `json:"control_port"`
	DisplayPort   int    `json:"display_port"`
	TransportPort int    `json:"transport_port"`
	ConsolePort   int    `json:"console_port"`
	VNCPort       int    `json:"vnc_port"`
	DeviceProfile string `json:"device_profile"` // e.g. "Samsung Galaxy S10"
	Ephemeral     bool   `json:"ephemeral"`      // remove container on stop
}

// DesiredBindings expands the spec's port fields into the ordered list the
// negotiator probes. The control port is always first and always mandatory.
func (s DeviceSpec) DesiredBindings() []PortBinding {
	return []PortBinding{
		{Role: RoleControl, HostPort: s.ControlPort, ContainerPort: ContainerControlPort},
		{Role: RoleDisplay, HostPort: s.DisplayPort, ContainerPort: ContainerDisplayPort},
		{Role: RoleTransport, HostPort: s.TransportPort, ContainerPort: ContainerTransportPort},
		{Role: RoleConsole, HostPort: s.ConsolePort, ContainerPort: ContainerConsolePort},
		{Role: RoleVNC, HostPort: s.VNCPort, ContainerPort: ContainerVNCPort},
	}
}

// LifecycleState is the container-level state tracked on a handle.
type LifecycleState string

const (
	StateCreated LifecycleState = "created"
	StateRunning LifecycleState = "running"
	StateStopped LifecycleState = "stopped"
	StateRemoved LifecycleState = "removed"
)

// ExecutionHandle is the mutable record for one provisioned container.
// Owned by the lifecycle controller; exactly one caller at a time.
type ExecutionHandle struct {
	ID          string         `json:"id"` // registry ID, not the container ID
	ContainerID string         `json:"container_id"`
	Name        string         `json:"name"`
	Spec        DeviceSpec     `json:"spec"`
	Bindings    []PortBinding  `json:"bindings"` // post-negotiation, may omit optional roles
	State       LifecycleState `json:"state"`
	Serial      string         `json:"serial,omitempty"` // adb serial observed at boot
	BridgeLive  bool           `json:"bridge_live"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Binding returns the negotiated binding for role, if any survived.
func (h *ExecutionHandle) Binding(role PortRole) (PortBinding, bool) {
	for _, b := range h.Bindings {
		if b.Role == role {
			return b, true
		}
	}
	return PortBinding{}, false
}

// DeviceInfo is the enriched view returned by the management API once the
// device is booted: properties read back over adb.
type DeviceInfo struct {
	Serial         string `json:"serial"`
	AndroidVersion string `json:"android_version,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Battery        int    `json:"battery,omitempty"`
}
