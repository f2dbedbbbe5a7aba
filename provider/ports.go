package provider

import (
	"fmt"
	"log"
	"net"

	"androidbox/models"
)

// portFree probes a host port with a transient bind. This is inherently
// racy against other processes; that is acceptable because an actual
// conflict is caught by the container engine's own bind at create time.
var portFree = func(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// StubHostProbes swaps out port probing and KVM detection so tests in
// dependent packages do not touch the real host. Returns a restore func.
func StubHostProbes(free func(int) bool, kvm func() bool) func() {
	origFree, origKVM := portFree, hasKVM
	portFree, hasKVM = free, kvm
	return func() { portFree, hasKVM = origFree, origKVM }
}

// NegotiatePorts probes each desired binding and returns the ones that can
// actually be bound. Occupied optional ports are dropped with a warning so
// the device still boots without that feature; an occupied control port is
// fatal because the bridge protocol is served there.
func NegotiatePorts(desired []models.PortBinding) ([]models.PortBinding, error) {
	plan := make([]models.PortBinding, 0, len(desired))
	for _, b := range desired {
		if b.HostPort <= 0 {
			continue
		}
		if portFree(b.HostPort) {
			plan = append(plan, b)
			continue
		}
		if b.Role == models.RoleControl {
			return nil, &PortError{Role: b.Role, Port: b.HostPort}
		}
		log.Printf("Warning: port %d in use, skipping %s mapping", b.HostPort, b.Role)
	}
	return plan, nil
}
