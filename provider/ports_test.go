package provider

import (
	"errors"
	"net"
	"testing"

	"androidbox/models"
)

// grabPort binds an ephemeral port and keeps it held for the duration of
// the test, so negotiation sees it as occupied.
func grabPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("could not bind test port: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

// freePort finds a port that is currently free (and releases it, accepting
// the small race; negotiation itself does the same).
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("could not bind test port: %v", err)
	}
	p := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return p
}

func TestNegotiateDropsOccupiedOptionalPort(t *testing.T) {
	occupied := grabPort(t)
	desired := []models.PortBinding{
		{Role: models.RoleControl, HostPort: freePort(t), ContainerPort: 8000},
		{Role: models.RoleDisplay, HostPort: occupied, ContainerPort: 6080},
	}
	plan, err := NegotiatePorts(desired)
	if err != nil {
		t.Fatalf("negotiation failed: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("plan has %d bindings, want 1", len(plan))
	}
	if plan[0].Role != models.RoleControl {
		t.Errorf("surviving binding is %s, want control", plan[0].Role)
	}
}

func TestNegotiateFailsOnOccupiedControlPort(t *testing.T) {
	occupied := grabPort(t)
	desired := []models.PortBinding{
		{Role: models.RoleControl, HostPort: occupied, ContainerPort: 8000},
	}
	_, err := NegotiatePorts(desired)
	var pe *PortError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PortError", err)
	}
	if pe.Port != occupied || pe.Role != models.RoleControl {
		t.Errorf("PortError = %+v", pe)
	}
}

func TestNegotiateSkipsUnsetPorts(t *testing.T) {
	plan, err := NegotiatePorts([]models.PortBinding{
		{Role: models.RoleControl, HostPort: freePort(t), ContainerPort: 8000},
		{Role: models.RoleVNC, HostPort: 0, ContainerPort: 5900},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range plan {
		if b.HostPort == 0 {
			t.Errorf("unset port %v made it into the plan", b)
		}
	}
}
