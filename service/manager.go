// Package service ties the lifecycle controller, the registry and the
// bridge together behind the management API.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"androidbox/adb"
	"androidbox/bridge"
	"androidbox/config"
	"androidbox/models"
	"androidbox/provider"
)

// Manager owns the name -> handle map. It is the single writer for every
// handle: no concurrent start/stop runs on the same device name.
type Manager struct {
	mu       sync.RWMutex
	handles  map[string]*models.ExecutionHandle
	bridges  map[string]*bridge.Client
	busy     map[string]bool
	provider *provider.Provider
	store    *config.Store
	cfg      config.Config

	// dialBridge is swapped in tests to avoid real sockets.
	dialBridge func(ctx context.Context, url string) (*bridge.Client, error)

	// bootOpts and bridgeVerify override polling delays; zero values
	// mean the production defaults.
	bootOpts     provider.BootOptions
	bridgeVerify time.Duration
}

func NewManager(p *provider.Provider, store *config.Store, cfg config.Config) *Manager {
	m := &Manager{
		handles:    make(map[string]*models.ExecutionHandle),
		bridges:    make(map[string]*bridge.Client),
		busy:       make(map[string]bool),
		provider:   p,
		store:      store,
		cfg:        cfg,
		dialBridge: bridge.Dial,
	}
	m.restore()
	return m
}

// restore re-adopts handles persisted by a previous daemon run. Containers
// may have died in the meantime; their true state is re-checked lazily on
// the next start/stop.
func (m *Manager) restore() {
	if m.store == nil {
		return
	}
	handles, err := m.store.LoadHandles()
	if err != nil {
		log.Printf("Warning: could not restore device registry: %v", err)
		return
	}
	for _, h := range handles {
		h.BridgeLive = false
		m.handles[h.Name] = h
	}
	if len(handles) > 0 {
		log.Printf("Restored %d device(s) from registry", len(handles))
	}
}

// acquire marks a name busy, enforcing one lifecycle operation at a time
// per device.
func (m *Manager) acquire(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[name] {
		return fmt.Errorf("device %s has a lifecycle operation in progress", name)
	}
	m.busy[name] = true
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, name)
}

// fillSpec applies daemon defaults to fields the caller left unset.
func (m *Manager) fillSpec(spec models.DeviceSpec) models.DeviceSpec {
	if spec.Image == "" || spec.Image == "default" {
		spec.Image = m.cfg.DefaultImage
	}
	if spec.DeviceProfile == "" {
		spec.DeviceProfile = m.cfg.DeviceProfile
	}
	if spec.ControlPort == 0 {
		spec.ControlPort = m.cfg.ControlPort
	}
	if spec.DisplayPort == 0 {
		spec.DisplayPort = m.cfg.DisplayPort
	}
	if spec.TransportPort == 0 {
		spec.TransportPort = m.cfg.TransportPort
	}
	if spec.ConsolePort == 0 {
		spec.ConsolePort = m.cfg.ConsolePort
	}
	if spec.VNCPort == 0 {
		spec.VNCPort = m.cfg.VNCPort
	}
	return spec
}

// StartDevice runs the full provisioning sequence: container start, boot
// readiness, bridge deployment. The boot report is returned even on error
// so callers can see how far the device got. A degraded bridge is not an
// error; the handle just stays in direct-execution mode.
func (m *Manager) StartDevice(ctx context.Context, spec models.DeviceSpec) (*models.ExecutionHandle, *provider.BootReport, error) {
	if spec.Name == "" {
		return nil, nil, fmt.Errorf("device spec needs a name")
	}
	if err := m.acquire(spec.Name); err != nil {
		return nil, nil, err
	}
	defer m.release(spec.Name)

	spec = m.fillSpec(spec)

	handle, err := m.provider.Start(ctx, spec)
	if err != nil {
		return nil, nil, err
	}

	// Keep registry identity stable across restarts of the same device.
	// Once the handle is in the map, concurrent readers see it through
	// snapshot copies; every further mutation happens under m.mu.
	m.mu.Lock()
	if prev, ok := m.handles[spec.Name]; ok && prev.ID != "" {
		handle.ID = prev.ID
	} else {
		handle.ID = uuid.NewString()
	}
	m.handles[spec.Name] = handle
	m.mu.Unlock()
	m.persist(m.snapshot(spec.Name))

	opts := m.bootOpts
	opts.Timeout = m.cfg.BootTimeout
	report, err := m.provider.AwaitReady(ctx, spec.Name, opts)
	if err != nil {
		return m.snapshot(spec.Name), report, err
	}

	m.mu.Lock()
	handle.Serial = report.Serial
	m.mu.Unlock()

	bridgeCfg := provider.BridgeConfig{
		BinaryPath:  m.cfg.BridgeBinary,
		Serial:      report.Serial,
		VerifyDelay: m.bridgeVerify,
	}
	if _, err := m.provider.EnsureBridge(ctx, spec.Name, bridgeCfg); err != nil {
		// Non-fatal: every action is still reachable through docker exec.
		log.Printf("Warning: %v", err)
	} else {
		m.mu.Lock()
		handle.BridgeLive = true
		m.mu.Unlock()
	}

	snap := m.snapshot(spec.Name)
	m.persist(snap)
	return snap, report, nil
}

// snapshot returns a copy of the named handle for use outside m.mu, or
// nil when the device is unknown. Callers must never hand the live map
// entry to anything that reads it unlocked (JSON marshaling included).
func (m *Manager) snapshot(name string) *models.ExecutionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[name]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// StopDevice tears the device down. It works from identity alone when the
// handle is unknown, so cleanup survives a lost registry.
func (m *Manager) StopDevice(ctx context.Context, name string) error {
	if err := m.acquire(name); err != nil {
		return err
	}
	defer m.release(name)

	m.mu.Lock()
	handle := m.handles[name]
	if c, ok := m.bridges[name]; ok {
		c.Close()
		delete(m.bridges, name)
	}
	m.mu.Unlock()

	if handle == nil {
		// Rescue path: no handle, stop and remove by name.
		return m.provider.StopByName(ctx, name, true)
	}

	ephemeral := handle.Spec.Ephemeral
	if err := m.provider.StopByName(ctx, name, ephemeral); err != nil {
		return err
	}

	m.mu.Lock()
	handle.BridgeLive = false
	if ephemeral {
		handle.State = models.StateRemoved
		delete(m.handles, name)
	} else {
		handle.State = models.StateStopped
	}
	snap := *handle
	m.mu.Unlock()

	if m.store != nil {
		if ephemeral {
			if err := m.store.DeleteHandle(name); err != nil {
				log.Printf("Warning: could not delete registry row for %s: %v", name, err)
			}
		} else {
			m.persist(&snap)
		}
	}
	return nil
}

// Handle returns a copy of the current handle for name, if any.
func (m *Manager) Handle(name string) (*models.ExecutionHandle, bool) {
	h := m.snapshot(name)
	return h, h != nil
}

// Handles lists every known device. The entries are copies; mutating them
// has no effect on the registry.
func (m *Manager) Handles() []*models.ExecutionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ExecutionHandle, 0, len(m.handles))
	for _, h := range m.handles {
		cp := *h
		out = append(out, &cp)
	}
	return out
}

// Execute dispatches one action to a device: over the bridge when it is
// live, falling back to direct adb through the container otherwise. The
// result is always the wire shape, regardless of path taken.
func (m *Manager) Execute(ctx context.Context, name string, request map[string]interface{}) (map[string]interface{}, error) {
	handle := m.snapshot(name)
	if handle == nil {
		return nil, fmt.Errorf("unknown device %s", name)
	}

	action := adb.DecodeMap(request)
	record := m.beginRecord(name, action.Kind(), request)

	var resp map[string]interface{}
	if handle.BridgeLive {
		if wire, err := m.executeViaBridge(ctx, handle, request); err == nil {
			resp = wire
		} else {
			log.Printf("Bridge dispatch failed for %s, falling back to direct adb: %v", name, err)
		}
	}
	if resp == nil {
		resp = bridge.WireResponse(m.provider.ADBClient(name).Do(ctx, action))
	}

	m.finishRecord(record, resp)
	return resp, nil
}

func (m *Manager) executeViaBridge(ctx context.Context, handle *models.ExecutionHandle, request map[string]interface{}) (map[string]interface{}, error) {
	client, err := m.bridgeFor(ctx, handle)
	if err != nil {
		return nil, err
	}
	command, _ := request["command"].(string)
	if command == "" {
		command, _ = request["action"].(string)
	}
	if command == "" {
		command, _ = request["type"].(string)
	}
	params, _ := request["params"].(map[string]interface{})
	if params == nil {
		// Legacy top-level fields ride along as params.
		params = make(map[string]interface{})
		for k, v := range request {
			if k != "command" && k != "action" && k != "type" {
				params[k] = v
			}
		}
	}
	resp, err := client.Command(ctx, command, params)
	if err != nil {
		// A dead connection is dropped so the next dispatch redials.
		m.mu.Lock()
		if c, ok := m.bridges[handle.Name]; ok && c == client {
			c.Close()
			delete(m.bridges, handle.Name)
		}
		m.mu.Unlock()
	}
	return resp, err
}

// bridgeFor returns the cached connection for a device, dialing on first
// use. The control channel is reached through the negotiated host port.
func (m *Manager) bridgeFor(ctx context.Context, handle *models.ExecutionHandle) (*bridge.Client, error) {
	m.mu.RLock()
	client, ok := m.bridges[handle.Name]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	binding, ok := handle.Binding(models.RoleControl)
	if !ok {
		return nil, fmt.Errorf("no control port binding for %s", handle.Name)
	}
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", binding.HostPort)
	client, err := m.dialBridge(ctx, url)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bridges[handle.Name]; ok {
		client.Close()
		return existing, nil
	}
	m.bridges[handle.Name] = client
	return client, nil
}

// Screenshot captures the device screen, preferring the bridge path.
func (m *Manager) Screenshot(ctx context.Context, name string) ([]byte, error) {
	resp, err := m.Execute(ctx, name, map[string]interface{}{"command": "screenshot"})
	if err != nil {
		return nil, err
	}
	if ok, _ := resp["success"].(bool); !ok {
		msg, _ := resp["error"].(string)
		return nil, fmt.Errorf("screenshot failed: %s", msg)
	}
	switch img := resp["image"].(type) {
	case string:
		return decodeBase64(img)
	case []byte:
		return img, nil
	}
	return nil, fmt.Errorf("screenshot response carried no image")
}

// DeviceInfo reads the enriched device properties over direct adb, labeled
// with the serial observed at boot.
func (m *Manager) DeviceInfo(ctx context.Context, name string) (models.DeviceInfo, error) {
	handle := m.snapshot(name)
	if handle == nil {
		return models.DeviceInfo{}, fmt.Errorf("unknown device %s", name)
	}
	serial := handle.Serial
	if serial == "" {
		serial = "emulator-5554"
	}
	return m.provider.ADBClient(name).Properties(ctx, serial), nil
}

// RecentActions exposes the audit trail for a device.
func (m *Manager) RecentActions(name string, n int) ([]models.Action, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.RecentActions(name, n)
}

func (m *Manager) persist(h *models.ExecutionHandle) {
	if m.store == nil || h == nil {
		return
	}
	if err := m.store.SaveHandle(h); err != nil {
		log.Printf("Warning: could not persist handle for %s: %v", h.Name, err)
	}
}

func (m *Manager) beginRecord(name, kind string, request map[string]interface{}) *models.Action {
	record := &models.Action{
		ID:        uuid.NewString(),
		Device:    name,
		Type:      kind,
		Status:    "executing",
		Timestamp: time.Now().UnixMilli(),
	}
	if params, ok := request["params"].(map[string]interface{}); ok {
		record.Params = params
	} else {
		// Legacy requests carry their parameters at the top level; the
		// audit record keeps them the same way the dispatch reads them.
		params := make(map[string]interface{})
		for k, v := range request {
			if k != "command" && k != "action" && k != "type" {
				params[k] = v
			}
		}
		if len(params) > 0 {
			record.Params = params
		}
	}
	if m.store != nil {
		if err := m.store.RecordAction(record); err != nil {
			log.Printf("Warning: could not record action: %v", err)
		}
	}
	return record
}

func (m *Manager) finishRecord(record *models.Action, resp map[string]interface{}) {
	if ok, _ := resp["success"].(bool); ok {
		record.Status = "done"
		record.Result = "success"
	} else {
		record.Status = "failed"
		if msg, ok := resp["error"].(string); ok {
			record.Result = msg
		}
	}
	if m.store != nil {
		if err := m.store.RecordAction(record); err != nil {
			log.Printf("Warning: could not record action result: %v", err)
		}
	}
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return data, nil
}
