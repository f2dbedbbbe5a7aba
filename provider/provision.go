package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"androidbox/models"
)

// BridgeConfig describes how the bridge program is deployed into the
// container. The default payload is this binary itself, re-invoked in
// bridge mode inside the container.
type BridgeConfig struct {
	BinaryPath  string        // host path of the bridge program; default: os.Executable()
	RemotePath  string        // default /tmp/androidbox-bridge
	LogPath     string        // default /tmp/androidbox-bridge.log
	Port        int           // container-side control port; default 8000
	Serial      string        // adb serial the bridge targets; default emulator-5554
	VerifyDelay time.Duration // default 3s before the liveness check
}

func (c *BridgeConfig) fill() error {
	if c.BinaryPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving bridge binary: %w", err)
		}
		c.BinaryPath = exe
	}
	if c.RemotePath == "" {
		c.RemotePath = "/tmp/androidbox-bridge"
	}
	if c.LogPath == "" {
		c.LogPath = "/tmp/androidbox-bridge.log"
	}
	if c.Port == 0 {
		c.Port = models.ContainerControlPort
	}
	if c.Serial == "" {
		c.Serial = "emulator-5554"
	}
	if c.VerifyDelay == 0 {
		c.VerifyDelay = 3 * time.Second
	}
	return nil
}

// BridgeProcess is the supervised handle for the in-container bridge.
// The launch is detached, so success is never assumed from the exec exit
// code alone; liveness comes from the process table.
type BridgeProcess struct {
	provider *Provider
	name     string
	remote   string
	logPath  string
}

// Alive checks the container's process table for the bridge.
func (b *BridgeProcess) Alive(ctx context.Context) bool {
	res := b.provider.Exec(ctx, b.name, execTimeout, "sh", "-c",
		"ps aux | grep -v grep | grep "+path.Base(b.remote))
	return res.Ok() && strings.TrimSpace(res.Stdout) != ""
}

// Logs returns whatever the bridge wrote to its log file, for diagnosis
// when the process is missing.
func (b *BridgeProcess) Logs(ctx context.Context) string {
	res := b.provider.Exec(ctx, b.name, execTimeout, "cat", b.logPath)
	return res.Stdout
}

// EnsureBridge makes the in-container bridge present and running. It is
// re-entrant: on an already-provisioned container it only restarts the
// process (steps: kill, launch, verify), skipping copy and dependency
// installation unless the deployed file went missing.
//
// A total failure here is reported as BridgeDegradedError and is not
// fatal to the device: every action remains reachable through the
// direct-execution surface. A nil error means the bridge is live; the
// caller records that on its own handle under its own lock.
func (p *Provider) EnsureBridge(ctx context.Context, name string, cfg BridgeConfig) (*BridgeProcess, error) {
	if err := cfg.fill(); err != nil {
		return nil, err
	}

	// Nothing downstream can work without adb, so this one is fatal.
	res := p.Exec(ctx, name, execTimeout, "adb", "devices")
	if !res.Ok() {
		return nil, &ToolchainError{Name: name, Output: strings.TrimSpace(res.Output())}
	}
	log.Printf("adb is reachable in container %s", name)

	deployed := p.Exec(ctx, name, execTimeout, "test", "-x", cfg.RemotePath).Ok()
	if !deployed {
		log.Printf("Deploying bridge to %s:%s", name, cfg.RemotePath)
		res = p.runner.Run(ctx, runTimeout, dockerBin, "cp", cfg.BinaryPath, name+":"+cfg.RemotePath)
		if !res.Ok() {
			return nil, &BridgeDegradedError{Name: name, Reason: "copy failed: " + strings.TrimSpace(res.Output())}
		}
		p.Exec(ctx, name, execTimeout, "chmod", "+x", cfg.RemotePath)
		p.installRuntimeDeps(ctx, name, cfg.RemotePath)
	}

	// Kill any previous bridge first so the restart does not race the old
	// process for the control port. pkill exiting nonzero just means
	// nothing was running.
	p.Exec(ctx, name, execTimeout, "pkill", "-f", path.Base(cfg.RemotePath))

	launch := fmt.Sprintf("%s > %s 2>&1", bridgeCommand(cfg), cfg.LogPath)
	res = p.runner.Run(ctx, execTimeout, dockerBin, "exec", "-d", name, "sh", "-c", launch)
	if !res.Ok() {
		return nil, &BridgeDegradedError{Name: name, Reason: "launch failed: " + strings.TrimSpace(res.Output())}
	}

	proc := &BridgeProcess{provider: p, name: name, remote: cfg.RemotePath, logPath: cfg.LogPath}
	if err := sleepCtx(ctx, cfg.VerifyDelay); err != nil {
		return nil, err
	}
	if !proc.Alive(ctx) {
		reason := "process not found after launch"
		if logs := strings.TrimSpace(proc.Logs(ctx)); logs != "" {
			reason += "; bridge logs: " + logs
		}
		return nil, &BridgeDegradedError{Name: name, Reason: reason}
	}

	log.Printf("Bridge running in %s on port %d", name, cfg.Port)
	return proc, nil
}

// bridgeCommand builds the launch line for the payload. Script payloads
// (legacy deployments) run under python3; the normal payload is this
// binary re-invoked in bridge mode.
func bridgeCommand(cfg BridgeConfig) string {
	if strings.HasSuffix(cfg.RemotePath, ".py") {
		return fmt.Sprintf("python3 %s -serial %s -port %d", cfg.RemotePath, cfg.Serial, cfg.Port)
	}
	return fmt.Sprintf("%s bridge -serial %s -port %d", cfg.RemotePath, cfg.Serial, cfg.Port)
}

// installRuntimeDeps installs the runtime dependency a script payload
// needs, trying each strategy in order; the first success wins. A binary
// payload has none, so this is a no-op for it. All strategies failing is
// a warning, not an error: the direct-execution fallback still works.
func (p *Provider) installRuntimeDeps(ctx context.Context, name, remotePath string) {
	if !strings.HasSuffix(remotePath, ".py") {
		return
	}
	strategies := [][]string{
		{"pip3", "install", "-q", "--break-system-packages", "websockets"},
		{"pip3", "install", "-q", "websockets"},
		{"pip", "install", "-q", "--break-system-packages", "websockets"},
	}
	for _, s := range strategies {
		if p.Exec(ctx, name, runTimeout, s...).Ok() {
			log.Printf("Bridge dependency installed via %s", strings.Join(s[:2], " "))
			return
		}
	}
	// Last resort: the system package manager.
	p.Exec(ctx, name, runTimeout, "apt-get", "update")
	if p.Exec(ctx, name, runTimeout, "apt-get", "install", "-y", "python3-websockets").Ok() {
		log.Printf("Bridge dependency installed via apt-get")
		return
	}
	log.Printf("Warning: could not install bridge dependency in %s; bridge may fail to start", name)
}
