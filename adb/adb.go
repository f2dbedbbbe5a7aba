package adb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"androidbox/models"
	"androidbox/shell"
)

// BridgeVersion is reported by the version handshake.
const BridgeVersion = "1.0.0"

const commandTimeout = 10 * time.Second

// Response is the normalized result of one action. The bridge serializes
// it onto the wire; the direct-execution fallback returns it as-is.
type Response struct {
	Success bool
	Action  string
	Status  string // "ok" for acknowledged no-op actions
	Output  string
	Image   []byte // raw PNG bytes for screenshot
	Width   int    // screen size
	Height  int
	Err     string
}

// Client executes translated actions through a command prefix. Inside the
// container the prefix is ["adb", "-s", serial]; on the host fallback path
// it is ["docker", "exec", name, "adb"]. Same translator either way.
type Client struct {
	runner shell.Runner
	prefix []string
}

func NewClient(runner shell.Runner, prefix ...string) *Client {
	return &Client{runner: runner, prefix: prefix}
}

// DirectClient targets the device through adb on the local host (used by
// the bridge, which runs beside the emulator).
func DirectClient(runner shell.Runner, serial string) *Client {
	return NewClient(runner, "adb", "-s", serial)
}

func (c *Client) run(ctx context.Context, args []string) shell.Result {
	full := append(append([]string{}, c.prefix[1:]...), args...)
	return c.runner.Run(ctx, commandTimeout, c.prefix[0], full...)
}

// Do executes one action and normalizes the result. Per-action failures
// are embedded in the Response, never returned as an error: the caller
// always gets exactly one Response per action.
func (c *Client) Do(ctx context.Context, a Action) Response {
	kind := a.Kind()

	switch a.(type) {
	case Version:
		return Response{Success: true, Action: "version"}
	case Unknown:
		// Forward compatibility: acknowledge and do nothing.
		return Response{Success: true, Action: kind, Status: "ok"}
	}

	args, err := a.Command()
	if err != nil {
		return Response{Action: kind, Err: err.Error()}
	}

	res := c.run(ctx, args)
	if res.Err != nil {
		return Response{Action: kind, Err: res.Err.Error()}
	}

	switch act := a.(type) {
	case Screenshot:
		if res.ExitCode != 0 || len(res.Stdout) == 0 {
			return Response{Action: kind, Err: "screenshot failed: " + strings.TrimSpace(res.Stderr)}
		}
		return Response{Success: true, Action: kind, Image: []byte(res.Stdout)}

	case ScreenSize:
		w, h, perr := ParseScreenSize(res.Stdout)
		if perr != nil {
			return Response{Action: kind, Err: perr.Error()}
		}
		return Response{Success: true, Action: kind, Width: w, Height: h}

	case AppInstalled:
		// pm list packages prints "package:<name>" per line.
		installed := strings.Contains(res.Stdout, act.Package)
		return Response{Success: installed, Action: kind, Output: res.Stdout}

	case Notifications:
		if outputHasError(kind, res.Output()) {
			// Older images lack the statusbar command; swipe the shade
			// down from the top edge instead.
			resp := c.Do(ctx, Swipe{X1: 500, Y1: 0, X2: 500, Y2: 1000, DurationMS: 300})
			resp.Action = kind
			return resp
		}
		return Response{Success: true, Action: kind}
	}

	if outputHasError(kind, res.Output()) {
		return Response{Action: kind, Output: res.Output(), Err: firstLine(res.Output())}
	}
	if req, ok := successMarkers[kind]; ok && !strings.Contains(res.Output(), req) {
		return Response{Action: kind, Output: res.Output(), Err: firstLine(res.Output())}
	}
	return Response{Success: true, Action: kind, Output: res.Stdout}
}

// The toolchain can exit zero while printing an error, so success is
// decided by scanning output for known failure markers, not by exit code.
var errorMarkers = map[string][]string{
	"open_app": {"Error", "Exception"},
	"open_url": {"Error", "Exception"},
}

var defaultErrorMarkers = []string{"Error"}

// Actions whose success is signaled positively rather than by absence of
// an error marker.
var successMarkers = map[string]string{
	"clear_app_data": "Success",
}

func outputHasError(kind, output string) bool {
	markers, ok := errorMarkers[kind]
	if !ok {
		markers = defaultErrorMarkers
	}
	for _, m := range markers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ParseScreenSize extracts WIDTHxHEIGHT from `wm size` output. When a
// window-manager override is set that is the resolution actually shown,
// so it wins over the physical size.
func ParseScreenSize(output string) (int, int, error) {
	var physical, override string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Physical size:"):
			physical = strings.TrimSpace(strings.TrimPrefix(line, "Physical size:"))
		case strings.HasPrefix(line, "Override size:"):
			override = strings.TrimSpace(strings.TrimPrefix(line, "Override size:"))
		}
	}
	size := override
	if size == "" {
		size = physical
	}
	if size == "" {
		return 0, 0, fmt.Errorf("no size in wm output: %q", firstLine(output))
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("malformed size %q", size)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed width in %q", size)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed height in %q", size)
	}
	return width, height, nil
}

// Devices runs `adb devices` through the client's prefix and returns
// serial -> status token for every attached device.
func (c *Client) Devices(ctx context.Context) (map[string]string, shell.Result) {
	res := c.run(ctx, []string{"devices"})
	return ParseDeviceList(res.Stdout), res
}

// ParseDeviceList parses `adb devices` output. The first line is a header;
// each following line is "<serial>\t<status>".
func ParseDeviceList(output string) map[string]string {
	devices := make(map[string]string)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices[fields[0]] = fields[1]
	}
	return devices
}

// Properties reads back the device info surfaced in the management API:
// Android version, resolution and battery level. Each read is best-effort.
func (c *Client) Properties(ctx context.Context, serial string) models.DeviceInfo {
	info := models.DeviceInfo{Serial: serial}
	if res := c.run(ctx, []string{"shell", "getprop", "ro.build.version.release"}); res.Ok() {
		info.AndroidVersion = strings.TrimSpace(res.Stdout)
	}
	if res := c.run(ctx, []string{"shell", "wm", "size"}); res.Ok() {
		if w, h, err := ParseScreenSize(res.Stdout); err == nil {
			info.Resolution = fmt.Sprintf("%dx%d", w, h)
		}
	}
	if res := c.run(ctx, []string{"shell", "dumpsys", "battery"}); res.Ok() {
		for _, line := range strings.Split(res.Stdout, "\n") {
			if strings.Contains(line, "level:") {
				if _, v, ok := strings.Cut(line, ":"); ok {
					if level, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
						info.Battery = level
					}
				}
				break
			}
		}
	}
	return info
}

// BootCompleted reports whether the device claims boot finished. The flag
// is advisory: emulator images have been seen interactive without ever
// setting it, so callers must not block on a false return.
func (c *Client) BootCompleted(ctx context.Context) bool {
	res := c.run(ctx, []string{"shell", "getprop", "sys.boot_completed"})
	return res.Ok() && strings.Contains(res.Stdout, "1")
}
