package adb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"androidbox/shell"
)

// fakeRunner replays scripted results and records every invocation.
type fakeRunner struct {
	results []shell.Result
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) shell.Result {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.results) == 0 {
		return shell.Result{}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func TestTapCommand(t *testing.T) {
	cmd, err := Tap{X: 100, Y: 250}.Command()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shell", "input", "tap", "100", "250"}
	if diff := cmp.Diff(want, cmd); diff != "" {
		t.Errorf("tap command mismatch (-want +got):\n%s", diff)
	}
}

func TestTapRejectsNegativeCoordinates(t *testing.T) {
	if _, err := (Tap{X: -1, Y: 5}).Command(); err == nil {
		t.Error("negative x must be rejected")
	}
	if _, err := (Swipe{X1: 0, Y1: 0, X2: 10, Y2: -10}).Command(); err == nil {
		t.Error("negative swipe coordinate must be rejected")
	}
}

func TestSwipeDefaultDuration(t *testing.T) {
	cmd, err := Swipe{X1: 1, Y1: 2, X2: 3, Y2: 4}.Command()
	if err != nil {
		t.Fatal(err)
	}
	if cmd[len(cmd)-1] != "300" {
		t.Errorf("default duration = %s, want 300", cmd[len(cmd)-1])
	}
}

func TestTypeTextEscaping(t *testing.T) {
	cmd, err := TypeText{Text: `hello world`}.Command()
	if err != nil {
		t.Fatal(err)
	}
	arg := cmd[len(cmd)-1]
	if arg != "hello%sworld" {
		t.Errorf("escaped text = %q, want hello%%sworld", arg)
	}
	if strings.Contains(arg, " ") {
		t.Error("escaped text still contains a raw space")
	}

	arg = EscapeText(`it's "fine" & done`)
	for _, bad := range []string{` `, `'`, `"`} {
		for i := 0; i < len(arg); i++ {
			if string(arg[i]) == bad && (i == 0 || arg[i-1] != '\\') && bad != " " {
				t.Errorf("unescaped %q at %d in %q", bad, i, arg)
			}
		}
	}
	if strings.Contains(arg, " ") {
		t.Errorf("space survived escaping: %q", arg)
	}
	if !strings.Contains(arg, `\&`) {
		t.Errorf("ampersand not escaped: %q", arg)
	}
}

func TestPressKeyTranslatesNames(t *testing.T) {
	cmd, err := PressKey{Key: "Return"}.Command()
	if err != nil {
		t.Fatal(err)
	}
	if cmd[len(cmd)-1] != "66" {
		t.Errorf("Return keycode = %s, want 66", cmd[len(cmd)-1])
	}
	// Unknown names pass through for the device to reject.
	cmd, _ = PressKey{Key: "F13"}.Command()
	if cmd[len(cmd)-1] != "F13" {
		t.Errorf("unknown key = %s, want F13 passthrough", cmd[len(cmd)-1])
	}
}

func TestLaunchAppActivityVariants(t *testing.T) {
	cmd, err := LaunchApp{Package: "com.android.settings"}.Command()
	if err != nil {
		t.Fatal(err)
	}
	if cmd[2] != "monkey" {
		t.Errorf("package-only launch should use monkey, got %v", cmd)
	}

	cmd, err = LaunchApp{Package: "com.android.settings", Activity: ".Settings"}.Command()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shell", "am", "start", "-n", "com.android.settings/.Settings"}
	if diff := cmp.Diff(want, cmd); diff != "" {
		t.Errorf("activity launch mismatch (-want +got):\n%s", diff)
	}
}

func TestParseScreenSize(t *testing.T) {
	w, h, err := ParseScreenSize("Physical size: 1080x1920\n")
	if err != nil {
		t.Fatal(err)
	}
	if w != 1080 || h != 1920 {
		t.Errorf("size = %dx%d, want 1080x1920", w, h)
	}

	// Override wins over physical: it is the resolution actually shown.
	w, h, err = ParseScreenSize("Physical size: 1080x1920\nOverride size: 720x1280\n")
	if err != nil {
		t.Fatal(err)
	}
	if w != 720 || h != 1280 {
		t.Errorf("size = %dx%d, want override 720x1280", w, h)
	}

	if _, _, err = ParseScreenSize("error: no devices found"); err == nil {
		t.Error("garbage output must not parse")
	}
}

func TestParseDeviceList(t *testing.T) {
	out := "List of devices attached\nemulator-5554\tdevice\n192.168.1.4:5555\toffline\n\n"
	got := ParseDeviceList(out)
	want := map[string]string{
		"emulator-5554":    "device",
		"192.168.1.4:5555": "offline",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("device list mismatch (-want +got):\n%s", diff)
	}
}

func TestDoScansOutputForErrorMarkers(t *testing.T) {
	// Exit code zero but an error embedded in stdout: must not be success.
	f := &fakeRunner{results: []shell.Result{
		{Stdout: "Error: Activity not started, unknown package\n", ExitCode: 0},
	}}
	c := DirectClient(f, "emulator-5554")
	resp := c.Do(context.Background(), OpenURL{URL: "https://example.com"})
	if resp.Success {
		t.Error("embedded Error marker must fail the action despite exit 0")
	}
	if resp.Err == "" {
		t.Error("failed action must carry an error string")
	}
}

func TestDoClearDataRequiresSuccessMarker(t *testing.T) {
	f := &fakeRunner{results: []shell.Result{{Stdout: "Failed\n"}}}
	c := DirectClient(f, "emulator-5554")
	if resp := c.Do(context.Background(), ClearData{Package: "com.example"}); resp.Success {
		t.Error("clear_app_data without Success marker must fail")
	}

	f = &fakeRunner{results: []shell.Result{{Stdout: "Success\n"}}}
	c = DirectClient(f, "emulator-5554")
	if resp := c.Do(context.Background(), ClearData{Package: "com.example"}); !resp.Success {
		t.Errorf("clear_app_data with Success marker failed: %s", resp.Err)
	}
}

func TestDoAppInstalledSearchesPackageList(t *testing.T) {
	f := &fakeRunner{results: []shell.Result{
		{Stdout: "package:com.android.chrome\npackage:com.android.settings\n"},
	}}
	c := DirectClient(f, "emulator-5554")
	if resp := c.Do(context.Background(), AppInstalled{Package: "com.android.chrome"}); !resp.Success {
		t.Error("installed package not found in list")
	}

	f = &fakeRunner{results: []shell.Result{{Stdout: "package:com.android.settings\n"}}}
	c = DirectClient(f, "emulator-5554")
	if resp := c.Do(context.Background(), AppInstalled{Package: "com.android.chrome"}); resp.Success {
		t.Error("missing package reported installed")
	}
}

func TestDoScreenshotReturnsRawBytes(t *testing.T) {
	png := "\x89PNG\r\n\x1a\nrest"
	f := &fakeRunner{results: []shell.Result{{Stdout: png}}}
	c := DirectClient(f, "emulator-5554")
	resp := c.Do(context.Background(), Screenshot{})
	if !resp.Success {
		t.Fatalf("screenshot failed: %s", resp.Err)
	}
	if string(resp.Image) != png {
		t.Error("screenshot bytes mangled")
	}
	wantCall := []string{"adb", "-s", "emulator-5554", "exec-out", "screencap", "-p"}
	if diff := cmp.Diff(wantCall, f.calls[0]); diff != "" {
		t.Errorf("screenshot invocation mismatch (-want +got):\n%s", diff)
	}
}

func TestDoUnknownActionIsAcknowledged(t *testing.T) {
	f := &fakeRunner{}
	c := DirectClient(f, "emulator-5554")
	resp := c.Do(context.Background(), Unknown{Name: "hover"})
	if !resp.Success {
		t.Error("unknown action must be acknowledged, not failed")
	}
	if len(f.calls) != 0 {
		t.Error("unknown action must not reach the device")
	}
}

func TestDoVersionHandshake(t *testing.T) {
	c := DirectClient(&fakeRunner{}, "emulator-5554")
	resp := c.Do(context.Background(), Version{})
	if !resp.Success || resp.Action != "version" {
		t.Errorf("version handshake = %+v", resp)
	}
}

func TestDoNotificationsFallsBackToSwipe(t *testing.T) {
	f := &fakeRunner{results: []shell.Result{
		{Stdout: "Error: unknown command 'statusbar'\n"},
		{ExitCode: 0},
	}}
	c := DirectClient(f, "emulator-5554")
	resp := c.Do(context.Background(), Notifications{})
	if !resp.Success {
		t.Fatalf("fallback swipe failed: %s", resp.Err)
	}
	if resp.Action != "open_notifications" {
		t.Errorf("action = %s, want open_notifications", resp.Action)
	}
	if len(f.calls) != 2 {
		t.Fatalf("expected statusbar then swipe, got %d calls", len(f.calls))
	}
	if f.calls[1][3] != "input" || f.calls[1][4] != "swipe" {
		t.Errorf("second call is not a swipe: %v", f.calls[1])
	}
}

func TestShellCommandPassthrough(t *testing.T) {
	args, err := ShellCommand{Cmd: "ls /sdcard"}.Command()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shell", "ls /sdcard"}
	if len(args) != len(want) || args[0] != want[0] || args[1] != want[1] {
		t.Errorf("args = %v, want %v", args, want)
	}
	if _, err := (ShellCommand{}).Command(); err == nil {
		t.Error("empty shell command must be rejected")
	}
}
