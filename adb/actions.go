package adb

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is one abstract UI action, already decoded into its typed form.
// Command returns the adb argument list (everything after the adb binary
// and device selector) that performs the action.
type Action interface {
	Kind() string
	Command() ([]string, error)
}

// Named key -> Android keycode, for clients that send key names instead
// of raw keycodes.
var keycodeByName = map[string]int{
	"Return":    66,
	"Enter":     66,
	"BackSpace": 67,
	"Delete":    67,
	"Tab":       61,
	"Escape":    111,
	"Home":      3,
	"Back":      4,
}

func nonNegative(vals ...int) error {
	for _, v := range vals {
		if v < 0 {
			return fmt.Errorf("coordinate %d is negative", v)
		}
	}
	return nil
}

type Tap struct {
	X, Y int
}

func (Tap) Kind() string { return "tap" }

func (a Tap) Command() ([]string, error) {
	if err := nonNegative(a.X, a.Y); err != nil {
		return nil, err
	}
	return []string{"shell", "input", "tap", strconv.Itoa(a.X), strconv.Itoa(a.Y)}, nil
}

type Swipe struct {
	X1, Y1, X2, Y2 int
	DurationMS     int
}

func (Swipe) Kind() string { return "swipe" }

func (a Swipe) Command() ([]string, error) {
	if err := nonNegative(a.X1, a.Y1, a.X2, a.Y2, a.DurationMS); err != nil {
		return nil, err
	}
	d := a.DurationMS
	if d == 0 {
		d = 300
	}
	return []string{"shell", "input", "swipe",
		strconv.Itoa(a.X1), strconv.Itoa(a.Y1),
		strconv.Itoa(a.X2), strconv.Itoa(a.Y2),
		strconv.Itoa(d)}, nil
}

type TypeText struct {
	Text string
}

func (TypeText) Kind() string { return "type" }

func (a TypeText) Command() ([]string, error) {
	return []string{"shell", "input", "text", EscapeText(a.Text)}, nil
}

// EscapeText prepares text for `input text`: spaces become the %s token the
// input tool expects, and shell-sensitive characters are backslash-escaped.
// Malformed input is never rejected, only escaped.
func EscapeText(text string) string {
	escaped := strings.ReplaceAll(text, " ", "%s")
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "&", `\&`)
	return escaped
}

// SendKey sends a raw Android keycode.
type SendKey struct {
	Keycode int
}

func (SendKey) Kind() string { return "key" }

func (a SendKey) Command() ([]string, error) {
	if err := nonNegative(a.Keycode); err != nil {
		return nil, err
	}
	return []string{"shell", "input", "keyevent", strconv.Itoa(a.Keycode)}, nil
}

// PressKey sends a key by name ("Return", "BackSpace", ...). Unknown names
// pass through untranslated, matching the historical client behavior of
// letting the device reject them.
type PressKey struct {
	Key string
}

func (PressKey) Kind() string { return "key" }

func (a PressKey) Command() ([]string, error) {
	code := a.Key
	if kc, ok := keycodeByName[a.Key]; ok {
		code = strconv.Itoa(kc)
	}
	return []string{"shell", "input", "keyevent", code}, nil
}

type Screenshot struct{}

func (Screenshot) Kind() string { return "screenshot" }

func (Screenshot) Command() ([]string, error) {
	return []string{"exec-out", "screencap", "-p"}, nil
}

type ScreenSize struct{}

func (ScreenSize) Kind() string { return "get_screen_size" }

func (ScreenSize) Command() ([]string, error) {
	return []string{"shell", "wm", "size"}, nil
}

type Home struct{}

func (Home) Kind() string { return "home" }

func (Home) Command() ([]string, error) {
	return []string{"shell", "input", "keyevent", "3"}, nil
}

type Back struct{}

func (Back) Kind() string { return "back" }

func (Back) Command() ([]string, error) {
	return []string{"shell", "input", "keyevent", "4"}, nil
}

type Recents struct{}

func (Recents) Kind() string { return "recents" }

func (Recents) Command() ([]string, error) {
	return []string{"shell", "input", "keyevent", "187"}, nil
}

type Notifications struct{}

func (Notifications) Kind() string { return "open_notifications" }

func (Notifications) Command() ([]string, error) {
	return []string{"shell", "cmd", "statusbar", "expand-notifications"}, nil
}

type QuickSettings struct{}

func (QuickSettings) Kind() string { return "open_quick_settings" }

func (QuickSettings) Command() ([]string, error) {
	return []string{"shell", "cmd", "statusbar", "expand-settings"}, nil
}

// LaunchApp starts an app. With an explicit activity it uses `am start -n`;
// otherwise the monkey launcher picks the main activity.
type LaunchApp struct {
	Package  string
	Activity string
}

func (LaunchApp) Kind() string { return "open_app" }

func (a LaunchApp) Command() ([]string, error) {
	if a.Package == "" {
		return nil, fmt.Errorf("open_app requires a package name")
	}
	if a.Activity != "" {
		return []string{"shell", "am", "start", "-n", a.Package + "/" + a.Activity}, nil
	}
	return []string{"shell", "monkey", "-p", a.Package, "-c", "android.intent.category.LAUNCHER", "1"}, nil
}

type OpenURL struct {
	URL string
}

func (OpenURL) Kind() string { return "open_url" }

func (a OpenURL) Command() ([]string, error) {
	if a.URL == "" {
		return nil, fmt.Errorf("open_url requires a url")
	}
	return []string{"shell", "am", "start", "-a", "android.intent.action.VIEW", "-d", a.URL}, nil
}

type AppInstalled struct {
	Package string
}

func (AppInstalled) Kind() string { return "is_app_installed" }

func (a AppInstalled) Command() ([]string, error) {
	if a.Package == "" {
		return nil, fmt.Errorf("is_app_installed requires a package name")
	}
	return []string{"shell", "pm", "list", "packages"}, nil
}

type ForceStop struct {
	Package string
}

func (ForceStop) Kind() string { return "force_stop" }

func (a ForceStop) Command() ([]string, error) {
	if a.Package == "" {
		return nil, fmt.Errorf("force_stop requires a package name")
	}
	return []string{"shell", "am", "force-stop", a.Package}, nil
}

type ClearData struct {
	Package string
}

func (ClearData) Kind() string { return "clear_app_data" }

func (a ClearData) Command() ([]string, error) {
	if a.Package == "" {
		return nil, fmt.Errorf("clear_app_data requires a package name")
	}
	return []string{"shell", "pm", "clear", a.Package}, nil
}

// ShellCommand is the raw passthrough: one shell line run on the device
// as-is. The caller is trusted; this surface exists for automation that
// needs something no typed action covers.
type ShellCommand struct {
	Cmd string
}

func (ShellCommand) Kind() string { return "shell" }

func (a ShellCommand) Command() ([]string, error) {
	if strings.TrimSpace(a.Cmd) == "" {
		return nil, fmt.Errorf("shell requires a command")
	}
	return []string{"shell", a.Cmd}, nil
}

// Version is the liveness/handshake probe. It never reaches the device.
type Version struct{}

func (Version) Kind() string { return "version" }

func (Version) Command() ([]string, error) { return nil, nil }

// Unknown is any action identifier we do not recognize. It is acknowledged
// with a no-op "ok" so newer clients keep working against older bridges.
type Unknown struct {
	Name string
}

func (a Unknown) Kind() string { return a.Name }

func (Unknown) Command() ([]string, error) { return nil, nil }
