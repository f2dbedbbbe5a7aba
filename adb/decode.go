package adb

import (
	"encoding/json"
	"strconv"
)

// Decode converts one wire request into its typed action. The wire format
// has accumulated several client dialects: the action identifier may arrive
// as "command", "action" or "type"; parameters may sit in a "params" map or
// at the top level; coordinates may arrive as x/y, a coordinate array, or
// start_/from_/end_/to_ pairs. All of them are accepted here and converted
// to the typed form immediately, so nothing past this function sees the
// loose shape.
func Decode(raw []byte) (Action, error) {
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return DecodeMap(msg), nil
}

// DecodeMap decodes an already-unmarshaled request map.
func DecodeMap(msg map[string]interface{}) Action {
	p := params{msg: msg}
	if nested, ok := msg["params"].(map[string]interface{}); ok {
		p.nested = nested
	}

	name, _ := firstString(msg, "command", "action", "type")
	switch name {
	case "screenshot", "take_screenshot":
		return Screenshot{}

	case "click", "left_click", "tap":
		x, y := p.coordinate()
		return Tap{X: x, Y: y}

	case "type", "type_text", "input":
		text, _ := p.str("text")
		return TypeText{Text: text}

	case "key":
		if key, ok := p.str("key"); ok {
			return PressKey{Key: key}
		}
		code, _ := p.integer("keycode")
		return SendKey{Keycode: code}

	case "keyevent", "send_key":
		code, _ := p.integer("keycode")
		return SendKey{Keycode: code}

	case "drag", "swipe":
		x1, _ := p.firstInt("x1", "start_x", "from_x")
		y1, _ := p.firstInt("y1", "start_y", "from_y")
		x2, _ := p.firstInt("x2", "end_x", "to_x")
		y2, _ := p.firstInt("y2", "end_y", "to_y")
		d, ok := p.firstInt("duration", "duration_ms")
		if !ok {
			d = 300
		}
		return Swipe{X1: x1, Y1: y1, X2: x2, Y2: y2, DurationMS: d}

	case "get_screen_size", "screen_size":
		return ScreenSize{}

	case "home":
		return Home{}
	case "back":
		return Back{}
	case "recents", "recent_apps":
		return Recents{}
	case "open_notifications", "notifications":
		return Notifications{}
	case "open_quick_settings", "quick_settings":
		return QuickSettings{}

	case "open_app", "launch_app":
		pkg, _ := p.firstStr("package", "package_name")
		activity, _ := p.str("activity")
		return LaunchApp{Package: pkg, Activity: activity}

	case "open_url":
		url, _ := p.str("url")
		return OpenURL{URL: url}

	case "is_app_installed", "app_installed":
		pkg, _ := p.firstStr("package", "package_name")
		return AppInstalled{Package: pkg}

	case "force_stop", "kill_app":
		pkg, _ := p.firstStr("package", "package_name")
		return ForceStop{Package: pkg}

	case "clear_app_data", "clear_data":
		pkg, _ := p.firstStr("package", "package_name")
		return ClearData{Package: pkg}

	case "shell", "run_command":
		// "command" names the action at the top level, so the raw line is
		// only looked up under its other names there.
		cmd, ok := p.firstStr("cmd", "shell_command")
		if !ok {
			cmd, _ = p.nested["command"].(string)
		}
		return ShellCommand{Cmd: cmd}

	case "version":
		return Version{}
	}

	return Unknown{Name: name}
}

// params looks values up in the nested params map first, then at the top
// level, covering both request dialects.
type params struct {
	msg    map[string]interface{}
	nested map[string]interface{}
}

func (p params) lookup(key string) (interface{}, bool) {
	if p.nested != nil {
		if v, ok := p.nested[key]; ok {
			return v, true
		}
	}
	v, ok := p.msg[key]
	return v, ok
}

func (p params) str(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p params) firstStr(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := p.str(k); ok {
			return s, true
		}
	}
	return "", false
}

func (p params) integer(key string) (int, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func (p params) firstInt(keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := p.integer(k); ok {
			return n, true
		}
	}
	return 0, false
}

// coordinate resolves x/y from named keys or the legacy coordinate array.
func (p params) coordinate() (int, int) {
	x, okX := p.integer("x")
	y, okY := p.integer("y")
	if okX && okY {
		return x, y
	}
	if v, ok := p.lookup("coordinate"); ok {
		if arr, ok := v.([]interface{}); ok && len(arr) >= 2 {
			cx, _ := toInt(arr[0])
			cy, _ := toInt(arr[1])
			return cx, cy
		}
	}
	return x, y
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func firstString(msg map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := msg[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
