package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects the host daemon's tunables. Everything comes from the
// environment with defaults matching the stock emulator image.
type Config struct {
	ListenAddr    string
	DataDir       string
	DefaultImage  string
	DeviceProfile string
	BridgeBinary  string // empty means deploy this binary itself
	BootTimeout   time.Duration

	// Default host ports for new device specs that leave them unset.
	ControlPort   int
	DisplayPort   int
	TransportPort int
	ConsolePort   int
	VNCPort       int
}

func Load() Config {
	return Config{
		ListenAddr:    getEnv("ANDROIDBOX_LISTEN", ":8080"),
		DataDir:       getEnv("ANDROIDBOX_DATA_DIR", "./data"),
		DefaultImage:  getEnv("ANDROIDBOX_IMAGE", "budtmo/docker-android:emulator_11.0"),
		DeviceProfile: getEnv("ANDROIDBOX_DEVICE_PROFILE", "Samsung Galaxy S10"),
		BridgeBinary:  getEnv("ANDROIDBOX_BRIDGE_BINARY", ""),
		BootTimeout:   getDuration("ANDROIDBOX_BOOT_TIMEOUT", 120*time.Second),
		ControlPort:   getInt("ANDROIDBOX_CONTROL_PORT", 8000),
		DisplayPort:   getInt("ANDROIDBOX_DISPLAY_PORT", 6080),
		TransportPort: getInt("ANDROIDBOX_TRANSPORT_PORT", 5555),
		ConsolePort:   getInt("ANDROIDBOX_CONSOLE_PORT", 5554),
		VNCPort:       getInt("ANDROIDBOX_VNC_PORT", 5900),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
