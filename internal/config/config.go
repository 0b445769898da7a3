// Package config loads the device configuration from the environment and
// the vehicle settings file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"eco-drive-assistant/internal/gsi"
	"eco-drive-assistant/internal/models"
)

// OBD connection modes.
const (
	ModeSerial   = "serial"
	ModeEmulated = "emulated"
	ModeReplay   = "replay"
)

type Config struct {
	// Storage
	DBPath        string
	MigrationsDir string

	// Remote API
	APIURL   string
	APIToken string

	// Speed limits
	MapboxAccessToken string
	MapboxURL         string

	// Display
	MQTTBroker       string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTTopicDisplay string

	// Vehicle connection
	OBDMode         string
	OBDPort         string
	OBDBaud         int
	OBDEmulatorAddr string
	OBDReplayFile   string

	// Files
	SettingsFile string
	GPSFile      string

	// Local API
	ListenAddr string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		DBPath:        getEnv("DEVICE_DB", "eco-drive.db"),
		MigrationsDir: getEnv("DEVICE_MIGRATIONS", ""),

		APIURL:   getEnv("DEVICE_API_URL", ""),
		APIToken: getEnv("DEVICE_API_TOKEN", ""),

		MapboxAccessToken: getEnv("MAPBOX_ACCESS_TOKEN", ""),
		MapboxURL:         getEnv("MAPBOX_URL", ""),

		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "eco-drive-assistant"),
		MQTTUsername:     getEnv("MQTT_USERNAME", ""),
		MQTTPassword:     getEnv("MQTT_PASSWORD", ""),
		MQTTTopicDisplay: getEnv("MQTT_TOPIC_DISPLAY", "eco-drive/display"),

		OBDMode:         getEnv("OBD_MODE", ModeEmulated),
		OBDPort:         getEnv("OBD_PORT", "/dev/ttyUSB0"),
		OBDBaud:         getEnvInt("OBD_BAUD", 38400),
		OBDEmulatorAddr: getEnv("OBD_EMULATOR_ADDR", "localhost:8165"),
		OBDReplayFile:   getEnv("OBD_REPLAY_FILE", ""),

		SettingsFile: getEnv("SETTINGS_FILE", "settings.yaml"),
		GPSFile:      getEnv("GPS_FILE", "gps.yaml"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.OBDMode {
	case ModeSerial:
		if c.OBDPort == "" {
			return fmt.Errorf("OBD_PORT is required in %s mode", c.OBDMode)
		}
	case ModeEmulated:
		if c.OBDEmulatorAddr == "" {
			return fmt.Errorf("OBD_EMULATOR_ADDR is required in %s mode", c.OBDMode)
		}
	case ModeReplay:
		if c.OBDReplayFile == "" {
			return fmt.Errorf("OBD_REPLAY_FILE is required in %s mode", c.OBDMode)
		}
	default:
		return fmt.Errorf("unknown OBD_MODE %q: expected %s, %s or %s", c.OBDMode, ModeSerial, ModeEmulated, ModeReplay)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DEVICE_DB is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

// Indicator tunes the gear-shift indicator.
type Indicator struct {
	Half       int     `yaml:"half"`
	MinRPMDiff float64 `yaml:"minRPMDiff"`
}

// Settings is the vehicle settings file.
type Settings struct {
	VehicleSpecs models.VehicleProfile `yaml:"vehicleSpecs"`
	Indicator    Indicator             `yaml:"indicator"`
	Load         models.TripContext    `yaml:"load"`
}

// GSIConfig returns the indicator configuration with defaults applied.
func (s *Settings) GSIConfig() gsi.Config {
	cfg := gsi.DefaultConfig()
	if s.Indicator.Half > 0 {
		cfg.Half = s.Indicator.Half
	}
	if s.Indicator.MinRPMDiff > 0 {
		cfg.MinRPMDiff = s.Indicator.MinRPMDiff
	}
	return cfg
}

// LoadSettings reads and validates a settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes and validates settings YAML.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the vehicle description is physically usable.
func (s *Settings) Validate() error {
	v := s.VehicleSpecs
	if v.CurbWeight <= 0 {
		return fmt.Errorf("vehicleSpecs.curbWeight must be positive")
	}
	if v.FrontalArea <= 0 || v.DragCoeff <= 0 {
		return fmt.Errorf("vehicleSpecs.frontalArea and dragCoeff must be positive")
	}
	if v.GearCount < 1 {
		return fmt.Errorf("vehicleSpecs.gearCount must be at least 1")
	}
	if len(v.Gears) != v.GearCount+1 {
		return fmt.Errorf("vehicleSpecs.gears has %d ratios, want gearCount+1 = %d", len(v.Gears), v.GearCount+1)
	}
	for i, g := range v.Gears {
		if g <= 0 {
			return fmt.Errorf("vehicleSpecs.gears[%d] must be positive", i)
		}
	}
	if s.Indicator.Half == 1 {
		return fmt.Errorf("indicator.half must be at least 2")
	}
	if s.Load.Passengers < 0 || s.Load.Cargo < 0 {
		return fmt.Errorf("load passengers and cargo cannot be negative")
	}
	return nil
}
