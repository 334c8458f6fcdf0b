package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/brewbridge/internal/logger"
	"github.com/shaunagostinho/brewbridge/internal/protocol"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/brewbridge/config.yaml"

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	// Serial link to the brewer
	Device DeviceConfig `yaml:"device" json:"device"`

	// Firmware wording
	Protocol protocol.Phrases `yaml:"protocol" json:"protocol"`

	// Levels, costs and command pacing
	Brewer BrewerConfig `yaml:"brewer" json:"brewer"`

	// Process logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	// HTTP
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type DeviceConfig struct {
	Type          string   `yaml:"type" json:"type"`                     // "serial" or "demo"
	PortPath      string   `yaml:"port_path" json:"portPath"`            // Fixed port; empty means auto-detect
	BaudRate      int      `yaml:"baud_rate" json:"baudRate"`            // 9600 for the stock firmware
	Markers       []string `yaml:"markers" json:"markers"`               // Product description substrings
	SettleMs      int      `yaml:"settle_ms" json:"settleMs"`            // Wait after open for board reset
	ReadTimeoutMs int      `yaml:"read_timeout_ms" json:"readTimeoutMs"` // Bound of one read call
	ReconnectMs   int      `yaml:"reconnect_ms" json:"reconnectMs"`      // Backoff between attempts
	IdleMs        int      `yaml:"idle_ms" json:"idleMs"`                // Pause when no data is pending
	DemoBrewMs    int      `yaml:"demo_brew_ms" json:"demoBrewMs"`       // Simulated brew time
}

type BrewerConfig struct {
	FullWater   int            `yaml:"full_water" json:"fullWater"`     // Level after a water refill
	FullBeans   int            `yaml:"full_beans" json:"fullBeans"`     // Level after a beans refill
	Costs       map[string]int `yaml:"costs" json:"costs"`              // Bean cost per coffee type
	FollowUpMs  int            `yaml:"follow_up_ms" json:"followUpMs"`  // Delay before automatic status poll
	LogCapacity int            `yaml:"log_capacity" json:"logCapacity"` // Recent-log ring size
}

type ServerConfig struct {
	ListenAddr   string  `yaml:"listen_addr" json:"listenAddr"`
	CommandRate  float64 `yaml:"command_rate" json:"commandRate"`   // Commands per second, 0 disables limiting
	CommandBurst int     `yaml:"command_burst" json:"commandBurst"` // Burst allowance
	PushMs       int     `yaml:"push_ms" json:"pushMs"`             // WebSocket change check interval
	Metrics      bool    `yaml:"metrics" json:"metrics"`            // Expose /metrics
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:          "serial",
			BaudRate:      9600,
			Markers:       []string{"Arduino", "CH340"},
			SettleMs:      3000,
			ReadTimeoutMs: 100,
			ReconnectMs:   1000,
			IdleMs:        50,
			DemoBrewMs:    3000,
		},
		Protocol: protocol.DefaultPhrases(),
		Brewer: BrewerConfig{
			FullWater:   3,
			FullBeans:   100,
			Costs:       map[string]int{"weak": 10, "medium": 20, "strong": 30},
			FollowUpMs:  1000,
			LogCapacity: 20,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			ListenAddr:   ":5000",
			CommandRate:  2,
			CommandBurst: 4,
			PushMs:       250,
			Metrics:      true,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no config file, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config parse error, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("path", path).Msg("config loaded")
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Info().Str("path", path).Msg("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: DEVICE_TYPE, DEVICE_PORT, DEVICE_BAUD, DEVICE_SETTLE_MS,
// DEVICE_MARKERS, FULL_WATER, FULL_BEANS, LISTEN_ADDR, COMMAND_RATE,
// LOG_LEVEL, LOG_FORMAT
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEVICE_TYPE"); v != "" {
		c.Device.Type = v
	}
	if v := os.Getenv("DEVICE_PORT"); v != "" {
		c.Device.PortPath = v
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt("DEVICE_BAUD", &c.Device.BaudRate)
	setInt("DEVICE_SETTLE_MS", &c.Device.SettleMs)
	setInt("FULL_WATER", &c.Brewer.FullWater)
	setInt("FULL_BEANS", &c.Brewer.FullBeans)
	if v := os.Getenv("DEVICE_MARKERS"); v != "" {
		var markers []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				markers = append(markers, m)
			}
		}
		c.Device.Markers = markers
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("COMMAND_RATE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Server.CommandRate = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate reports settings the bridge cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	switch c.Device.Type {
	case "serial":
		if c.Device.PortPath == "" && len(c.Device.Markers) == 0 {
			errs = append(errs, errors.New("device: markers or port_path required for serial mode"))
		}
	case "demo":
	default:
		errs = append(errs, fmt.Errorf("device: unknown type %q", c.Device.Type))
	}
	if c.Device.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("device: baud_rate must be positive, got %d", c.Device.BaudRate))
	}
	if c.Device.SettleMs < 0 {
		errs = append(errs, fmt.Errorf("device: settle_ms must not be negative"))
	}
	if len(c.Brewer.Costs) == 0 {
		errs = append(errs, errors.New("brewer: costs must not be empty"))
	}
	for name, cost := range c.Brewer.Costs {
		if cost < 0 {
			errs = append(errs, fmt.Errorf("brewer: cost of %q must not be negative", name))
		}
	}
	if c.Brewer.FullWater <= 0 || c.Brewer.FullBeans <= 0 {
		errs = append(errs, errors.New("brewer: full_water and full_beans must be positive"))
	}
	if c.Server.CommandRate < 0 {
		errs = append(errs, errors.New("server: command_rate must not be negative"))
	}
	return errors.Join(errs...)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if c.path == "" {
		c.path = DefaultConfigPath
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// YAML serializes the config.
func (c *Config) YAML() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return yaml.Marshal(c)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Settle is the post-open wait.
func (d DeviceConfig) Settle() time.Duration { return ms(d.SettleMs) }

// ReadTimeout bounds one serial read.
func (d DeviceConfig) ReadTimeout() time.Duration { return ms(d.ReadTimeoutMs) }

// Reconnect is the backoff between connection attempts.
func (d DeviceConfig) Reconnect() time.Duration { return ms(d.ReconnectMs) }

// Idle is the pause when no line is pending.
func (d DeviceConfig) Idle() time.Duration { return ms(d.IdleMs) }

// DemoBrew is the simulated brew duration.
func (d DeviceConfig) DemoBrew() time.Duration { return ms(d.DemoBrewMs) }

// FollowUp is the delay before the automatic status poll.
func (b BrewerConfig) FollowUp() time.Duration { return ms(b.FollowUpMs) }

// Push is the WebSocket change check interval.
func (s ServerConfig) Push() time.Duration { return ms(s.PushMs) }
