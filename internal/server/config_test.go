package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps LoadConfig away from a stray .env in the package directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	for _, key := range []string{
		"DEVICE_TYPE", "DEVICE_PORT", "DEVICE_BAUD", "DEVICE_SETTLE_MS", "DEVICE_MARKERS",
		"FULL_WATER", "FULL_BEANS", "LISTEN_ADDR", "COMMAND_RATE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := isolate(t)

	cfg := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serial", cfg.Device.Type)
	assert.Equal(t, 9600, cfg.Device.BaudRate)
	assert.Equal(t, []string{"Arduino", "CH340"}, cfg.Device.Markers)
	assert.Equal(t, 3*time.Second, cfg.Device.Settle())
	assert.Equal(t, time.Second, cfg.Brewer.FollowUp())
	assert.Equal(t, map[string]int{"weak": 10, "medium": 20, "strong": 30}, cfg.Brewer.Costs)
	assert.Equal(t, ":5000", cfg.Server.ListenAddr)
	assert.Equal(t, "Зерна:", cfg.Protocol.BeansMarker)
}

func TestLoadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device:
  type: demo
  port_path: /dev/ttyACM1
  settle_ms: 500
protocol:
  beans_marker: "Beans:"
  water_marker: "Water:"
brewer:
  full_beans: 250
server:
  listen_addr: 127.0.0.1:8080
  metrics: false
`), 0644))

	cfg := LoadConfig(path)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "demo", cfg.Device.Type)
	assert.Equal(t, "/dev/ttyACM1", cfg.Device.PortPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.Settle())
	assert.Equal(t, 9600, cfg.Device.BaudRate, "unset keys keep defaults")
	assert.Equal(t, "Beans:", cfg.Protocol.BeansMarker)
	assert.Equal(t, 250, cfg.Brewer.FullBeans)
	assert.Equal(t, 3, cfg.Brewer.FullWater)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.Metrics)
	assert.Equal(t, path, cfg.Path())
}

func TestLoadConfigParseErrorFallsBack(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: [unterminated"), 0644))

	cfg := LoadConfig(path)
	assert.Equal(t, "serial", cfg.Device.Type)
	assert.Equal(t, path, cfg.Path())
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	t.Setenv("DEVICE_TYPE", "demo")
	t.Setenv("DEVICE_BAUD", "115200")
	t.Setenv("DEVICE_MARKERS", "Uno, ,CP210x")
	t.Setenv("FULL_WATER", "oops")
	t.Setenv("COMMAND_RATE", "0.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, "demo", cfg.Device.Type)
	assert.Equal(t, 115200, cfg.Device.BaudRate)
	assert.Equal(t, []string{"Uno", "CP210x"}, cfg.Device.Markers)
	assert.Equal(t, 3, cfg.Brewer.FullWater, "unparseable values are ignored")
	assert.Equal(t, 0.5, cfg.Server.CommandRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(`
# bridge overrides
DEVICE_PORT="/dev/ttyUSB3"
LISTEN_ADDR=:6000
LOG_FORMAT=text
`), 0644))
	t.Setenv("LISTEN_ADDR", ":7000")

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))
	assert.Equal(t, "/dev/ttyUSB3", cfg.Device.PortPath)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr, "real environment wins over .env")
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Type = "bluetooth"
	cfg.Device.BaudRate = 0
	cfg.Brewer.Costs = map[string]int{"weak": -1}
	cfg.Brewer.FullWater = 0
	cfg.Server.CommandRate = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown type "bluetooth"`,
		"baud_rate must be positive",
		`cost of "weak" must not be negative`,
		"full_water and full_beans must be positive",
		"command_rate must not be negative",
	} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = DefaultConfig()
	cfg.Device.Markers = nil
	assert.ErrorContains(t, cfg.Validate(), "markers or port_path required")
	cfg.Device.PortPath = "/dev/ttyACM0"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := LoadConfig(path)
	cfg.Device.Type = "demo"
	cfg.Brewer.Costs = map[string]int{"lungo": 25}
	require.NoError(t, cfg.Save())

	loaded := LoadConfig(path)
	assert.Equal(t, "demo", loaded.Device.Type)
	assert.Equal(t, 25, loaded.Brewer.Costs["lungo"])
}

func TestToJSON(t *testing.T) {
	data, err := DefaultConfig().ToJSON()
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "serial", got["device"]["type"])
	assert.Equal(t, ":5000", got["server"]["listenAddr"])
	assert.Equal(t, "Вода:", got["protocol"]["waterMarker"])
}
