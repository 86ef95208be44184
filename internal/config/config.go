package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Defaults matching the historical constants of the service.
const (
	DefaultPort           = 3000
	DefaultSensorType     = 22 // DHT22
	DefaultSensorPin      = 2  // BCM
	DefaultCameraBinary   = "rpicam-still"
	DefaultTmpDir         = "/tmp"
	DefaultIntervalMs     = 60000
	DefaultOutputPath     = "/tmp/latest.jpg"
	DefaultPublicDir      = "public"
	DefaultStorePath      = "json/db.sqlite"
	DefaultMQTTTopic      = "agrimon/sensor"
	DefaultMQTTClientID   = "agrimon"
	DefaultRateLimitBurst = 5
)

// Preset names used by the HTTP API and the periodic scheduler.
const (
	PresetDefault  = "default"
	PresetFast     = "fast"
	PresetPeriodic = "periodic"
)

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port           int     `yaml:"port"`
	PublicDir      string  `yaml:"public_dir"`       // served under /public
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // per client; 0 = disabled
	RateLimitBurst int     `yaml:"rate_limit_burst"` // bucket size when rate limiting is on
}

// SensorConfig describes the DHT sensor wiring.
type SensorConfig struct {
	Type int  `yaml:"type"` // 11 or 22
	Pin  *int `yaml:"pin"`  // BCM pin number; nil = DefaultSensorPin
}

// PresetConfig is one argument set for the still-capture utility.
type PresetConfig struct {
	Quality   int  `yaml:"quality"`    // JPEG quality 1-100
	TimeoutMs int  `yaml:"timeout_ms"` // passed as --timeout
	Width     int  `yaml:"width"`
	Height    int  `yaml:"height"`
	NoPreview bool `yaml:"nopreview"`
	Immediate bool `yaml:"immediate"`
}

// CameraConfig describes how to drive the still-capture utility.
type CameraConfig struct {
	Binary  string                  `yaml:"binary"`  // e.g., "rpicam-still"
	TmpDir  string                  `yaml:"tmp_dir"` // per-request photos land here
	Warmup  *bool                   `yaml:"warmup"`  // take a throwaway shot at startup (default true)
	Presets map[string]PresetConfig `yaml:"presets"`
}

// PeriodicConfig drives the periodic capture scheduler.
type PeriodicConfig struct {
	Enabled    *bool  `yaml:"enabled"` // default true
	IntervalMs int    `yaml:"interval_ms"`
	OutputPath string `yaml:"output_path"` // latest periodic photo
}

// TelemetryConfig drives periodic sensor sampling.
type TelemetryConfig struct {
	IntervalMs   int    `yaml:"interval_ms"`    // 0 = disabled
	MQTTBroker   string `yaml:"mqtt_broker"`    // e.g. tcp://localhost:1883; empty = log only
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
}

// StoreConfig describes the JSON document store backing /data.
type StoreConfig struct {
	Enabled *bool  `yaml:"enabled"` // default true
	Path    string `yaml:"path"`    // sqlite file
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO and a fake sensor (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Camera    CameraConfig    `yaml:"camera"`
	Periodic  PeriodicConfig  `yaml:"periodic"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Store     StoreConfig     `yaml:"store"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// DefaultPresets returns the built-in capture argument presets.
func DefaultPresets() map[string]PresetConfig {
	return map[string]PresetConfig{
		PresetDefault:  {Quality: 90, TimeoutMs: 1000, Width: 1920, Height: 1080, NoPreview: true},
		PresetFast:     {Quality: 75, TimeoutMs: 100, Width: 1280, Height: 720, NoPreview: true, Immediate: true},
		PresetPeriodic: {Quality: 85, TimeoutMs: 2000, Width: 1920, Height: 1080, NoPreview: true},
	}
}

// ValidateConfigPath rejects paths that are empty, not .yaml, or not
// located directly inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path must end in .yaml: %q", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built only from defaults.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.PublicDir == "" {
		c.Server.PublicDir = DefaultPublicDir
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = DefaultRateLimitBurst
	}

	if c.Sensor.Type == 0 {
		c.Sensor.Type = DefaultSensorType
	}
	if c.Sensor.Pin == nil {
		c.Sensor.Pin = intPtr(DefaultSensorPin)
	}

	if c.Camera.Binary == "" {
		c.Camera.Binary = DefaultCameraBinary
	}
	if c.Camera.TmpDir == "" {
		c.Camera.TmpDir = DefaultTmpDir
	}
	if c.Camera.Warmup == nil {
		c.Camera.Warmup = boolPtr(true)
	}
	// Presets missing from the file fall back to the built-in ones.
	if c.Camera.Presets == nil {
		c.Camera.Presets = make(map[string]PresetConfig)
	}
	for name, p := range DefaultPresets() {
		if _, ok := c.Camera.Presets[name]; !ok {
			c.Camera.Presets[name] = p
		}
	}

	if c.Periodic.Enabled == nil {
		c.Periodic.Enabled = boolPtr(true)
	}
	if c.Periodic.IntervalMs <= 0 {
		c.Periodic.IntervalMs = DefaultIntervalMs
	}
	if c.Periodic.OutputPath == "" {
		c.Periodic.OutputPath = DefaultOutputPath
	}

	if c.Telemetry.MQTTTopic == "" {
		c.Telemetry.MQTTTopic = DefaultMQTTTopic
	}
	if c.Telemetry.MQTTClientID == "" {
		c.Telemetry.MQTTClientID = DefaultMQTTClientID
	}

	if c.Store.Enabled == nil {
		c.Store.Enabled = boolPtr(true)
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0, got %.2f", c.Server.RateLimitRPS)
	}
	if c.Sensor.Type != 11 && c.Sensor.Type != 22 {
		return fmt.Errorf("sensor.type must be 11 or 22, got %d", c.Sensor.Type)
	}
	if pin := c.SensorPin(); pin < 0 || pin > 27 {
		return fmt.Errorf("sensor.pin must be a BCM pin 0-27, got %d", pin)
	}
	for name, p := range c.Camera.Presets {
		if p.Quality < 1 || p.Quality > 100 {
			return fmt.Errorf("camera.presets.%s.quality must be 1-100, got %d", name, p.Quality)
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("camera.presets.%s.timeout_ms must be >= 0, got %d", name, p.TimeoutMs)
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("camera.presets.%s: width and height must be > 0", name)
		}
	}
	if c.Telemetry.IntervalMs < 0 {
		return fmt.Errorf("telemetry.interval_ms must be >= 0, got %d", c.Telemetry.IntervalMs)
	}
	if c.Telemetry.MQTTBroker != "" && !strings.Contains(c.Telemetry.MQTTBroker, "://") {
		return fmt.Errorf("telemetry.mqtt_broker must be a URL like tcp://host:1883, got %q", c.Telemetry.MQTTBroker)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be 0-4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Preset returns the named capture preset.
func (c *Config) Preset(name string) (PresetConfig, bool) {
	p, ok := c.Camera.Presets[name]
	return p, ok
}

// WarmupEnabled reports whether a warmup shot is taken at startup.
func (c *Config) WarmupEnabled() bool {
	return c.Camera.Warmup == nil || *c.Camera.Warmup
}

// PeriodicEnabled reports whether the periodic capture scheduler runs.
func (c *Config) PeriodicEnabled() bool {
	return c.Periodic.Enabled == nil || *c.Periodic.Enabled
}

// StoreEnabled reports whether /data is served.
func (c *Config) StoreEnabled() bool {
	return c.Store.Enabled == nil || *c.Store.Enabled
}

// SensorPin returns the BCM pin the sensor is wired to. BCM 0 is a valid pin.
func (c *Config) SensorPin() int {
	if c.Sensor.Pin == nil {
		return DefaultSensorPin
	}
	return *c.Sensor.Pin
}

// Interval returns the periodic capture interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Periodic.IntervalMs) * time.Millisecond
}

// SampleInterval returns the telemetry sampling interval (0 = disabled).
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMs) * time.Millisecond
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
