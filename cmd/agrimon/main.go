package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/agrimonitor/agrimon/internal/config"
	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/camera"
	"github.com/agrimonitor/agrimon/internal/hw/dht"
	"github.com/agrimonitor/agrimon/internal/hw/gpio"
	"github.com/agrimonitor/agrimon/internal/logic/capture"
	"github.com/agrimonitor/agrimon/internal/logic/sensor"
	"github.com/agrimonitor/agrimon/internal/logic/telemetry"
	"github.com/agrimonitor/agrimon/internal/metrics"
	"github.com/agrimonitor/agrimon/internal/store"
	"github.com/agrimonitor/agrimon/internal/web"
)

// Values reported by the fake sensor when GPIO is mocked.
const (
	mockTemperature = 21.5
	mockHumidity    = 55.0
)

func main() {
	// CLI flags
	port := &portFlag{}
	flag.Var(port, "port", "HTTP port, overrides server.port (1-65535)")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "use mock GPIO and a fake sensor")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	applyFlags(cfg, port.val, *mock)

	// The status stream sees everything the debug log prints.
	broadcaster := web.NewStatusBroadcaster()
	debug.Init(cfg.Defaults.DebugLevel)
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing sensor")
	reader := sensor.NewReader(newSensorDriver(gpioDriver, cfg.Defaults.MockGPIO), cfg.Sensor.Type, cfg.SensorPin())
	debug.PrintStruct("Sensor config", struct{ Type, Pin int }{cfg.Sensor.Type, cfg.SensorPin()})

	debug.Step(3, "Initializing camera")
	runner := camera.NewExecRunner(cfg.Camera.Binary)
	debug.Value("Camera binary", runner.Binary)
	debug.Value("Temp dir", cfg.Camera.TmpDir)
	if cfg.WarmupEnabled() {
		// Failure is logged by Warmup and never fatal.
		_ = camera.Warmup(ctx, runner, filepath.Join(cfg.Camera.TmpDir, "warmup.jpg"))
	}

	m := metrics.New()

	handlerCfg := web.HandlerConfig{
		Sensor:        reader,
		Camera:        capture.NewPhotographer(runner, cfg.Camera.TmpDir),
		DefaultPreset: presetFromConfig(cfg, config.PresetDefault),
		FastPreset:    presetFromConfig(cfg, config.PresetFast),
		Broadcaster:   broadcaster,
		Metrics:       m,
		PublicDir:     cfg.Server.PublicDir,
	}

	if cfg.PeriodicEnabled() {
		debug.Step(4, "Starting periodic capture")
		periodic, err := capture.StartPeriodic(ctx, runner, capture.PeriodicConfig{
			Interval:   cfg.Interval(),
			OutputPath: cfg.Periodic.OutputPath,
			Preset:     presetFromConfig(cfg, config.PresetPeriodic),
		}, capture.WithResultHook(func(err error, d time.Duration) {
			m.Capture("periodic", d, err)
		}))
		if err != nil {
			log.Fatalf("start periodic capture failed: %v", err)
		}
		defer periodic.Stop()
		handlerCfg.LatestPath = periodic.OutputPath()
		handlerCfg.PeriodicStats = periodic.Stats
	}

	if interval := cfg.SampleInterval(); interval > 0 {
		debug.Step(5, "Starting sensor telemetry")
		pub, err := newPublisher(cfg.Telemetry)
		if err != nil {
			log.Fatalf("init telemetry failed: %v", err)
		}
		sampler, err := telemetry.StartSampler(ctx, reader, pub, interval)
		if err != nil {
			log.Fatalf("start telemetry failed: %v", err)
		}
		defer func() {
			if err := sampler.Stop(); err != nil {
				log.Printf("stopping telemetry failed: %v", err)
			}
		}()
		handlerCfg.LatestSample = sampler.Latest
	}

	if cfg.StoreEnabled() {
		debug.Step(6, "Opening document store")
		docs, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatalf("open store failed: %v", err)
		}
		defer func() {
			if err := docs.Close(); err != nil {
				log.Printf("closing store failed: %v", err)
			}
		}()
		handlerCfg.Store = docs
		debug.Value("Store path", cfg.Store.Path)
	}

	srv := web.NewServer(cfg.Addr(), web.NewHandlers(handlerCfg), web.RateLimit{
		RPS:   cfg.Server.RateLimitRPS,
		Burst: cfg.Server.RateLimitBurst,
	})
	if err := srv.Run(ctx); err != nil {
		log.Printf("web server: %v", err)
	}
	debug.Info("Shutting down")
}

// applyFlags layers command line overrides on top of the file configuration.
// A zero port keeps server.port.
func applyFlags(cfg *config.Config, port int, mock bool) {
	if port > 0 {
		cfg.Server.Port = port
	}
	if mock {
		cfg.Defaults.MockGPIO = true
	}
}

// newSensorDriver returns the bit-banging DHT driver, or a fixed-value fake
// when GPIO is mocked (the mock line never toggles).
func newSensorDriver(g gpio.Driver, mock bool) sensor.Driver {
	if mock {
		return dht.Fake{Temperature: mockTemperature, Humidity: mockHumidity}
	}
	return dht.NewSensor(g)
}

// newPublisher selects where telemetry samples go: MQTT when a broker is
// configured, the debug log otherwise.
func newPublisher(cfg config.TelemetryConfig) (telemetry.Publisher, error) {
	if cfg.MQTTBroker == "" {
		return telemetry.LogPublisher{}, nil
	}
	pub, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// presetFromConfig converts a named config preset into capture arguments.
// Defaults guarantee the built-in names are always present.
func presetFromConfig(cfg *config.Config, name string) camera.Preset {
	p, ok := cfg.Preset(name)
	if !ok {
		p = config.DefaultPresets()[name]
	}
	return camera.Preset{
		Quality:   p.Quality,
		TimeoutMs: p.TimeoutMs,
		Width:     p.Width,
		Height:    p.Height,
		NoPreview: p.NoPreview,
		Immediate: p.Immediate,
	}
}

// portFlag implements flag.Value for -port: unset = 0 (use config), otherwise 1-65535.
type portFlag struct {
	val int
}

func (p *portFlag) String() string {
	return strconv.Itoa(p.val)
}

func (p *portFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	p.val = v
	return nil
}
