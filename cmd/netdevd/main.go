package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"netdevd/internal/bus"
	"netdevd/internal/devices"
	"netdevd/internal/store"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Bus struct {
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"bus"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Dispatch struct {
		Timeout string `yaml:"timeout"` // e.g. "30s"; empty disables
	} `yaml:"dispatch"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Bus.Broker == "" {
		return fmt.Errorf("bus.broker is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Bus.TopicPrefix == "" {
		c.Bus.TopicPrefix = "netdev"
	}
	if c.Bus.ClientID == "" {
		c.Bus.ClientID = "netdevd"
	}
	return nil
}

func (c *Config) dispatchTimeout() (time.Duration, error) {
	if c.Dispatch.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Dispatch.Timeout)
	if err != nil {
		return 0, fmt.Errorf("dispatch.timeout: %w", err)
	}
	return d, nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	timeout, err := cfg.dispatchTimeout()
	if err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("netdevd starting", "version", version)

	// Open the device cache.
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Registry + events, hydrated from the cache.
	events := devices.NewEventBus(logger)
	registry := devices.NewRegistry(db, events, logger)
	if err := registry.Hydrate(); err != nil {
		logger.Error("hydrate registry", "err", err)
		os.Exit(1)
	}
	logger.Info("device cache loaded", "devices", len(registry.List()))

	busClient, err := bus.NewMQTTBus(bus.Config{
		Broker:      cfg.Bus.Broker,
		Username:    cfg.Bus.Username,
		Password:    cfg.Bus.Password,
		ClientID:    cfg.Bus.ClientID,
		TopicPrefix: cfg.Bus.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("create bus", "err", err)
		os.Exit(1)
	}

	handler := devices.NewHandler(busClient, registry, devices.Options{Timeout: timeout}, logger)

	logRegistryEvents(events, logger)

	// Connect only after the handler has registered its bus callbacks,
	// so the first pushed events land on wired handlers.
	if err := busClient.Connect(); err != nil {
		logger.Error("connect bus", "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	// Handler first, so no callback can fire into a closed bus or store.
	handler.Close()
	if err := busClient.Close(); err != nil {
		logger.Error("close bus", "err", err)
	}

	logger.Info("goodbye")
}

func logRegistryEvents(events *devices.EventBus, logger *slog.Logger) {
	events.On(devices.EventDeviceAdded, func(e devices.Event) {
		logger.Info("device added", "data", e.Data)
	})
	events.On(devices.EventDeviceRemoved, func(e devices.Event) {
		logger.Info("device removed", "data", e.Data)
	})
	events.On(devices.EventPropertyUpdate, func(e devices.Event) {
		logger.Debug("property update", "data", e.Data)
	})
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
