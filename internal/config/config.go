package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	// Server
	HTTPPort string

	// Storage
	StoreDriver string // "postgres", "sqlite" or "memory"
	DatabaseURL string
	SQLitePath  string

	// Redis; empty keeps events and config in-process
	RedisURL string

	// MQTT fan-out; empty disables it
	MQTTBroker      string
	MQTTTopicPrefix string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool

	// BridgeConfigFile seeds the operator config and liveness thresholds.
	BridgeConfigFile string
	ActivityLogSize  int
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		StoreDriver:      getEnv("STORE_DRIVER", StoreSQLite),
		DatabaseURL:      getEnv("DB_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "data/tally-bridge.db"),
		RedisURL:         getEnv("REDIS_URL", ""),
		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTTopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "tally"),
		LogLevel:         logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		ServiceName:      getEnv("SERVICE_NAME", "tally-bridge"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		BridgeConfigFile: getEnv("BRIDGE_CONFIG_FILE", ""),
		ActivityLogSize:  getEnvInt("ACTIVITY_LOG_SIZE", 100),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.ActivityLogSize <= 0 {
		return nil, fmt.Errorf("ACTIVITY_LOG_SIZE must be positive, got %d", cfg.ActivityLogSize)
	}

	return cfg, nil
}

// Liveness holds the heartbeat thresholds. Durations are written as Go duration strings.
type Liveness struct {
	KeeperInterval time.Duration `yaml:"keeper_interval"`
	Grace          time.Duration `yaml:"grace"`
	HardTimeout    time.Duration `yaml:"hard_timeout"`
	StrictTimeout  time.Duration `yaml:"strict_timeout"`
	MaxExtensions  int           `yaml:"max_extensions"`
}

func DefaultLiveness() Liveness {
	return Liveness{
		KeeperInterval: 30 * time.Second,
		Grace:          90 * time.Second,
		HardTimeout:    120 * time.Second,
		StrictTimeout:  60 * time.Second,
		MaxExtensions:  1,
	}
}

func (l Liveness) Validate() error {
	if l.KeeperInterval <= 0 {
		return fmt.Errorf("liveness.keeper_interval must be positive")
	}
	if l.Grace <= 0 || l.HardTimeout <= l.Grace {
		return fmt.Errorf("liveness.grace (%s) must be positive and below hard_timeout (%s)", l.Grace, l.HardTimeout)
	}
	if l.StrictTimeout <= 0 || l.StrictTimeout > l.HardTimeout {
		return fmt.Errorf("liveness.strict_timeout (%s) must be positive and at most hard_timeout", l.StrictTimeout)
	}
	if l.MaxExtensions < 0 {
		return fmt.Errorf("liveness.max_extensions must not be negative")
	}
	return nil
}

// BridgeFile is the optional YAML file behind BRIDGE_CONFIG_FILE.
type BridgeFile struct {
	Bridge   domain.BridgeConfig `yaml:"bridge"`
	Liveness Liveness            `yaml:"liveness"`
}

func DefaultBridgeFile() *BridgeFile {
	return &BridgeFile{
		Bridge:   domain.DefaultBridgeConfig(),
		Liveness: DefaultLiveness(),
	}
}

// LoadBridgeFile reads path over the defaults. An empty path returns the defaults.
func LoadBridgeFile(path string) (*BridgeFile, error) {
	bf := DefaultBridgeFile()
	if path == "" {
		return bf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bridge config %s: %w", path, err)
	}
	data = []byte(expandEnvVars(string(data)))

	if err := yaml.Unmarshal(data, bf); err != nil {
		return nil, fmt.Errorf("parsing bridge config %s: %w", path, err)
	}
	if err := bf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config %s: %w", path, err)
	}
	return bf, nil
}

func (bf *BridgeFile) Validate() error {
	switch bf.Bridge.SyncMode {
	case domain.SyncModeRealtime, domain.SyncModeScheduled:
	default:
		return fmt.Errorf("bridge.sync_mode must be realtime or scheduled, got %q", bf.Bridge.SyncMode)
	}
	if bf.Bridge.SyncInterval < 1 {
		return fmt.Errorf("bridge.sync_interval must be at least 1 minute")
	}
	for _, name := range bf.Bridge.DataTypes {
		if _, err := domain.ParseEntityType(name); err != nil {
			return fmt.Errorf("bridge.data_types: %w", err)
		}
	}
	return bf.Liveness.Validate()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the value of VAR; unset variables expand to "".
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
