package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string        `yaml:"environment"`
	Server      ServerConfig  `yaml:"server"`
	Backend     BackendConfig `yaml:"backend"`
	Limits      LimitsConfig  `yaml:"limits"`
	Pool        PoolConfig    `yaml:"pool"`
	Logging     LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type BackendConfig struct {
	// Type selects the backend: "fdb" (default) or "memory" for local
	// development and tests.
	Type        string `yaml:"type"`
	ClusterFile string `yaml:"cluster_file"`
	APIVersion  int    `yaml:"api_version"`
}

type LimitsConfig struct {
	// MaxWindowSeconds caps step*slots at creation time.
	MaxWindowSeconds int64 `yaml:"max_window_seconds"`
	// DefaultStep and DefaultSlots apply when an ingest omits ring geometry.
	DefaultStep  uint32 `yaml:"default_step"`
	DefaultSlots uint32 `yaml:"default_slots"`
	// MaxLookupResults caps registry lookups; a capped result reports
	// hit_limit. Lookups take no cursor or offset, so results past the cap
	// are not reachable.
	MaxLookupResults int `yaml:"max_lookup_results"`
	// MaxQueryRows and MaxQueryBytes bound what one query may materialise.
	MaxQueryRows  int `yaml:"max_query_rows"`
	MaxQueryBytes int `yaml:"max_query_bytes"`
	// DeleteBatchSlots bounds how many ring slots one delete or rewrite
	// transaction touches.
	DeleteBatchSlots int `yaml:"delete_batch_slots"`
	// ScanBatchKeys bounds one range-read round trip.
	ScanBatchKeys int `yaml:"scan_batch_keys"`
}

type PoolConfig struct {
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryDelay    Duration `yaml:"retry_delay"`
	TxnTimeout    Duration `yaml:"txn_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Backend: BackendConfig{
			Type:       "fdb",
			APIVersion: 710,
		},
		Limits: LimitsConfig{
			MaxWindowSeconds: 90 * 24 * 3600,
			DefaultStep:      1,
			DefaultSlots:     3600,
			MaxLookupResults: 500,
			MaxQueryRows:     200_000,
			MaxQueryBytes:    32 << 20,
			DeleteBatchSlots: 10_000,
			ScanBatchKeys:    4096,
		},
		Pool: PoolConfig{
			RetryAttempts: 5,
			RetryDelay:    Duration(50 * time.Millisecond),
			TxnTimeout:    Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the yaml config at path (an empty path keeps the defaults) and
// then applies environment overrides: FDB_CLUSTER_FILE, API_HOST, API_PORT,
// LOG_LEVEL.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("FDB_CLUSTER_FILE"); v != "" {
		cfg.Backend.ClusterFile = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid API_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Backend.Type {
	case "fdb", "memory":
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if c.Limits.DefaultStep == 0 || c.Limits.DefaultSlots == 0 {
		return fmt.Errorf("default ring geometry must be positive")
	}
	if c.Limits.MaxWindowSeconds <= 0 {
		return fmt.Errorf("max_window_seconds must be positive")
	}
	return nil
}
