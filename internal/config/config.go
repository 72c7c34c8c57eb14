package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hypogate/domain/gate"
	"hypogate/domain/stats"
	"hypogate/internal"
	"hypogate/internal/errors"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Lock backends
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Store     string
	Database  DatabaseConfig
	Server    ServerConfig
	Gate      GateConfig
	Scheduler SchedulerConfig
	Lock      LockConfig
	Profiling ProfilingConfig
	LogLevel  internal.LogLevel
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL          string
	QueryTimeout time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port            string
	IntakeRateLimit float64
	IntakeBurst     int
	ShutdownTimeout time.Duration
}

// GateConfig holds the pass conditions and statistics settings
type GateConfig struct {
	Thresholds     gate.Thresholds
	PBOSplits      int
	ExitGrid       stats.ExitGrid
	ThresholdsFile string
}

// GateFile is the YAML overlay read from GATE_THRESHOLDS_FILE
type GateFile struct {
	gate.Thresholds `yaml:",inline"`
	ExitGrid        stats.ExitGrid `yaml:"exit_grid"`
}

// SchedulerConfig holds the batch schedule
type SchedulerConfig struct {
	Enabled     bool
	Spec        string
	Concurrency int
	RunTimeout  time.Duration
}

// LockConfig selects the evaluation lock backend
type LockConfig struct {
	Backend   string
	RedisAddr string
	TTL       time.Duration
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	store := strings.ToLower(getEnvOrDefault("GATE_STORE", StorePostgres))
	config := &Config{
		Store:     store,
		Database:  *loadDatabaseConfig(),
		Server:    *loadServerConfig(),
		Scheduler: *loadSchedulerConfig(),
		Lock:      *loadLockConfig(store),
		Profiling: *loadProfilingConfig(),
		LogLevel:  internal.ParseLogLevel(getEnvOrDefault("LOG_LEVEL", "INFO")),
	}

	gateConfig, err := loadGateConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load gate configuration")
	}
	config.Gate = *gateConfig

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		QueryTimeout: getEnvDurationOrDefault("DB_QUERY_TIMEOUT", 30*time.Second),
		MaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns: getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            getEnvOrDefault("PORT", "8080"),
		IntakeRateLimit: getEnvFloatOrDefault("INTAKE_RATE_LIMIT", 50),
		IntakeBurst:     getEnvIntOrDefault("INTAKE_BURST", 100),
		ShutdownTimeout: getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func loadGateConfig() (*GateConfig, error) {
	defaults := gate.DefaultThresholds()
	cfg := &GateConfig{
		Thresholds: gate.Thresholds{
			MinWinRate:        getEnvFloatOrDefault("GATE_MIN_WIN_RATE", defaults.MinWinRate),
			MinDeflatedSharpe: getEnvFloatOrDefault("GATE_MIN_DEFLATED_SHARPE", defaults.MinDeflatedSharpe),
			MaxPBO:            getEnvFloatOrDefault("GATE_MAX_PBO", defaults.MaxPBO),
			MaxFamilyRisk:     getEnvFloatOrDefault("GATE_MAX_FAMILY_RISK", defaults.MaxFamilyRisk),
		},
		PBOSplits:      getEnvIntOrDefault("GATE_PBO_SPLITS", 4),
		ExitGrid:       stats.DefaultExitGrid(),
		ThresholdsFile: os.Getenv("GATE_THRESHOLDS_FILE"),
	}
	if cfg.ThresholdsFile != "" {
		f, err := LoadGateFile(cfg.ThresholdsFile, GateFile{Thresholds: cfg.Thresholds, ExitGrid: cfg.ExitGrid})
		if err != nil {
			return nil, err
		}
		cfg.Thresholds = f.Thresholds
		cfg.ExitGrid = f.ExitGrid
	}
	return cfg, nil
}

// LoadGateFile overlays the YAML file at path on base. Keys missing from the file keep base values.
func LoadGateFile(path string, base GateFile) (GateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errors.ConfigInvalid(fmt.Sprintf("cannot read thresholds file %s: %v", path, err))
	}
	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, errors.ConfigInvalid(fmt.Sprintf("invalid thresholds file %s: %v", path, err))
	}
	return out, nil
}

func loadSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Enabled:     getEnvBoolOrDefault("GATE_SCHEDULER_ENABLED", true),
		Spec:        getEnvOrDefault("GATE_SCHEDULE", "@hourly"),
		Concurrency: getEnvIntOrDefault("GATE_BATCH_CONCURRENCY", 4),
		RunTimeout:  getEnvDurationOrDefault("GATE_BATCH_TIMEOUT", 30*time.Minute),
	}
}

// loadLockConfig defaults to the redis lock for a postgres store: the server and the CLI
// are separate processes sharing one database.
func loadLockConfig(store string) *LockConfig {
	backend := LockLocal
	if store == StorePostgres {
		backend = LockRedis
	}
	return &LockConfig{
		Backend:   strings.ToLower(getEnvOrDefault("GATE_LOCK_BACKEND", backend)),
		RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		TTL:       getEnvDurationOrDefault("GATE_LOCK_TTL", 5*time.Minute),
	}
}

func loadProfilingConfig() *ProfilingConfig {
	return &ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.ConfigInvalid("DATABASE_URL is required when GATE_STORE=postgres")
		}
	case StoreMemory:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("GATE_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return errors.ConfigInvalid("REDIS_ADDR is required when GATE_LOCK_BACKEND=redis")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("GATE_LOCK_BACKEND must be %q or %q, got %q", LockLocal, LockRedis, c.Lock.Backend))
	}
	if err := c.Gate.Thresholds.Validate(); err != nil {
		return errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid gate thresholds")
	}
	if err := c.Gate.ExitGrid.Validate(); err != nil {
		return errors.Wrap(errors.ConfigInvalid(err.Error()), "invalid exit grid")
	}
	if c.Gate.PBOSplits < 2 {
		return errors.ConfigInvalid("GATE_PBO_SPLITS must be at least 2")
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.ConfigInvalid("GATE_BATCH_CONCURRENCY must be at least 1")
	}
	if c.Server.IntakeRateLimit <= 0 || c.Server.IntakeBurst < 1 {
		return errors.ConfigInvalid("INTAKE_RATE_LIMIT and INTAKE_BURST must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
