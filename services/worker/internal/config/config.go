package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service configuration.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Interval fields
// are duration strings ("1s", "500ms") parsed with ParseDuration at boot.
type FileConfig struct {
	HealthPort    string `yaml:"healthPort"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseUrl"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueStream   string `yaml:"queueStream"`
	QueueGroup    string `yaml:"queueGroup"`
	ConsumerName  string `yaml:"consumerName"`
	WorkerPool    int    `yaml:"workerPool"`
	ReadCount     int64  `yaml:"readCount"`
	ReadInterval  string `yaml:"readInterval"`
	ClaimCount    int64  `yaml:"claimCount"`
	ClaimMinIdle  string `yaml:"claimMinIdle"`
	ClaimInterval string `yaml:"claimInterval"`
	DBMaxIdle     int    `yaml:"dbMaxIdle"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		cfg.HealthPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("QUEUE_STREAM"); v != "" {
		cfg.QueueStream = v
	}
	if v := os.Getenv("QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if v := os.Getenv("WORKER_POOL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPool = n
		}
	}
	if v := os.Getenv("READ_COUNT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReadCount = n
		}
	}
	if v := os.Getenv("READ_INTERVAL"); v != "" {
		cfg.ReadInterval = v
	}
	if v := os.Getenv("CLAIM_COUNT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ClaimCount = n
		}
	}
	if v := os.Getenv("CLAIM_MIN_IDLE"); v != "" {
		cfg.ClaimMinIdle = v
	}
	if v := os.Getenv("CLAIM_INTERVAL"); v != "" {
		cfg.ClaimInterval = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.HealthPort == "" {
		cfg.HealthPort = "8081"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "photo_stream"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "workers"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "worker-1"
	}
	if cfg.WorkerPool <= 0 {
		cfg.WorkerPool = 40
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 40
	}
	if cfg.ReadInterval == "" {
		cfg.ReadInterval = "1s"
	}
	if cfg.ClaimCount <= 0 {
		cfg.ClaimCount = 10
	}
	if cfg.ClaimMinIdle == "" {
		cfg.ClaimMinIdle = "60s"
	}
	if cfg.ClaimInterval == "" {
		cfg.ClaimInterval = "30s"
	}
	if cfg.DBMaxIdle <= 0 {
		cfg.DBMaxIdle = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseUrl is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	return nil
}

// ParseDuration parses a duration config field, returning 0 when unset.
func ParseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return d, nil
}
