package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service configuration.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseUrl"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	MinioEndpoint     string   `yaml:"minioEndpoint"`
	MinioAccessKey    string   `yaml:"minioAccessKey"`
	MinioSecretKey    string   `yaml:"minioSecretKey"`
	MinioUseSSL       bool     `yaml:"minioUseSSL"`
	PhotoBucket       string   `yaml:"photoBucket"`
	ThumbnailBucket   string   `yaml:"thumbnailBucket"`
	QueueStream       string   `yaml:"queueStream"`
	QueueGroup        string   `yaml:"queueGroup"`
	MaxFileBytes      int64    `yaml:"maxFileBytes"`
	MaxBatchFiles     int      `yaml:"maxBatchFiles"`
	MaxBodyBytes      int64    `yaml:"maxBodyBytes"`
	UploadConcurrency int      `yaml:"uploadConcurrency"`
	DBMaxOpenConns    int      `yaml:"dbMaxOpen"`
	DBMaxIdleConns    int      `yaml:"dbMaxIdle"`
	TrustedProxies    []string `yaml:"trustedProxies"`
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
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
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
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("PHOTO_BUCKET"); v != "" {
		cfg.PhotoBucket = v
	}
	if v := os.Getenv("THUMBNAIL_BUCKET"); v != "" {
		cfg.ThumbnailBucket = v
	}
	if v := os.Getenv("QUEUE_STREAM"); v != "" {
		cfg.QueueStream = v
	}
	if v := os.Getenv("QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileBytes = n
		}
	}
	if v := os.Getenv("MAX_BATCH_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBatchFiles = n
		}
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("UPLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadConcurrency = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.PhotoBucket == "" {
		cfg.PhotoBucket = "photos"
	}
	if cfg.ThumbnailBucket == "" {
		cfg.ThumbnailBucket = "thumbnails"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "photo_stream"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "workers"
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 10 << 20
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = 1000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 30
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 10
	}
	if cfg.DBMaxOpenConns <= 0 {
		cfg.DBMaxOpenConns = 20
	}
	if cfg.DBMaxIdleConns <= 0 {
		cfg.DBMaxIdleConns = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseUrl is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
