package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/prappser/prappser_uploads/internal/lease"
	"github.com/prappser/prappser_uploads/internal/storage"
	"github.com/prappser/prappser_uploads/internal/upload"
	"github.com/spf13/viper"
)

const defaultConfigPath = "files/config.yaml"

type TrackerType string

const (
	TrackerTypeMemory   TrackerType = "memory"
	TrackerTypePostgres TrackerType = "postgres"
)

type Config struct {
	Server  ServerConfig          `mapstructure:"server"`
	Upload  upload.Config         `mapstructure:"upload"`
	Storage storage.BackendConfig `mapstructure:"storage"`
	Tracker TrackerConfig         `mapstructure:"tracker"`
	Lease   lease.Config          `mapstructure:"lease"`
	Reaper  upload.ReaperConfig   `mapstructure:"reaper"`
}

type ServerConfig struct {
	Address            string   `mapstructure:"address"`
	MaxRequestBodySize string   `mapstructure:"maxRequestBodySize"`
	AllowedOrigins     []string `mapstructure:"allowedOrigins"`
}

type TrackerConfig struct {
	Type        TrackerType `mapstructure:"type"`
	DatabaseURL string      `mapstructure:"databaseUrl"`
}

func LoadConfig() (*Config, error) {
	return LoadConfigFile(defaultConfigPath)
}

// LoadConfigFile reads path, falling back to defaults when it does not exist.
// Every key can be overridden with an UPLOADS_ environment variable, e.g.
// UPLOADS_STORAGE_TYPE=s3.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("UPLOADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := config.MaxFileSizeBytes(); err != nil {
		return nil, err
	}
	if _, err := config.MaxRequestBodyBytes(); err != nil {
		return nil, err
	}
	if config.Tracker.Type == TrackerTypePostgres && config.Tracker.DatabaseURL == "" {
		return nil, fmt.Errorf("tracker.databaseUrl is required for the postgres tracker")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.maxRequestBodySize", "64MiB")
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("upload.tempRoot", "./files/tmp")
	v.SetDefault("upload.maxFileSize", "0")
	v.SetDefault("upload.logFile", "")

	v.SetDefault("storage.type", string(storage.StorageTypeLocal))
	v.SetDefault("storage.localPath", "./files/uploads")
	v.SetDefault("storage.stagingPath", "")
	v.SetDefault("storage.s3Endpoint", "")
	v.SetDefault("storage.s3Bucket", "")
	v.SetDefault("storage.s3AccessKey", "")
	v.SetDefault("storage.s3SecretKey", "")
	v.SetDefault("storage.s3Region", "")
	v.SetDefault("storage.s3UseSsl", false)
	v.SetDefault("storage.externalUrl", "")

	v.SetDefault("tracker.type", string(TrackerTypeMemory))
	v.SetDefault("tracker.databaseUrl", "")

	v.SetDefault("lease.type", string(lease.LockerTypeLocal))
	v.SetDefault("lease.ttl", lease.DefaultTTL)
	v.SetDefault("lease.redisAddr", "localhost:6379")
	v.SetDefault("lease.redisDb", 0)
	v.SetDefault("lease.keyPrefix", "")

	v.SetDefault("reaper.schedule", "@every 10m")
	v.SetDefault("reaper.maxAge", 24*time.Hour)
	v.SetDefault("reaper.assembledRetention", 10*time.Minute)
}

// MaxFileSizeBytes parses upload.maxFileSize. Zero means unlimited.
func (c *Config) MaxFileSizeBytes() (int64, error) {
	return parseSize("upload.maxFileSize", c.Upload.MaxFileSize)
}

func (c *Config) MaxRequestBodyBytes() (int64, error) {
	return parseSize("server.maxRequestBodySize", c.Server.MaxRequestBodySize)
}

func parseSize(key, value string) (int64, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return size, nil
}
