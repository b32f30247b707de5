package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/docintake/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	JobStore    JobStoreConfig    `yaml:"jobStore"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr           string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxUploadSize  ByteSize      `yaml:"maxUploadSize"`  // limit for a whole upload request
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"`  // time to wait for in-flight requests
	StartupTimeout time.Duration `yaml:"startupTimeout"` // bound for connecting to both stores
	LogLevel       string        `yaml:"logLevel"`       // debug|info|warn|error
}

// JobStoreConfig selects where job records live.
type JobStoreConfig struct {
	Type    string         `yaml:"type"` // mongodb|sqlite
	MongoDB MongoDBConfig  `yaml:"mongodb"`
	SQLite  SQLiteSettings `yaml:"sqlite"`
}

// MongoDBConfig for MongoDB or Cosmos DB for MongoDB.
type MongoDBConfig struct {
	URI        string `yaml:"uri"` // supports env expansion
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// SQLiteSettings for the embedded job store.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// ObjectStoreConfig selects where document payloads live.
type ObjectStoreConfig struct {
	Provider   string             `yaml:"provider"` // azure|minio|filesystem
	Azure      AzureConfig        `yaml:"azure"`
	Minio      MinioConfig        `yaml:"minio"`
	FileSystem FileSystemSettings `yaml:"filesystem"`
}

// AzureConfig for Azure Blob Storage.
type AzureConfig struct {
	ConnectionString string `yaml:"connectionString"` // supports env expansion
	Container        string `yaml:"container"`
}

// MinioConfig for MinIO or any S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// FileSystemSettings for the local object store.
type FileSystemSettings struct {
	Dir string `yaml:"dir"`
}

// NotifyConfig enables upload events for the processing worker.
type NotifyConfig struct {
	Enabled  bool           `yaml:"enabled"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig for the AMQP notifier.
type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var DOCINTAKE_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv(common.ConfigPathEnv); env != "" {
			path = env
		} else {
			path = common.DefaultConfigFile
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(100 * 1024 * 1024) // 100 MiB default
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Server.StartupTimeout == 0 {
		cfg.Server.StartupTimeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Job store defaults
	cfg.JobStore.Type = strings.ToLower(strings.TrimSpace(cfg.JobStore.Type))
	if cfg.JobStore.Type == "" {
		cfg.JobStore.Type = common.JobStoreMongoDB
	}
	if cfg.JobStore.MongoDB.Database == "" {
		cfg.JobStore.MongoDB.Database = common.DefaultMongoDatabase
	}
	if cfg.JobStore.MongoDB.Collection == "" {
		cfg.JobStore.MongoDB.Collection = common.DefaultMongoCollection
	}
	if cfg.JobStore.SQLite.Path == "" {
		cfg.JobStore.SQLite.Path = filepath.Join("data", "docintake.db")
	}

	// Object store defaults
	cfg.ObjectStore.Provider = strings.ToLower(strings.TrimSpace(cfg.ObjectStore.Provider))
	if cfg.ObjectStore.Provider == "" {
		cfg.ObjectStore.Provider = common.ObjectStoreAzure
	}
	if cfg.ObjectStore.Azure.Container == "" {
		cfg.ObjectStore.Azure.Container = common.DefaultBlobContainer
	}
	if cfg.ObjectStore.Minio.Bucket == "" {
		cfg.ObjectStore.Minio.Bucket = common.DefaultBlobContainer
	}
	if cfg.ObjectStore.FileSystem.Dir == "" {
		cfg.ObjectStore.FileSystem.Dir = filepath.Join("data", "blobs")
	}

	if cfg.Notify.RabbitMQ.Queue == "" {
		cfg.Notify.RabbitMQ.Queue = common.DefaultNotifyQueue
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel %q is not one of debug|info|warn|error", cfg.Server.LogLevel)
	}

	switch cfg.JobStore.Type {
	case common.JobStoreMongoDB:
		if strings.TrimSpace(cfg.JobStore.MongoDB.URI) == "" {
			return errors.New("jobStore.mongodb.uri is required")
		}
	case common.JobStoreSQLite:
		if strings.TrimSpace(cfg.JobStore.SQLite.Path) == "" {
			return errors.New("jobStore.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unsupported jobStore.type %q", cfg.JobStore.Type)
	}

	switch cfg.ObjectStore.Provider {
	case common.ObjectStoreAzure:
		if strings.TrimSpace(cfg.ObjectStore.Azure.ConnectionString) == "" {
			return errors.New("objectStore.azure.connectionString is required")
		}
	case common.ObjectStoreMinio:
		m := cfg.ObjectStore.Minio
		if strings.TrimSpace(m.Endpoint) == "" {
			return errors.New("objectStore.minio.endpoint is required")
		}
		if strings.TrimSpace(m.AccessKey) == "" || strings.TrimSpace(m.SecretKey) == "" {
			return errors.New("objectStore.minio.accessKey and secretKey are required")
		}
	case common.ObjectStoreFileSystem:
		if strings.TrimSpace(cfg.ObjectStore.FileSystem.Dir) == "" {
			return errors.New("objectStore.filesystem.dir is required")
		}
	default:
		return fmt.Errorf("unsupported objectStore.provider %q", cfg.ObjectStore.Provider)
	}

	if cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.RabbitMQ.URL) == "" {
		return errors.New("notify.rabbitmq.url is required when notify is enabled")
	}
	return nil
}
