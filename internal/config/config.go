// Package config defines the typed configuration of the catopus server.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kartikbazzad/catopus/internal/registry"
	pkgconfig "github.com/kartikbazzad/catopus/pkg/config"
)

// EnvPrefix is the prefix of every environment variable read by the server.
const EnvPrefix = "CATOPUS_"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Log       LogConfig          `mapstructure:"log"`
	Shards    ShardConfig        `mapstructure:"shards"`
	Warehouse WarehouseConfig    `mapstructure:"warehouse"`
	Fanout    FanoutConfig       `mapstructure:"fanout"`
	Sink      SinkConfig         `mapstructure:"sink"`
	Storage   StorageConfig      `mapstructure:"storage"`
	Jobs      JobsConfig         `mapstructure:"jobs"`
	Clusters  []registry.Cluster `mapstructure:"clusters"`
	ShardIDs  map[string]int     `mapstructure:"shardids"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"corsorigin"`
	UserHeader string `mapstructure:"userheader"`
	RateLimit  int    `mapstructure:"ratelimit"` // requests per minute per IP, 0 disables
	Burst      int    `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ShardConfig holds the read-only credentials and pool sizing used for
// every shard database.
type ShardConfig struct {
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	MaxOpen  int           `mapstructure:"maxopen"`
	MaxIdle  int           `mapstructure:"maxidle"`
	Lifetime time.Duration `mapstructure:"lifetime"`
}

// WarehouseConfig holds the write credentials of the destination database.
type WarehouseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Schema   string `mapstructure:"schema"`
	MaxConns int32  `mapstructure:"maxconns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type FanoutConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"` // per shard call; negative disables
}

type SinkConfig struct {
	ChunkSize int `mapstructure:"chunksize"`
}

// StorageConfig selects the blob store: MinIO when Endpoint is set,
// otherwise a local directory.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"accesskey"`
	SecretKey string `mapstructure:"secretkey"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SSL       bool   `mapstructure:"ssl"`
	Dir       string `mapstructure:"dir"`
}

type JobsConfig struct {
	Workers int           `mapstructure:"workers"`
	Drain   time.Duration `mapstructure:"drain"`
}

// Load reads the configuration file (optional) and environment, then
// applies defaults and validates the result.
func Load(file string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(EnvPrefix, file, cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults fills every unset field.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3002
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = "http://localhost:5173"
	}
	if c.Server.UserHeader == "" {
		c.Server.UserHeader = "X-Catopus-User"
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Shards.MaxIdle == 0 {
		c.Shards.MaxIdle = 5
	}
	if c.Shards.MaxOpen == 0 {
		c.Shards.MaxOpen = 15
	}
	if c.Shards.Lifetime == 0 {
		c.Shards.Lifetime = 30 * time.Minute
	}
	if c.Warehouse.Port == 0 {
		c.Warehouse.Port = 5432
	}
	if c.Warehouse.Schema == "" {
		c.Warehouse.Schema = "catopus"
	}
	if c.Warehouse.MaxConns == 0 {
		c.Warehouse.MaxConns = 10
	}
	if c.Fanout.Concurrency == 0 {
		c.Fanout.Concurrency = 8
	}
	if c.Fanout.Timeout == 0 {
		c.Fanout.Timeout = 5 * time.Minute
	}
	if c.Sink.ChunkSize == 0 {
		c.Sink.ChunkSize = 10000
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "catopus"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/blobs"
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 16
	}
	if c.Jobs.Drain == 0 {
		c.Jobs.Drain = 30 * time.Second
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Warehouse.Host == "" {
		errs = append(errs, errors.New("warehouse.host is required"))
	}
	if c.Warehouse.Name == "" {
		errs = append(errs, errors.New("warehouse.name is required"))
	}
	if len(c.Clusters) == 0 {
		errs = append(errs, errors.New("at least one cluster is required"))
	}
	if c.Fanout.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("fanout.concurrency must be positive, got %d", c.Fanout.Concurrency))
	}
	if c.Sink.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("sink.chunksize must be positive, got %d", c.Sink.ChunkSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
