// Package config loads the YAML file that describes a managed table, the
// database that holds it and the process around it.
//
// Example:
//
//	logger:
//	  level: debug
//	table:
//	  table: nodes
//	  database:
//	    host: localhost
//	    dbname: graph
//	  create_db: true
//	  create_table: true
//	  schema:
//	    id:    {type: INTEGER, primary_key: true}
//	    left:  {type: INTEGER, nullable: true}
//	    right: {type: INTEGER, nullable: true}
//	  ptr_map:
//	    left: id
//	    right: id
package config

import (
	"os"
	"time"

	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/filestore"
	"github.com/koustreak/pgtable/internal/logger"
	"go.yaml.in/yaml/v3"
)

// Config is the root of the configuration file.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Table     Table            `yaml:"table"`
	Backoff   backoff.Config   `yaml:"backoff"`
	Filestore filestore.Config `yaml:"filestore"`
	Server    ServerConfig     `yaml:"server"`
}

// ServerConfig configures the HTTP read surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Logger: *logger.DefaultConfig(),
		Table: Table{
			Database: database.DefaultIdentity(""),
		},
		Backoff:   backoff.DefaultConfig(),
		Filestore: *filestore.DefaultConfig("."),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads, decodes and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to read config file", err)
	}
	return Parse(data)
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to parse config", err)
	}
	if cfg.Table.Database.MaintenanceDB == "" {
		cfg.Table.Database.MaintenanceDB = database.DefaultMaintenanceDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Table.Validate(); err != nil {
		return err
	}
	switch c.Filestore.Provider {
	case "", filestore.ProviderLocal:
	case filestore.ProviderMinIO:
		if c.Filestore.Endpoint == "" || c.Filestore.Bucket == "" {
			return errs.New(errs.ErrKindConfig, "filestore: minio requires endpoint and bucket")
		}
	default:
		return errs.Newf(errs.ErrKindConfig, "filestore: unknown provider %q", c.Filestore.Provider)
	}
	if c.Backoff.Factor != 0 && c.Backoff.Factor < 1 {
		return errs.Newf(errs.ErrKindConfig, "backoff: factor %v must be at least 1", c.Backoff.Factor)
	}
	if c.Backoff.Overflows() {
		return errs.Newf(errs.ErrKindConfig, "backoff: initial × factor^steps exceeds %s", backoff.MaxDelay)
	}
	return nil
}
