package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrules/internal/blob"
	"github.com/roach88/docrules/internal/store"
)

// Config is the process config file.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Triggers  TriggersConfig  `yaml:"triggers"`
	Blob      blob.Config     `yaml:"blob"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TriggersConfig struct {
	// Concurrency bounds rule-set runs in flight per trigger runner.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the config used when no file is given.
func DefaultConfig() Config {
	return Config{
		Store:     StoreConfig{Driver: store.DriverSQLite3, DSN: "docrules.db"},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Scheduler: SchedulerConfig{Enabled: true},
		Triggers:  TriggersConfig{Concurrency: 8},
		Blob:      blob.Config{Driver: blob.DriverFilesystem, FS: blob.FSConfig{Root: "blobs"}},
	}
}

// LoadConfig reads path over the defaults. Unknown keys are an error. An
// empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields the process cannot start without.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case store.DriverSQLite3, store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Triggers.Concurrency < 0 {
		errs = append(errs, errors.New("triggers.concurrency must not be negative"))
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver: unsupported driver %q", c.Blob.Driver))
	}
	return errors.Join(errs...)
}
