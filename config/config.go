// Package config resolves fieldsync settings in priority order:
// defaults -> YAML file -> FIELDSYNC_* environment variables, and opens the
// stores they name.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/fieldsync"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FIELDSYNC_"

type Config struct {
	Store      StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	CacheStore StoreConfig     `yaml:"cache_store" envPrefix:"CACHE_STORE_"`
	Blobs      BlobStoreConfig `yaml:"blobs" envPrefix:"BLOBS_"`
	Cache      CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Queue      QueueConfig     `yaml:"queue" envPrefix:"QUEUE_"`
	Sync       SyncConfig      `yaml:"sync" envPrefix:"SYNC_"`
	Probe      ProbeConfig     `yaml:"probe" envPrefix:"PROBE_"`
	Log        LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// StoreConfig selects a kv.Store.
//
//	driver: sqlite | redis | memory | datastore   (store)
//	driver: "" | bigcache | ristretto | memory | sqlite | redis   (cache_store; "" shares store)
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`     // sqlite file
	URL    string `yaml:"url" env:"URL"`       // redis://...
	Prefix string `yaml:"prefix" env:"PREFIX"` // redis key / datastore namespace

	// in-memory cache drivers
	MaxCostMB  int           `yaml:"max_cost_mb" env:"MAX_COST_MB"`
	LifeWindow time.Duration `yaml:"life_window" env:"LIFE_WINDOW"`
}

// BlobStoreConfig selects where blob payloads live: "kv" (the cache store) or
// "fs" (files under Dir).
type BlobStoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Dir    string `yaml:"dir" env:"DIR"`
}

type NamespaceConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type BlobConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	MaxBytes   int64         `yaml:"max_bytes" env:"MAX_BYTES"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
}

type CacheConfig struct {
	SchemaVersion string                     `yaml:"schema_version" env:"SCHEMA_VERSION"`
	SweepInterval time.Duration              `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	Encoding      string                     `yaml:"encoding" env:"ENCODING"`
	Namespaces    map[string]NamespaceConfig `yaml:"namespaces"`
	Blob          BlobConfig                 `yaml:"blob" envPrefix:"BLOB_"`
}

type QueueConfig struct {
	MaxPending      int `yaml:"max_pending" env:"MAX_PENDING"`
	DeadLetterLimit int `yaml:"dead_letter_limit" env:"DEAD_LETTER_LIMIT"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval" env:"INTERVAL"`
	BatchSize        int           `yaml:"batch_size" env:"BATCH_SIZE"`
	BatchPause       time.Duration `yaml:"batch_pause" env:"BATCH_PAUSE"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"OPERATION_TIMEOUT"`
	ErrorLimit       int           `yaml:"error_limit" env:"ERROR_LIMIT"`
	DisableAutoSync  bool          `yaml:"disable_auto_sync" env:"DISABLE_AUTO_SYNC"`
}

// ProbeConfig enables the reachability probe: URL (HTTP) wins over Addr (TCP).
type ProbeConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Addr     string        `yaml:"addr" env:"ADDR"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

// Default returns the stock configuration: sqlite queue next to the app,
// cache records in the same store, blobs in the cache store.
func Default() Config {
	ns := make(map[string]NamespaceConfig)
	for name, c := range fieldsync.DefaultNamespaces() {
		ns[name] = NamespaceConfig{TTL: c.TTL, MaxEntries: c.MaxEntries}
	}
	return Config{
		Store: StoreConfig{Driver: "sqlite", Path: "fieldsync.db", Prefix: "fieldsync"},
		Blobs: BlobStoreConfig{Driver: "kv"},
		Cache: CacheConfig{
			SchemaVersion: fieldsync.DefaultSchemaVersion,
			SweepInterval: fieldsync.DefaultSweepInterval,
			Encoding:      "json",
			Namespaces:    ns,
			Blob: BlobConfig{
				TTL:        fieldsync.DefaultBlobTTL,
				MaxBytes:   fieldsync.DefaultBlobMaxBytes,
				MaxEntries: fieldsync.DefaultBlobMaxEntries,
			},
		},
		Queue: QueueConfig{DeadLetterLimit: fieldsync.DefaultDeadLetterLimit},
		Sync: SyncConfig{
			Interval:         fieldsync.DefaultSyncInterval,
			BatchSize:        fieldsync.DefaultBatchSize,
			BatchPause:       fieldsync.DefaultBatchPause,
			MaxRetries:       fieldsync.DefaultMaxRetries,
			OperationTimeout: fieldsync.DefaultOperationTimeout,
			ErrorLimit:       fieldsync.DefaultErrorLimit,
		},
		Probe: ProbeConfig{Interval: fieldsync.DefaultProbeInterval, Timeout: 5 * time.Second},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load applies the YAML file at path (skipped when path is empty) and then
// the environment on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "redis":
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for redis"))
		}
	case "memory", "datastore":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, redis, memory, datastore", c.Store.Driver))
	}
	switch c.CacheStore.Driver {
	case "", "bigcache", "ristretto", "memory":
	case "sqlite":
		if c.CacheStore.Path == "" {
			errs = append(errs, errors.New("cache_store.path is required for sqlite"))
		}
	case "redis":
		if c.CacheStore.URL == "" {
			errs = append(errs, errors.New("cache_store.url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache_store.driver %q is unknown", c.CacheStore.Driver))
	}
	switch strings.ToLower(c.Blobs.Driver) {
	case "", "kv":
	case "fs":
		if c.Blobs.Dir == "" {
			errs = append(errs, errors.New("blobs.dir is required for fs"))
		}
	default:
		errs = append(errs, fmt.Errorf("blobs.driver %q is not one of kv, fs", c.Blobs.Driver))
	}
	if _, err := fieldsync.ParseEncoding(c.Cache.Encoding); err != nil {
		errs = append(errs, err)
	}
	for name, ns := range c.Cache.Namespaces {
		if ns.TTL < 0 || ns.MaxEntries < 0 {
			errs = append(errs, fmt.Errorf("cache.namespaces.%s: ttl and max_entries must not be negative", name))
		}
	}
	if c.Cache.Blob.MaxBytes < 0 || c.Cache.Blob.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.blob: budgets must not be negative"))
	}
	if c.Sync.BatchSize < 0 || c.Sync.MaxRetries < 0 || c.Sync.ErrorLimit < 0 {
		errs = append(errs, errors.New("sync: batch_size, max_retries and error_limit must not be negative"))
	}
	if c.Sync.Interval < 0 || c.Sync.OperationTimeout < 0 {
		errs = append(errs, errors.New("sync: interval and operation_timeout must not be negative"))
	}
	if c.Queue.MaxPending < 0 || c.Queue.DeadLetterLimit < 0 {
		errs = append(errs, errors.New("queue: limits must not be negative"))
	}
	return errors.Join(errs...)
}
