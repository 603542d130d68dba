// Package config loads herdcore settings from an optional YAML file followed by
// HERDCORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBlob     = "blob"
)

// Blob drivers.
const (
	BlobMemory     = "memory"
	BlobFilesystem = "fs"
	BlobS3         = "s3"
)

// Notifier and ledger drivers.
const (
	DriverNone     = "none"
	NotifierMemory = "memory"
	NotifierRedis  = "redis"
	LedgerMemory   = "memory"
	LedgerSQL      = "sql"
)

// Config is the full herdcore configuration.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Blob     Blob     `yaml:"blob"`
	Notifier Notifier `yaml:"notifier"`
	Ledger   Ledger   `yaml:"ledger"`
	Log      Log      `yaml:"log"`
	Alerts   Alerts   `yaml:"alerts"`
}

// Storage selects the persistent store for animals and events.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// BlobPrefix and BlobRetain apply when Driver is "blob".
	BlobPrefix string `yaml:"blob_prefix"`
	BlobRetain int    `yaml:"blob_retain"`
}

// Blob selects the object store used by the blob storage driver.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 holds bucket settings. Empty credentials use the default AWS chain.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// Notifier selects the reminder gateway.
type Notifier struct {
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Ledger selects where expense records go.
type Ledger struct {
	Driver string `yaml:"driver"`
	// SQLDriver is "sqlite" or "pgx".
	SQLDriver string `yaml:"sql_driver"`
	DSN       string `yaml:"dsn"`
}

// Log configures the logrus logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alerts tunes background reminder scheduling.
type Alerts struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: Storage{
			Driver:     StorageSQLite,
			SQLitePath: "herdcore.db",
			BlobPrefix: "herd/state/",
			BlobRetain: 5,
		},
		Blob: Blob{
			Driver: BlobFilesystem,
			FSRoot: "blobdata",
			S3:     S3{Region: "us-east-1"},
		},
		Notifier: Notifier{Driver: DriverNone, RedisAddr: "localhost:6379", KeyPrefix: "herdcore"},
		Ledger:   Ledger{Driver: DriverNone, SQLDriver: "sqlite"},
		Log:      Log{Level: "info", Format: "json"},
		Alerts:   Alerts{Timeout: 10 * time.Second},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from HERDCORE_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("HERDCORE_STORAGE_DRIVER", &c.Storage.Driver)
	str("HERDCORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("HERDCORE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("HERDCORE_BLOB_PREFIX", &c.Storage.BlobPrefix)
	integer("HERDCORE_BLOB_RETAIN", &c.Storage.BlobRetain)

	str("HERDCORE_BLOB_DRIVER", &c.Blob.Driver)
	str("HERDCORE_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("HERDCORE_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("HERDCORE_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("HERDCORE_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("HERDCORE_BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("HERDCORE_BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	if v, ok := lookup("HERDCORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid HERDCORE_BLOB_S3_PATH_STYLE: %w", err))
		} else {
			c.Blob.S3.PathStyle = b
		}
	}

	str("HERDCORE_NOTIFIER_DRIVER", &c.Notifier.Driver)
	str("HERDCORE_REDIS_ADDR", &c.Notifier.RedisAddr)
	integer("HERDCORE_REDIS_DB", &c.Notifier.RedisDB)
	str("HERDCORE_REDIS_KEY_PREFIX", &c.Notifier.KeyPrefix)

	str("HERDCORE_LEDGER_DRIVER", &c.Ledger.Driver)
	str("HERDCORE_LEDGER_SQL_DRIVER", &c.Ledger.SQLDriver)
	str("HERDCORE_LEDGER_DSN", &c.Ledger.DSN)

	str("HERDCORE_LOG_LEVEL", &c.Log.Level)
	str("HERDCORE_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("HERDCORE_ALERT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid HERDCORE_ALERT_TIMEOUT: %w", err))
		} else {
			c.Alerts.Timeout = d
		}
	}
	return errors.Join(errs...)
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			errs = append(errs, errors.New("storage.sqlite_path required for sqlite driver"))
		}
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("storage.postgres_dsn required for postgres driver"))
		}
	case StorageBlob:
		if c.Storage.BlobRetain < 1 {
			errs = append(errs, errors.New("storage.blob_retain must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Blob.Driver {
	case BlobMemory, BlobFilesystem:
	case BlobS3:
		if c.Storage.Driver == StorageBlob && c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	switch c.Notifier.Driver {
	case DriverNone, NotifierMemory:
	case NotifierRedis:
		if c.Notifier.RedisAddr == "" {
			errs = append(errs, errors.New("notifier.redis_addr required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver))
	}

	switch c.Ledger.Driver {
	case DriverNone, LedgerMemory:
	case LedgerSQL:
		if c.Ledger.SQLDriver != "sqlite" && c.Ledger.SQLDriver != "pgx" {
			errs = append(errs, fmt.Errorf("unknown ledger sql driver %q", c.Ledger.SQLDriver))
		}
		if c.Ledger.DSN == "" {
			errs = append(errs, errors.New("ledger.dsn required for sql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver))
	}

	if c.Alerts.Timeout <= 0 {
		errs = append(errs, errors.New("alerts.timeout must be positive"))
	}
	return errors.Join(errs...)
}
