// Package config loads pool configuration from TOML or YAML files.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jasonkayzk/sqlpool/pooled"
	"github.com/jasonkayzk/sqlpool/rawconn"
	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration of one pooled data source.
type File struct {
	Driver     string            `toml:"driver" yaml:"driver"`
	URL        string            `toml:"url" yaml:"url"`
	Username   string            `toml:"username" yaml:"username"`
	Password   string            `toml:"password" yaml:"password"`
	Properties map[string]string `toml:"properties" yaml:"properties"`

	// Defaults of every new physical connection
	AutoCommit     *bool    `toml:"auto_commit" yaml:"auto_commit"`
	Isolation      string   `toml:"isolation" yaml:"isolation"`
	NetworkTimeout Duration `toml:"network_timeout" yaml:"network_timeout"`
	LoginTimeout   Duration `toml:"login_timeout" yaml:"login_timeout"`

	Pool Pool `toml:"pool" yaml:"pool"`
}

// Pool holds the pool sizing and health check settings.
type Pool struct {
	MaxActive              int      `toml:"max_active" yaml:"max_active"`
	MaxIdle                int      `toml:"max_idle" yaml:"max_idle"`
	MaxCheckoutTime        Duration `toml:"max_checkout_time" yaml:"max_checkout_time"`
	MaxWaitTime            Duration `toml:"max_wait_time" yaml:"max_wait_time"`
	BadConnectionTolerance int      `toml:"bad_connection_tolerance" yaml:"bad_connection_tolerance"`
	PingEnabled            bool     `toml:"ping_enabled" yaml:"ping_enabled"`
	PingQuery              string   `toml:"ping_query" yaml:"ping_query"`
	PingNotUsedFor         Duration `toml:"ping_not_used_for" yaml:"ping_not_used_for"`
}

// Duration decodes strings such as "20s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a configuration carrying the pool defaults.
func Default() *File {
	o := pooled.DefaultOptions()
	return &File{
		Pool: Pool{
			MaxActive:              o.MaxActive,
			MaxIdle:                o.MaxIdle,
			MaxCheckoutTime:        Duration{o.MaxCheckoutTime},
			MaxWaitTime:            Duration{o.MaxWaitTime},
			BadConnectionTolerance: o.BadConnectionTolerance,
			PingEnabled:            o.PingEnabled,
			PingQuery:              o.PingQuery,
			PingNotUsedFor:         Duration{o.PingNotUsedFor},
		},
	}
}

// Load loads configuration from file and environment variables.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*File, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers layering more overrides on top.
func Read(path string) (*File, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *File) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		_, err := toml.DecodeFile(path, cfg)
		return err
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func applyEnvOverrides(cfg *File) {
	if v := os.Getenv("SQLPOOL_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("SQLPOOL_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("SQLPOOL_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SQLPOOL_PASSWORD"); v != "" {
		cfg.Password = v
	}
}

func (f *File) Validate() error {
	if f.Driver == "" {
		return errors.New("driver is required")
	}
	if f.Pool.MaxActive < 1 {
		return fmt.Errorf("pool.max_active must be at least 1, got %d", f.Pool.MaxActive)
	}
	if f.Pool.MaxIdle < 0 {
		return fmt.Errorf("pool.max_idle must not be negative, got %d", f.Pool.MaxIdle)
	}
	if f.Pool.BadConnectionTolerance < 0 {
		return fmt.Errorf("pool.bad_connection_tolerance must not be negative, got %d", f.Pool.BadConnectionTolerance)
	}
	if f.NetworkTimeout.Duration < 0 || f.LoginTimeout.Duration < 0 {
		return errors.New("network_timeout and login_timeout must not be negative")
	}
	if _, err := isolationLevel(f.Isolation); err != nil {
		return err
	}
	return nil
}

// isolationLevel maps names such as "read_committed" or "Serializable" to
// database/sql levels. Empty is the driver default.
func isolationLevel(name string) (sql.IsolationLevel, error) {
	if name == "" {
		return sql.LevelDefault, nil
	}
	want := strings.ReplaceAll(strings.ToLower(name), "_", " ")
	for l := sql.LevelDefault; l <= sql.LevelLinearizable; l++ {
		if strings.ToLower(l.String()) == want {
			return l, nil
		}
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", name)
}

// Factory returns a factory opening connections through the configured driver.
func (f *File) Factory() rawconn.Factory {
	return rawconn.NewSQLFactory(f.Driver)
}

// Options converts the file into pool options using factory.
func (f *File) Options(factory rawconn.Factory) pooled.Options {
	isolation, _ := isolationLevel(f.Isolation)
	return pooled.Options{
		Driver:                      f.Driver,
		DefaultAutoCommit:           f.AutoCommit,
		DefaultTransactionIsolation: isolation,
		DefaultNetworkTimeout:       f.NetworkTimeout.Duration,
		LoginTimeout:                f.LoginTimeout.Duration,
		URL:                         f.URL,
		Username:                    f.Username,
		Password:                    f.Password,
		DriverProperties:            f.Properties,
		Factory:                     factory,
		MaxActive:                   f.Pool.MaxActive,
		MaxIdle:                     f.Pool.MaxIdle,
		MaxCheckoutTime:             f.Pool.MaxCheckoutTime.Duration,
		MaxWaitTime:                 f.Pool.MaxWaitTime.Duration,
		BadConnectionTolerance:      f.Pool.BadConnectionTolerance,
		PingEnabled:                 f.Pool.PingEnabled,
		PingQuery:                   f.Pool.PingQuery,
		PingNotUsedFor:              f.Pool.PingNotUsedFor.Duration,
	}
}
