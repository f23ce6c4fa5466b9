package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jasonkayzk/sqlpool/rawconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "pool.toml", `
driver = "mysql"
url = "tcp(127.0.0.1:3306)/app"
username = "root"
password = "secret"
auto_commit = false
isolation = "read_committed"
network_timeout = "5s"
login_timeout = "3s"

[properties]
autocommit = "true"

[pool]
max_active = 4
max_idle = 2
max_checkout_time = "30s"
max_wait_time = "1m30s"
bad_connection_tolerance = 1
ping_enabled = true
ping_query = "SELECT 1"
ping_not_used_for = "5m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Driver)
	assert.Equal(t, "tcp(127.0.0.1:3306)/app", cfg.URL)
	assert.Equal(t, "root", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, map[string]string{"autocommit": "true"}, cfg.Properties)
	assert.Equal(t, 4, cfg.Pool.MaxActive)
	assert.Equal(t, 2, cfg.Pool.MaxIdle)
	assert.Equal(t, 30*time.Second, cfg.Pool.MaxCheckoutTime.Duration)
	assert.Equal(t, 90*time.Second, cfg.Pool.MaxWaitTime.Duration)
	assert.Equal(t, 1, cfg.Pool.BadConnectionTolerance)
	assert.True(t, cfg.Pool.PingEnabled)
	assert.Equal(t, "SELECT 1", cfg.Pool.PingQuery)
	assert.Equal(t, 5*time.Minute, cfg.Pool.PingNotUsedFor.Duration)

	require.NotNil(t, cfg.AutoCommit)
	assert.False(t, *cfg.AutoCommit)
	assert.Equal(t, 5*time.Second, cfg.NetworkTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.LoginTimeout.Duration)

	o := cfg.Options(cfg.Factory())
	assert.Equal(t, "mysql", o.Driver)
	assert.Equal(t, sql.LevelReadCommitted, o.DefaultTransactionIsolation)
	assert.Equal(t, 5*time.Second, o.DefaultNetworkTimeout)
	assert.Equal(t, 3*time.Second, o.LoginTimeout)
}

func TestLoad_YAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "pool.yaml", `
driver: postgres
url: postgres://localhost:5432/app?sslmode=disable
pool:
  max_active: 8
  max_wait_time: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 8, cfg.Pool.MaxActive)
	assert.Equal(t, 2*time.Second, cfg.Pool.MaxWaitTime.Duration)

	def := Default()
	assert.Equal(t, def.Pool.MaxIdle, cfg.Pool.MaxIdle)
	assert.Equal(t, def.Pool.MaxCheckoutTime, cfg.Pool.MaxCheckoutTime)
	assert.Equal(t, def.Pool.PingQuery, cfg.Pool.PingQuery)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "pool.yml", "driver: mysql\nurl: tcp(db:3306)/app\nusername: app\n")
	t.Setenv("SQLPOOL_URL", "tcp(other:3306)/app")
	t.Setenv("SQLPOOL_PASSWORD", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp(other:3306)/app", cfg.URL)
	assert.Equal(t, "app", cfg.Username)
	assert.Equal(t, "from-env", cfg.Password)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "pool.json", "{}"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeFile(t, "pool.toml", `url = "x"`))
	assert.ErrorContains(t, err, "driver is required")

	_, err = Load(writeFile(t, "pool.yaml", "driver: mysql\npool:\n  max_active: 0\n"))
	assert.ErrorContains(t, err, "max_active")

	_, err = Load(writeFile(t, "pool.yaml", "driver: mysql\npool:\n  max_wait_time: soon\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "pool.yaml", "driver: mysql\nisolation: eventual\n"))
	assert.ErrorContains(t, err, "unknown isolation level")

	_, err = Load(writeFile(t, "pool.yaml", "driver: mysql\nlogin_timeout: -1s\n"))
	assert.ErrorContains(t, err, "login_timeout")
}

func TestFile_Options(t *testing.T) {
	cfg := Default()
	cfg.Driver = "sqlite3"
	cfg.URL = "file::memory:"
	cfg.Properties = map[string]string{"cache": "shared"}
	cfg.Pool.MaxActive = 3

	factory := cfg.Factory()
	sqlFactory, ok := factory.(*rawconn.SQLFactory)
	require.True(t, ok)
	assert.Equal(t, "sqlite3", sqlFactory.Driver)

	o := cfg.Options(factory)
	assert.Equal(t, "file::memory:", o.URL)
	assert.Equal(t, map[string]string{"cache": "shared"}, o.DriverProperties)
	assert.Equal(t, 3, o.MaxActive)
	assert.Equal(t, 20*time.Second, o.MaxCheckoutTime)
	assert.Equal(t, 20*time.Second, o.MaxWaitTime)
	assert.Equal(t, "NO PING QUERY SET", o.PingQuery)
	assert.Same(t, sqlFactory, o.Factory)
	assert.Nil(t, o.DefaultAutoCommit)
	assert.Equal(t, sql.LevelDefault, o.DefaultTransactionIsolation)
}

func TestIsolationLevel(t *testing.T) {
	for name, want := range map[string]sql.IsolationLevel{
		"":                 sql.LevelDefault,
		"read_uncommitted": sql.LevelReadUncommitted,
		"Repeatable Read":  sql.LevelRepeatableRead,
		"SERIALIZABLE":     sql.LevelSerializable,
	} {
		got, err := isolationLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	cfg, err := Read("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Driver)
	assert.Error(t, cfg.Validate())

	cfg.Driver = "mysql"
	assert.NoError(t, cfg.Validate())
}
