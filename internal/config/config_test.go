package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, LockLocal, cfg.Lock.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, 10, cfg.MySQL.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.MySQL.ConnMaxLifetime)
}

func TestLoadMySQLAndRedis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  grpc_addr: ":6000"
  metrics_addr: ":9100"
store:
  driver: mysql
  auto_migrate: true
mysql:
  host: db
  port: 3307
  user: ledger
  db_name: ledger
  max_open_conns: 20
  conn_max_lifetime: 5m
lock:
  driver: redis
  redis_addr: redis:6379
  ttl: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, StoreMySQL, cfg.Store.Driver)
	assert.True(t, cfg.Store.AutoMigrate)
	assert.Equal(t, 20, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.MySQL.ConnMaxLifetime)
	assert.Equal(t, "ledger:@tcp(db:3307)/ledger?charset=utf8mb4&parseTime=True&loc=UTC", cfg.MySQL.DSN())
	assert.Equal(t, 2*time.Second, cfg.Lock.TTL)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LEDGER_MYSQL_PASSWORD": "s3cret",
		"LEDGER_LOG_LEVEL":      "debug",
		"LEDGER_GRPC_ADDR":      "  ",
	}
	cfg := Config{Server: ServerConfig{GRPCAddr: ":1"}}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "s3cret", cfg.MySQL.Password)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":1", cfg.Server.GRPCAddr)
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("store:\n  driver: mongo\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("store:\n  driver: mysql\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("lock:\n  driver: redis\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("lock:\n  driver: zookeeper\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
