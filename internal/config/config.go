package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-txn-ledger/pkg/mysql"
)

// 儲存層種類
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// 帳戶鎖種類
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	MySQL  mysql.Config `yaml:"mysql"`
	Lock   LockConfig   `yaml:"lock"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// 是否註冊 gRPC reflection (方便 grpcurl 測試)
	Reflection bool `yaml:"reflection"`
}

type StoreConfig struct {
	// memory 或 mysql
	Driver string `yaml:"driver"`
	// memory 模式的 WAL 路徑，空字串表示不寫 WAL
	WALPath string `yaml:"wal_path"`
	// mysql 模式啟動時是否自動建立資料表
	AutoMigrate bool `yaml:"auto_migrate"`
}

type LockConfig struct {
	// local (單一實例) 或 redis (多實例共用 MySQL)
	Driver        string        `yaml:"driver"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// 輸出人類可讀格式 (開發用)，否則為 JSON
	Pretty bool `yaml:"pretty"`
}

// Load 讀取 YAML 設定檔，套用環境變數覆寫、補全預設值並驗證
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 內容
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv 以 LEDGER_* 環境變數覆寫敏感或依部署環境而異的設定
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"LEDGER_GRPC_ADDR":      &c.Server.GRPCAddr,
		"LEDGER_METRICS_ADDR":   &c.Server.MetricsAddr,
		"LEDGER_STORE_DRIVER":   &c.Store.Driver,
		"LEDGER_MYSQL_HOST":     &c.MySQL.Host,
		"LEDGER_MYSQL_USER":     &c.MySQL.User,
		"LEDGER_MYSQL_PASSWORD": &c.MySQL.Password,
		"LEDGER_MYSQL_DB":       &c.MySQL.DBName,
		"LEDGER_LOCK_DRIVER":    &c.Lock.Driver,
		"LEDGER_REDIS_ADDR":     &c.Lock.RedisAddr,
		"LEDGER_REDIS_PASSWORD": &c.Lock.RedisPassword,
		"LEDGER_LOG_LEVEL":      &c.Log.Level,
	}
	for key, target := range overrides {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = LockLocal
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	// 補全 MySQL 預設配置 (如果 yaml 沒寫)
	c.MySQL = c.MySQL.WithDefaults()
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return fmt.Errorf("config: mysql.host and mysql.db_name are required for store driver %q", StoreMySQL)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("config: lock.redis_addr is required for lock driver %q", LockRedis)
		}
	default:
		return fmt.Errorf("config: unknown lock.driver %q", c.Lock.Driver)
	}
	return nil
}
