// Package config 读取进程配置（环境变量）和数据源目录（YAML）
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	CacheBackendRedis = "redis"
	CacheBackendFile  = "file"
)

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	CronSpec     string
	StartupDelay time.Duration
	QueueSize    int

	BasicAuthUser string
	BasicAuthPass string
	// CrawlToken 非空时，手动触发采集需要 Bearer token
	CrawlToken string

	SourcesFile string

	CacheBackend    string
	CacheDir        string
	CacheMemorySize int

	RateLimit        int
	RateWindow       time.Duration
	InterSourceDelay time.Duration

	LockTTL     time.Duration
	SnapshotTTL time.Duration

	LogDev bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "9000")
	v.SetDefault("POSTGRES_DSN", "host=localhost user=hotlisthub password=hotlisthub dbname=hotlisthub port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("REDIS_ADDR", "localhost:6380")
	v.SetDefault("CRON_SPEC", "*/30 * * * *")
	v.SetDefault("STARTUP_DELAY", "15s")
	v.SetDefault("QUEUE_SIZE", 8)
	v.SetDefault("APP_BASIC_USER", "")
	v.SetDefault("APP_BASIC_PASS", "")
	v.SetDefault("CRAWL_TOKEN", "")
	v.SetDefault("SOURCES_FILE", "")
	v.SetDefault("CACHE_BACKEND", CacheBackendRedis)
	v.SetDefault("CACHE_DIR", "data/cache")
	v.SetDefault("CACHE_MEMORY_SIZE", 100)
	v.SetDefault("RATE_LIMIT", 60)
	v.SetDefault("RATE_WINDOW", "60s")
	v.SetDefault("INTER_SOURCE_DELAY", "2s")
	v.SetDefault("LOCK_TTL", "120s")
	v.SetDefault("SNAPSHOT_TTL", "1h")
	v.SetDefault("LOG_DEV", false)
}

// Load 从环境变量读取配置，未设置的使用默认值
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppPort:          v.GetString("APP_PORT"),
		PostgresDSN:      v.GetString("POSTGRES_DSN"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		CronSpec:         v.GetString("CRON_SPEC"),
		StartupDelay:     v.GetDuration("STARTUP_DELAY"),
		QueueSize:        v.GetInt("QUEUE_SIZE"),
		BasicAuthUser:    v.GetString("APP_BASIC_USER"),
		BasicAuthPass:    v.GetString("APP_BASIC_PASS"),
		CrawlToken:       v.GetString("CRAWL_TOKEN"),
		SourcesFile:      v.GetString("SOURCES_FILE"),
		CacheBackend:     v.GetString("CACHE_BACKEND"),
		CacheDir:         v.GetString("CACHE_DIR"),
		CacheMemorySize:  v.GetInt("CACHE_MEMORY_SIZE"),
		RateLimit:        v.GetInt("RATE_LIMIT"),
		RateWindow:       v.GetDuration("RATE_WINDOW"),
		InterSourceDelay: v.GetDuration("INTER_SOURCE_DELAY"),
		LockTTL:          v.GetDuration("LOCK_TTL"),
		SnapshotTTL:      v.GetDuration("SNAPSHOT_TTL"),
		LogDev:           v.GetBool("LOG_DEV"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendRedis, CacheBackendFile:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendRedis, CacheBackendFile, c.CacheBackend)
	}
	if c.CacheMemorySize <= 0 {
		return fmt.Errorf("CACHE_MEMORY_SIZE must be positive, got %d", c.CacheMemorySize)
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT and RATE_WINDOW must be positive, got %d per %s", c.RateLimit, c.RateWindow)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.InterSourceDelay < 0 || c.StartupDelay < 0 {
		return fmt.Errorf("INTER_SOURCE_DELAY and STARTUP_DELAY must not be negative")
	}
	if (c.BasicAuthUser == "") != (c.BasicAuthPass == "") {
		return fmt.Errorf("APP_BASIC_USER and APP_BASIC_PASS must be set together")
	}
	return nil
}

// BasicAuthEnabled 两者都配置时才开启页面 Basic Auth
func (c *Config) BasicAuthEnabled() bool {
	return c.BasicAuthUser != "" && c.BasicAuthPass != ""
}
