package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 定位垫追踪服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 资源存储后端配置
	Store struct {
		// 后端类型：rest（远程 FHIR 存储）、postgres、memory
		Backend string

		// REST 后端配置（远程 FHIR 存储）
		BaseURL      string
		ClientID     string
		ClientSecret string
		Timeout      int // 请求超时（秒），默认 30
	}

	// 定位垫生命周期管理配置
	Tracker struct {
		// 过期扫描间隔（秒），默认 300 秒（5 分钟）
		SweepInterval int

		// 重复记录清理间隔（秒），0 表示仅启动时执行一次
		ReconcileInterval int

		// 生命周期事件发布（Redis Streams）
		EventsEnabled bool
		EventStream   string // 事件流名称，如 "positioner:events"

		// 统计快照缓存 TTL（秒），默认 60 秒
		StatsCacheTTL int
	}

	HTTP struct {
		Addr string // 监听地址，如 ":8086"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "positioner")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	// 资源存储后端
	cfg.Store.Backend = getEnv("STORE_BACKEND", "postgres")
	cfg.Store.BaseURL = getEnv("FHIR_BASE_URL", "")
	cfg.Store.ClientID = getEnv("FHIR_CLIENT_ID", "")
	cfg.Store.ClientSecret = getEnv("FHIR_CLIENT_SECRET", "")
	cfg.Store.Timeout = getEnvInt("FHIR_TIMEOUT", 30)

	// 生命周期管理
	cfg.Tracker.SweepInterval = getEnvInt("SWEEP_INTERVAL", 300)
	cfg.Tracker.ReconcileInterval = getEnvInt("RECONCILE_INTERVAL", 0)
	cfg.Tracker.EventsEnabled = getEnv("EVENTS_ENABLED", "true") == "true"
	cfg.Tracker.EventStream = getEnv("EVENT_STREAM", "positioner:events")
	cfg.Tracker.StatsCacheTTL = getEnvInt("STATS_CACHE_TTL", 60)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// REST 后端必须提供 BaseURL
	if cfg.Store.Backend == "rest" && cfg.Store.BaseURL == "" {
		return nil, fmt.Errorf("FHIR_BASE_URL is required when STORE_BACKEND=rest")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
