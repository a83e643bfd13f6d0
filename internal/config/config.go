package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultSessionSecret = "dev-secret-change-me"
	defaultPostgresDSN   = "host=localhost user=postgres password=postgres dbname=simplechat port=5432 sslmode=disable TimeZone=UTC"
	defaultSQLiteDSN     = "simplechat.db"
)

type Config struct {
	Port              string
	Env               string
	LogLevel          string
	DatabaseDriver    string
	DatabaseDSN       string
	SessionSecret     string
	SessionTTLMinutes int
	RateLimitRPS      int
	RateLimitBurst    int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 在值缺失、格式错误或非正数时返回 def。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 从环境变量读取配置。工作目录下若有 .env 文件，用它补全未设置的变量。
// DATABASE_DSN 的默认值随驱动而定。
func Load() Config {
	_ = godotenv.Load()
	driver := getenv("DATABASE_DRIVER", "postgres")
	dsn := defaultPostgresDSN
	if driver == "sqlite" {
		dsn = defaultSQLiteDSN
	}
	return Config{
		Port:              getenv("APP_PORT", "8080"),
		Env:               getenv("APP_ENV", "dev"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		DatabaseDriver:    driver,
		DatabaseDSN:       getenv("DATABASE_DSN", dsn),
		SessionSecret:     getenv("SESSION_SECRET", defaultSessionSecret),
		SessionTTLMinutes: getenvInt("SESSION_TTL_MINUTES", 24*60),
		RateLimitRPS:      getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:    getenvInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate 拒绝服务不应以之启动的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.SessionSecret == defaultSessionSecret {
		return errors.New("SESSION_SECRET must be changed outside dev")
	}
	return nil
}
