package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allKeys = []string{
	"APP_PORT", "APP_ENV", "LOG_LEVEL", "DATABASE_DRIVER", "DATABASE_DSN",
	"SESSION_SECRET", "SESSION_TTL_MINUTES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, defaultPostgresDSN, cfg.DatabaseDSN)
	assert.Equal(t, defaultSessionSecret, cfg.SessionSecret)
	assert.Equal(t, 24*60, cfg.SessionTTLMinutes)
	assert.Equal(t, 20, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.NoError(t, Validate(cfg))
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "chat.db")
	t.Setenv("SESSION_SECRET", "my-secret")
	t.Setenv("SESSION_TTL_MINUTES", "30")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "10")

	cfg := Load()

	assert.Equal(t, Config{
		Port:              "9090",
		Env:               "prod",
		LogLevel:          "debug",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "chat.db",
		SessionSecret:     "my-secret",
		SessionTTLMinutes: 30,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
	}, cfg)
}

func TestLoad_DefaultDSNPerDriver(t *testing.T) {
	tests := []struct {
		driver string
		dsn    string
		want   string
	}{
		{"postgres", "", defaultPostgresDSN},
		{"sqlite", "", defaultSQLiteDSN},
		{"sqlite", "other.db", "other.db"},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.dsn, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_DRIVER", tt.driver)
			t.Setenv("DATABASE_DSN", tt.dsn)

			cfg := Load()

			assert.Equal(t, tt.want, cfg.DatabaseDSN)
			assert.NoError(t, Validate(cfg))
		})
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_TTL_MINUTES", "invalid")
	t.Setenv("RATE_LIMIT_RPS", "-5")

	cfg := Load()

	assert.Equal(t, 24*60, cfg.SessionTTLMinutes)
	assert.Equal(t, 20, cfg.RateLimitRPS)
}

func TestValidate(t *testing.T) {
	valid := Config{Port: "8080", Env: "dev", DatabaseDriver: "postgres", DatabaseDSN: "postgres://localhost/test", SessionSecret: defaultSessionSecret}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid dev config", func(*Config) {}, false},
		{"valid prod config", func(c *Config) { c.Env = "prod"; c.SessionSecret = "production-secret" }, false},
		{"sqlite driver", func(c *Config) { c.DatabaseDriver = "sqlite" }, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"empty secret", func(c *Config) { c.SessionSecret = "" }, true},
		{"default secret in prod", func(c *Config) { c.Env = "prod" }, true},
		{"default secret in test env", func(c *Config) { c.Env = "test" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
