package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "50051", cfg.Server.GRPCPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenDuration)
	assert.Equal(t, "taskboard_task_changes", cfg.Realtime.NotifyChannel)
	assert.Empty(t, cfg.Redis.Addr)
	assert.NoError(t, cfg.ValidateConfig())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("GRPC_PORT", "6000")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/tb.db")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "7")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_ACCESS_TOKEN_DURATION", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.Server.GRPCPort)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/tb.db", cfg.Database.SQLitePath)
	assert.Equal(t, 7, cfg.Security.MaxLoginAttempts)
	assert.Equal(t, 90*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenDuration)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "bad driver", modify: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "DB_DRIVER"},
		{name: "no login attempts", modify: func(c *Config) { c.Security.MaxLoginAttempts = 0 }, wantErr: "MAX_LOGIN_ATTEMPTS"},
		{
			name: "default secrets in production",
			modify: func(c *Config) {
				c.Server.Environment = "production"
			},
			wantErr: "default JWT secrets",
		},
		{
			name: "production with own secrets",
			modify: func(c *Config) {
				c.Server.Environment = "production"
				c.JWT.AccessSecret = "a"
				c.JWT.RefreshSecret = "r"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.modify(cfg)

			err = cfg.ValidateConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestToDatabaseConfig(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Database.Host = "db"
	cfg.Database.Port = 5433

	dbCfg := cfg.ToDatabaseConfig()
	assert.Equal(t, "db", dbCfg.Host)
	assert.Equal(t, 5433, dbCfg.Port)
	assert.Contains(t, dbCfg.DSN(), "host=db port=5433")
}
