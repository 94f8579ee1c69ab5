// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gurkanbulca/taskboard/internal/database"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

const (
	defaultAccessSecret  = "dev-access-secret-change-in-production"
	defaultRefreshSecret = "dev-refresh-secret-change-in-production"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Security SecurityConfig
	Email    EmailConfig
	Redis    RedisConfig
	Realtime RealtimeConfig
}

type ServerConfig struct {
	GRPCPort    string
	Environment string
	AutoMigrate bool
	LogLevel    string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// SQLitePath is used when Driver is "sqlite3".
	SQLitePath string
}

type JWTConfig struct {
	AccessSecret         string
	RefreshSecret        string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

type SecurityConfig struct {
	MaxLoginAttempts       int
	AccountLockoutDuration time.Duration
	PasswordResetTokenTTL  time.Duration
	PasswordResetCooldown  time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
	UseTLS       bool
	TestingMode  bool
	AppBaseURL   string
}

// RedisConfig configures the task snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type RealtimeConfig struct {
	NotifyChannel        string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			GRPCPort:    getEnv("GRPC_PORT", "50051"),
			Environment: getEnv("ENVIRONMENT", "development"),
			AutoMigrate: getEnvAsBool("AUTO_MIGRATE", true),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "taskboard"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),

			SQLitePath: getEnv("DB_PATH", "taskboard.db"),
		},
		JWT: JWTConfig{
			AccessSecret:         getEnv("JWT_ACCESS_SECRET", getEnv("JWT_SECRET", defaultAccessSecret)),
			RefreshSecret:        getEnv("JWT_REFRESH_SECRET", getEnv("JWT_SECRET", defaultRefreshSecret)),
			AccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TOKEN_DURATION", 7*24*time.Hour),
		},
		Security: SecurityConfig{
			MaxLoginAttempts:       getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			AccountLockoutDuration: getEnvAsDuration("ACCOUNT_LOCKOUT_DURATION", 30*time.Minute),
			PasswordResetTokenTTL:  getEnvAsDuration("PASSWORD_RESET_TOKEN_TTL", time.Hour),
			PasswordResetCooldown:  getEnvAsDuration("PASSWORD_RESET_COOLDOWN", 15*time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("SMTP_FROM_EMAIL", "noreply@taskboard.local"),
			FromName:     getEnv("SMTP_FROM_NAME", "Taskboard"),
			UseTLS:       getEnvAsBool("SMTP_USE_TLS", true),
			TestingMode:  getEnvAsBool("EMAIL_TESTING_MODE", false),
			AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			CacheTTL: getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Realtime: RealtimeConfig{
			NotifyChannel:        getEnv("NOTIFY_CHANNEL", "taskboard_task_changes"),
			MinReconnectInterval: getEnvAsDuration("LISTENER_MIN_RECONNECT", 10*time.Second),
			MaxReconnectInterval: getEnvAsDuration("LISTENER_MAX_RECONNECT", time.Minute),
		},
	}, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, "development")
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// ValidateConfig rejects settings that are unsafe or unusable.
func (c *Config) ValidateConfig() error {
	var errs []error

	if c.Server.GRPCPort == "" {
		errs = append(errs, errors.New("GRPC_PORT is required"))
	}
	if c.JWT.AccessTokenDuration <= 0 || c.JWT.RefreshTokenDuration <= 0 {
		errs = append(errs, errors.New("JWT token durations must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver))
	}
	if c.Security.MaxLoginAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive, got %d", c.Security.MaxLoginAttempts))
	}
	if c.IsProduction() {
		if c.JWT.AccessSecret == defaultAccessSecret || c.JWT.RefreshSecret == defaultRefreshSecret {
			errs = append(errs, errors.New("default JWT secrets must not be used in production"))
		}
		if c.Email.TestingMode {
			errs = append(errs, errors.New("EMAIL_TESTING_MODE must be disabled in production"))
		}
	}

	return errors.Join(errs...)
}

// ToDatabaseConfig converts the database section for database.Open.
func (c *Config) ToDatabaseConfig() database.Config {
	return database.Config{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		DBName:   c.Database.DBName,
		SSLMode:  c.Database.SSLMode,
		Debug:    c.IsDevelopment() && strings.EqualFold(c.Server.LogLevel, "debug"),
	}
}

// ToEmailConfig converts the email section for the SMTP mailer.
func (c *Config) ToEmailConfig() email.Config {
	return email.Config{
		SMTPHost:     c.Email.SMTPHost,
		SMTPPort:     c.Email.SMTPPort,
		SMTPUsername: c.Email.SMTPUsername,
		SMTPPassword: c.Email.SMTPPassword,
		FromEmail:    c.Email.FromEmail,
		FromName:     c.Email.FromName,
		UseTLS:       c.Email.UseTLS,
		AppBaseURL:   c.Email.AppBaseURL,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	// Try parsing as duration string (e.g., "15m", "24h")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}

	return defaultValue
}
