// Package config loads the service configuration: built-in defaults, then
// an optional TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mysqldrv "github.com/go-sql-driver/mysql"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	Auth     AuthConfig     `toml:"auth"`
	Admin    AdminConfig    `toml:"admin"`
	Database DatabaseConfig `toml:"database"`
	MySQL    MySQLConfig    `toml:"mysql"`
	Redis    RedisConfig    `toml:"redis"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
}

type AppConfig struct {
	Name        string   `toml:"name"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"`
	CORSOrigins []string `toml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret  string `toml:"jwt_secret"`
	BcryptCost int    `toml:"bcrypt_cost"`
	// DisableAdminSignup rejects "role": "admin" on POST /api/register.
	DisableAdminSignup bool `toml:"disable_admin_signup"`
}

// AdminConfig is the administrator account seeded at startup.
type AdminConfig struct {
	Username string `toml:"username"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
	FullName string `toml:"full_name"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	RetryMax    int    `toml:"retry_max"`
	RetryBaseMS int    `toml:"retry_base_ms"`
}

type MySQLConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	// Params holds extra DSN parameters in query form, e.g. "timeout=5s".
	Params string `toml:"params"`
}

// RedisConfig enables the auth rate limiter when Addr is set.
type RedisConfig struct {
	Addr              string `toml:"addr"`
	Password          string `toml:"password"`
	DB                int    `toml:"db"`
	AuthLimit         int    `toml:"auth_limit"`
	AuthWindowSeconds int    `toml:"auth_window_seconds"`
}

// RabbitMQConfig enables lifecycle event publishing when URL is set.
type RabbitMQConfig struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue"`
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != DriverMySQL && c.Database.Driver != DriverSQLite {
		errs = append(errs, fmt.Errorf("database.driver %q: want %q or %q", c.Database.Driver, DriverMySQL, DriverSQLite))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.App.Port < 1 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port %d out of range", c.App.Port))
	}
	if c.Admin.Password == "" {
		errs = append(errs, errors.New("admin.password must be set"))
	}
	if c.Database.RetryMax < 0 {
		errs = append(errs, errors.New("database.retry_max must not be negative"))
	}
	if _, err := url.ParseQuery(c.MySQL.Params); err != nil {
		errs = append(errs, fmt.Errorf("mysql.params: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// MySQLDSN builds the go-sql-driver DSN. Times are parsed into UTC and
// UPDATE reports matched rather than changed rows, so an update that
// leaves a row as it was is not mistaken for a missing row.
func (c *Config) MySQLDSN() string {
	dc := mysqldrv.NewConfig()
	dc.User = c.MySQL.User
	dc.Passwd = c.MySQL.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", c.MySQL.Host, c.MySQL.Port)
	dc.DBName = c.MySQL.Database
	dc.ParseTime = true
	dc.ClientFoundRows = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}

	extra, _ := url.ParseQuery(c.MySQL.Params)
	for k := range extra {
		dc.Params[k] = extra.Get(k)
	}
	return dc.FormatDSN()
}

// LogLevel maps app.log_level to a slog level; unknown values mean info.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.App.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Database.RetryBaseMS) * time.Millisecond
}

func (c *Config) AuthWindow() time.Duration {
	return time.Duration(c.Redis.AuthWindowSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "user-manager",
			Host:        "0.0.0.0",
			Port:        3000,
			LogLevel:    "info",
			LogFormat:   "text",
			CORSOrigins: []string{"*"},
		},
		Auth: AuthConfig{
			JWTSecret:  "change-me-in-production",
			BcryptCost: 10,
		},
		Admin: AdminConfig{
			Username: "admin",
			Email:    "admin@example.com",
			Password: "admin123",
			FullName: "Administrator",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			SQLitePath:  "data/users.db",
			RetryMax:    3,
			RetryBaseMS: 100,
		},
		MySQL: MySQLConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "root",
			Database: "user_management",
		},
		Redis: RedisConfig{
			AuthLimit:         20,
			AuthWindowSeconds: 60,
		},
		RabbitMQ: RabbitMQConfig{
			Queue: "user.events",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("PORT", cfg.App.Port)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnv("LOG_FORMAT", cfg.App.LogFormat)
	if origins, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.App.CORSOrigins = splitList(origins)
	}

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.BcryptCost = getEnvAsInt("BCRYPT_COST", cfg.Auth.BcryptCost)
	cfg.Auth.DisableAdminSignup = getEnvAsBool("DISABLE_ADMIN_SIGNUP", cfg.Auth.DisableAdminSignup)

	cfg.Admin.Username = getEnv("ADMIN_USERNAME", cfg.Admin.Username)
	cfg.Admin.Email = getEnv("ADMIN_EMAIL", cfg.Admin.Email)
	cfg.Admin.Password = getEnv("ADMIN_PASSWORD", cfg.Admin.Password)
	cfg.Admin.FullName = getEnv("ADMIN_FULL_NAME", cfg.Admin.FullName)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.SQLitePath = getEnv("DB_PATH", cfg.Database.SQLitePath)
	cfg.Database.RetryMax = getEnvAsInt("DB_RETRY_MAX", cfg.Database.RetryMax)
	cfg.Database.RetryBaseMS = getEnvAsInt("DB_RETRY_BASE_MS", cfg.Database.RetryBaseMS)

	cfg.MySQL.Host = getEnv("MYSQL_HOST", cfg.MySQL.Host)
	cfg.MySQL.Port = getEnvAsInt("MYSQL_PORT", cfg.MySQL.Port)
	cfg.MySQL.User = getEnv("MYSQL_USER", cfg.MySQL.User)
	cfg.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.MySQL.Password)
	cfg.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.MySQL.Database)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", cfg.RabbitMQ.Queue)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
