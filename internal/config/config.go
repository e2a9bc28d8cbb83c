// Package config предоставляет функции для работы с конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config основная структура конфигурации приложения
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig конфигурация HTTP и gRPC серверов
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	GRPCPort        int           `yaml:"grpc_port" env:"GRPC_PORT"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"` // используется в письмах сброса пароля
	SiteName        string        `yaml:"site_name" env:"SITE_NAME"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// X-Forwarded-For и X-Real-IP учитываются только за доверенным прокси
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host        string `yaml:"host" env:"DB_HOST"`
	Port        int    `yaml:"port" env:"DB_PORT"`
	User        string `yaml:"user" env:"DB_USER"`
	Password    string `yaml:"password" env:"DB_PASSWORD"`
	DBName      string `yaml:"dbname" env:"DB_NAME"`
	SSLMode     string `yaml:"sslmode" env:"DB_SSLMODE"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// GetDSN возвращает строку подключения для lib/pq
func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// SessionConfig конфигурация серверных сессий
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME"`
	TTL        time.Duration `yaml:"ttl" env:"SESSION_TTL"`
	Secure     bool          `yaml:"secure" env:"SESSION_COOKIE_SECURE"`
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	Secret               string        `yaml:"secret" env:"AUTH_SECRET"`
	LoginURL             string        `yaml:"login_url" env:"LOGIN_URL"`
	LoginRedirectURL     string        `yaml:"login_redirect_url" env:"LOGIN_REDIRECT_URL"`
	LogoutRedirectURL    string        `yaml:"logout_redirect_url" env:"LOGOUT_REDIRECT_URL"`
	PasswordResetTimeout time.Duration `yaml:"password_reset_timeout" env:"PASSWORD_RESET_TIMEOUT"`
	BcryptCost           int           `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

// SMTPConfig конфигурация почты; пустой Host означает вывод писем в лог
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

// RateLimitConfig ограничение попыток входа и сброса пароля
type RateLimitConfig struct {
	LoginLimit int           `yaml:"login_limit" env:"RATE_LIMIT_LOGIN"`
	Window     time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	Block      time.Duration `yaml:"block" env:"RATE_LIMIT_BLOCK"`
}

// LogConfig конфигурация логирования
type LogConfig struct {
	Env   string `yaml:"env" env:"APP_ENV"`
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// IsDevelopment сообщает, запущено ли приложение в режиме разработки
func (c LogConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadConfig загружает конфигурацию из YAML файла,
// затем применяет .env и переменные окружения поверх файла
func LoadConfig(filename string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(filename)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", filename, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// без файла работаем только на переменных окружения
	default:
		return nil, fmt.Errorf("failed to open config file %s: %w", filename, err)
	}

	// .env необязателен
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults устанавливает значения по умолчанию, если они не заданы
func (c *Config) setDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.HTTPPort)
	}
	if c.Server.SiteName == "" {
		c.Server.SiteName = "Student Accounts"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "sessionid"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 14 * 24 * time.Hour
	}
	if c.Auth.LoginURL == "" {
		c.Auth.LoginURL = "/accounts/login/"
	}
	if c.Auth.LoginRedirectURL == "" {
		c.Auth.LoginRedirectURL = "/accounts/profile/"
	}
	if c.Auth.LogoutRedirectURL == "" {
		c.Auth.LogoutRedirectURL = c.Auth.LoginURL
	}
	if c.Auth.PasswordResetTimeout == 0 {
		c.Auth.PasswordResetTimeout = 72 * time.Hour
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.From == "" {
		c.SMTP.From = "webmaster@localhost"
	}
	if c.RateLimit.LoginLimit == 0 {
		c.RateLimit.LoginLimit = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Block == 0 {
		c.RateLimit.Block = 5 * time.Minute
	}
	if c.Log.Env == "" {
		c.Log.Env = "production"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return errors.New("auth.secret must be at least 32 characters")
	}
	return nil
}
