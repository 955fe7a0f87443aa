package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AWS           AWSConfig
	Session       SessionConfig
	Poll          PollConfig
	Chat          ChatConfig
	Observability ObservabilityConfig
	// StoreDriver selects persistence: "postgres" or "memory".
	StoreDriver string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	WSSendBuffer       int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/livepoll?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Fanout routes notifications through Redis pub/sub so several server instances can share sessions.
	Fanout bool
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// SessionConfig holds session manager limits.
type SessionConfig struct {
	KickCooldown           time.Duration
	JoinCodeLength         int
	JoinCodeRetries        int
	DefaultMaxParticipants int
}

// PollConfig holds poll engine limits.
type PollConfig struct {
	DefaultDuration int // seconds
	MaxDuration     int // seconds
	MaxOptions      int
	RevotePolicy    string // overwrite | reject
}

// ChatConfig holds chat relay limits.
type ChatConfig struct {
	MaxLength    int
	HistoryLimit int
}

// ObservabilityConfig holds logging and error reporting settings.
type ObservabilityConfig struct {
	SentryDSN string
	Env       string
	Release   string
	LogLevel  string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			WSSendBuffer:       getEnvInt("WS_SEND_BUFFER", 256),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livepoll"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Fanout:   getEnvBool("REDIS_FANOUT", false),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("ARCHIVE_BUCKET", "livepoll-archives"),
		},
		Session: SessionConfig{
			KickCooldown:           getEnvDuration("KICK_COOLDOWN", 5*time.Minute),
			JoinCodeLength:         getEnvInt("JOIN_CODE_LENGTH", 6),
			JoinCodeRetries:        getEnvInt("JOIN_CODE_RETRIES", 10),
			DefaultMaxParticipants: getEnvInt("DEFAULT_MAX_PARTICIPANTS", 100),
		},
		Poll: PollConfig{
			DefaultDuration: getEnvInt("DEFAULT_POLL_DURATION_SEC", 30),
			MaxDuration:     getEnvInt("MAX_POLL_DURATION_SEC", 600),
			MaxOptions:      getEnvInt("MAX_POLL_OPTIONS", 10),
			RevotePolicy:    strings.ToLower(getEnv("POLL_REVOTE_POLICY", "overwrite")),
		},
		Chat: ChatConfig{
			MaxLength:    getEnvInt("CHAT_MAX_LENGTH", 1000),
			HistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 50),
		},
		Observability: ObservabilityConfig{
			SentryDSN: getEnv("SENTRY_DSN", ""),
			Env:       getEnv("APP_ENV", "development"),
			Release:   getEnv("APP_RELEASE", ""),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
		},
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	switch c.Poll.RevotePolicy {
	case "overwrite", "reject":
	default:
		return fmt.Errorf("POLL_REVOTE_POLICY must be overwrite or reject, got %q", c.Poll.RevotePolicy)
	}
	if c.Session.KickCooldown < 0 {
		return fmt.Errorf("KICK_COOLDOWN must not be negative")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5m") or plain seconds ("300").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
