package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// StoreDriverPostgres persists polls, votes, chat and participants in PostgreSQL.
	StoreDriverPostgres = "postgres"
	// StoreDriverMemory keeps everything in process memory (local development, demos).
	StoreDriverMemory = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Poll     PollConfig
	Chat     ChatConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:5173)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string // postgres | memory
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classpoll?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. Redis backs the background job queue.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the S3 bucket for poll result archives.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// PollConfig holds poll lifecycle limits.
type PollConfig struct {
	DefaultDurationSec int
	MaxDurationSec     int
	HistoryLimit       int
}

// ChatConfig holds chat history and retention settings.
type ChatConfig struct {
	HistoryLimit     int
	RetentionDays    int
	PruneIntervalMin int
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
			Port:               getEnv("PORT", "3000"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classpoll"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", "classpoll-archive"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Poll: PollConfig{
			DefaultDurationSec: getEnvInt("POLL_DEFAULT_DURATION_SEC", 60),
			MaxDurationSec:     getEnvInt("POLL_MAX_DURATION_SEC", 3600),
			HistoryLimit:       getEnvInt("POLL_HISTORY_LIMIT", 50),
		},
		Chat: ChatConfig{
			HistoryLimit:     getEnvInt("CHAT_HISTORY_LIMIT", 20),
			RetentionDays:    getEnvInt("CHAT_RETENTION_DAYS", 7),
			PruneIntervalMin: getEnvInt("CHAT_PRUNE_INTERVAL_MIN", 60),
		},
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.Poll.DefaultDurationSec <= 0 || cfg.Poll.MaxDurationSec < cfg.Poll.DefaultDurationSec {
		return nil, fmt.Errorf("invalid poll duration limits: default=%d max=%d", cfg.Poll.DefaultDurationSec, cfg.Poll.MaxDurationSec)
	}
	return cfg, nil
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
