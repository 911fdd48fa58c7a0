package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Warehouse  WarehouseConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Session    SessionConfig
	SQLitePath string
	Server     ServerConfig
	SelfHosted bool
}

// WarehouseConfig holds connection settings for the PostgreSQL database that
// queries are executed against.
type WarehouseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings for the event stream. An empty
// Addr disables event publication entirely.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// LLMConfig holds settings for the OpenAI-compatible chat completions API.
type LLMConfig struct {
	BaseURL string
	APIKey  string //nolint:gosec // G117: API credential config
	Model   string
	Timeout time.Duration
}

// SessionConfig holds per-session policy defaults.
type SessionConfig struct {
	SafeguardEnabled bool
	QueryTimeout     time.Duration
	MaxToolRounds    int
	MaxMessages      int
	SystemPrompt     string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (DB password, LLM API key) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("QUERYDECK_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("QUERYDECK_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("QUERYDECK_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	llmTimeout, err := getEnvDuration("QUERYDECK_LLM_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	safeguard, err := getEnvBool("QUERYDECK_SAFEGUARD", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queryTimeout, err := getEnvDuration("QUERYDECK_QUERY_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxToolRounds, err := getEnvInt("QUERYDECK_MAX_TOOL_ROUNDS", 8)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxMessages, err := getEnvInt("QUERYDECK_MAX_MESSAGES", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("QUERYDECK_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("QUERYDECK_SERVER_WRITE_TIMEOUT", 180*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("QUERYDECK_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("QUERYDECK_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Warehouse: WarehouseConfig{
			Host:     getEnv("QUERYDECK_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("QUERYDECK_DB_USER", "querydeck"),
			Password: getEnv("QUERYDECK_DB_PASSWORD", ""),
			DBName:   getEnv("QUERYDECK_DB_NAME", "querydeck_dev"),
			SSLMode:  getEnv("QUERYDECK_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("QUERYDECK_REDIS_ADDR", ""),
			Password: getEnv("QUERYDECK_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		LLM: LLMConfig{
			BaseURL: getEnv("QUERYDECK_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("QUERYDECK_LLM_API_KEY", ""),
			Model:   getEnv("QUERYDECK_LLM_MODEL", "gpt-4o-mini"),
			Timeout: llmTimeout,
		},
		Session: SessionConfig{
			SafeguardEnabled: safeguard,
			QueryTimeout:     queryTimeout,
			MaxToolRounds:    maxToolRounds,
			MaxMessages:      maxMessages,
			SystemPrompt:     getEnv("QUERYDECK_SYSTEM_PROMPT", ""),
		},
		SQLitePath: getEnv("QUERYDECK_SQLITE_PATH", "querydeck.db"),
		Server: ServerConfig{
			Addr:         getEnv("QUERYDECK_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// The LLM API key is required (no insecure default).
	if c.LLM.APIKey == "" {
		return errors.New("QUERYDECK_LLM_API_KEY is required")
	}
	if c.LLM.BaseURL == "" {
		return errors.New("QUERYDECK_LLM_BASE_URL must not be empty")
	}
	if c.LLM.Model == "" {
		return errors.New("QUERYDECK_LLM_MODEL must not be empty")
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Warehouse.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("QUERYDECK_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Warehouse.Port < 1 || c.Warehouse.Port > 65535 {
		return fmt.Errorf("QUERYDECK_DB_PORT must be 1-65535, got %d", c.Warehouse.Port)
	}
	if c.Warehouse.MaxConns < 1 {
		return fmt.Errorf("QUERYDECK_DB_MAX_CONNS must be >= 1, got %d", c.Warehouse.MaxConns)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("QUERYDECK_LLM_TIMEOUT must be positive, got %s", c.LLM.Timeout)
	}
	if c.Session.QueryTimeout <= 0 {
		return fmt.Errorf("QUERYDECK_QUERY_TIMEOUT must be positive, got %s", c.Session.QueryTimeout)
	}
	if c.Session.MaxToolRounds < 1 {
		return fmt.Errorf("QUERYDECK_MAX_TOOL_ROUNDS must be >= 1, got %d", c.Session.MaxToolRounds)
	}
	if c.Session.MaxMessages < 1 {
		return fmt.Errorf("QUERYDECK_MAX_MESSAGES must be >= 1, got %d", c.Session.MaxMessages)
	}
	if c.SQLitePath == "" {
		return errors.New("QUERYDECK_SQLITE_PATH must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("QUERYDECK_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("QUERYDECK_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	return nil
}

// DSN returns the PostgreSQL connection string for the warehouse.
func (c *WarehouseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// EventsEnabled reports whether Redis event publication is configured.
func (c *RedisConfig) EventsEnabled() bool {
	return c.Addr != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
