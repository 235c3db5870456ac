package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the docwatch CLI.
type Config struct {
	Client   ClientConfig
	Poll     PollConfig
	History  HistoryConfig
	Download DownloadConfig
}

type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFileSize int64
}

type PollConfig struct {
	Interval     time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	FailureLimit int
}

type HistoryConfig struct {
	Path string
}

type DownloadConfig struct {
	Dir string
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Client: ClientConfig{
			BaseURL:     envString("DOCWATCH_BASE_URL", "http://localhost:8000"),
			Timeout:     envDuration("DOCWATCH_TIMEOUT", 30*time.Second),
			MaxFileSize: int64(envInt("DOCWATCH_MAX_FILE_SIZE_MB", 50)) << 20,
		},
		Poll: PollConfig{
			Interval:     envDuration("DOCWATCH_POLL_INTERVAL", 3*time.Second),
			BackoffBase:  envDuration("DOCWATCH_BACKOFF_BASE", time.Second),
			BackoffMax:   envDuration("DOCWATCH_BACKOFF_MAX", 30*time.Second),
			FailureLimit: envInt("DOCWATCH_FAILURE_LIMIT", 4),
		},
		History: HistoryConfig{
			Path: os.Getenv("DOCWATCH_HISTORY_PATH"),
		},
		Download: DownloadConfig{
			Dir: envString("DOCWATCH_DOWNLOAD_DIR", "."),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("DOCWATCH_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Client.BaseURL, "http://") && !strings.HasPrefix(c.Client.BaseURL, "https://") {
		return fmt.Errorf("DOCWATCH_BASE_URL must start with http:// or https://, got %q", c.Client.BaseURL)
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("DOCWATCH_TIMEOUT must be positive")
	}
	if c.Client.MaxFileSize <= 0 {
		return fmt.Errorf("DOCWATCH_MAX_FILE_SIZE_MB must be positive")
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("DOCWATCH_POLL_INTERVAL must be positive")
	}
	if c.Poll.BackoffBase <= 0 {
		return fmt.Errorf("DOCWATCH_BACKOFF_BASE must be positive")
	}
	if c.Poll.BackoffMax < c.Poll.BackoffBase {
		return fmt.Errorf("DOCWATCH_BACKOFF_MAX must be >= DOCWATCH_BACKOFF_BASE")
	}
	if c.Poll.FailureLimit < 1 {
		return fmt.Errorf("DOCWATCH_FAILURE_LIMIT must be at least 1")
	}

	return nil
}

// DevServerConfig holds configuration for the local development server.
type DevServerConfig struct {
	Port        int
	RedisURL    string
	StageDelay  time.Duration
	MaxFileSize int64
	ResultTTL   time.Duration
}

// LoadDevServer reads the dev server's configuration from environment
// variables.
func LoadDevServer() (*DevServerConfig, error) {
	_ = godotenv.Load()

	cfg := &DevServerConfig{
		Port:        envInt("DEVSERVER_PORT", 8000),
		RedisURL:    os.Getenv("DEVSERVER_REDIS_URL"),
		StageDelay:  envDuration("DEVSERVER_STAGE_DELAY", 500*time.Millisecond),
		MaxFileSize: int64(envInt("DEVSERVER_MAX_FILE_SIZE_MB", 50)) << 20,
		ResultTTL:   envDuration("DEVSERVER_RESULT_TTL", time.Hour),
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DEVSERVER_PORT must be a valid port, got %d", cfg.Port)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DEVSERVER_MAX_FILE_SIZE_MB must be positive")
	}
	if cfg.ResultTTL <= 0 {
		return nil, fmt.Errorf("DEVSERVER_RESULT_TTL must be positive")
	}

	return cfg, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
