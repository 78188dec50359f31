// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    string

	CatalogPath  string // empty selects the embedded catalog
	CatalogWatch bool

	SessionIdleTTL       time.Duration // 0 disables idle expiry
	SessionSweepInterval time.Duration

	Grading    GradingConfig
	Client     ClientConfig
	Transcript TranscriptLogConfig
}

// GradingConfig configures the text-generation endpoint used for grading and
// counterpart replies.
type GradingConfig struct {
	Endpoint         string
	APIKey           string
	Model            string
	Temperature      float64
	MaxOutputTokens  int
	ReplyTemperature float64
	Timeout          time.Duration
}

// ClientConfig configures the practice CLI.
type ClientConfig struct {
	ServerURL   string
	PointerPath string
	LearnerID   string
}

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/pmjourney.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		CatalogPath:  getEnv("CATALOG_PATH", ""),
		CatalogWatch: getEnvBool("CATALOG_WATCH", false),

		SessionIdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		Grading: GradingConfig{
			Endpoint:         getEnv("GRADING_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:           getEnv("GRADING_API_KEY", ""),
			Model:            getEnv("GRADING_MODEL", "gemini-2.0-flash"),
			Temperature:      getEnvFloat("GRADING_TEMPERATURE", 0.2),
			MaxOutputTokens:  getEnvInt("GRADING_MAX_OUTPUT_TOKENS", 2048),
			ReplyTemperature: getEnvFloat("REPLY_TEMPERATURE", 0.7),
			Timeout:          getEnvDuration("GRADING_TIMEOUT", 60*time.Second),
		},
		Client: ClientConfig{
			ServerURL:   getEnv("PMJ_SERVER_URL", "http://localhost:8080"),
			PointerPath: getEnv("PMJ_POINTER_PATH", defaultPointerPath()),
			LearnerID:   getEnv("PMJ_LEARNER_ID", ""),
		},
		Transcript: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Grading.Temperature < 0 || c.Grading.Temperature > 2 {
		return fmt.Errorf("GRADING_TEMPERATURE must be between 0 and 2")
	}
	if c.Grading.ReplyTemperature < 0 || c.Grading.ReplyTemperature > 2 {
		return fmt.Errorf("REPLY_TEMPERATURE must be between 0 and 2")
	}
	if c.Grading.MaxOutputTokens <= 0 {
		return fmt.Errorf("GRADING_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.Grading.Timeout <= 0 {
		return fmt.Errorf("GRADING_TIMEOUT must be > 0")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.SessionIdleTTL > 0 && c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0 when SESSION_IDLE_TTL is set")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := []string{}
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimSuffix(o, "/"))
		}
	}
	return origins
}

// SlogLevel returns the configured log level. Validate rejects unknown names.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
}

func defaultPointerPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".pm-journey", "pointers.json")
	}
	return filepath.Join(dir, "pm-journey", "pointers.json")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
