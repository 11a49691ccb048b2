package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call relay service.
type Config struct {
	BindAddr         string
	PublicHost       string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	AllowAnyOrigin      bool
	ConnectAnnouncement string

	EngineProvider    string
	GeminiAPIKey      string
	GeminiWSBaseURL   string
	GeminiModel       string
	EngineOpenTimeout time.Duration

	ToolTimeout time.Duration

	DefaultLineLimit int
	RedisURL         string

	DatabaseURL string
	RecordDir   string

	// CallMaxDuration bounds a single call; 0 disables the janitor cutoff.
	CallMaxDuration time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "linebridge"),
		PublicHost:          trimmedEnv("APP_PUBLIC_HOST"),
		ConnectAnnouncement: envOrDefault("APP_CONNECT_ANNOUNCEMENT", ""),
		EngineProvider:      envOrDefault("ENGINE_PROVIDER", "auto"),
		GeminiAPIKey:        trimmedEnv("GEMINI_API_KEY"),
		GeminiWSBaseURL:     envOrDefault("GEMINI_WS_BASE_URL", "wss://generativelanguage.googleapis.com"),
		// Native-audio live model used by the hosted bots.
		GeminiModel:       envOrDefault("GEMINI_MODEL", "models/gemini-2.5-flash-native-audio-preview-09-2025"),
		RedisURL:          trimmedEnv("REDIS_URL"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		RecordDir:         trimmedEnv("APP_RECORD_DIR"),
		DefaultLineLimit:  5,
		ShutdownTimeout:   15 * time.Second,
		EngineOpenTimeout: 15 * time.Second,
		ToolTimeout:       10 * time.Second,
		CallMaxDuration:   0,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineOpenTimeout, err = durationFromEnv("ENGINE_OPEN_TIMEOUT", cfg.EngineOpenTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolTimeout, err = durationFromEnv("TOOL_TIMEOUT", cfg.ToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallMaxDuration, err = durationFromEnv("APP_CALL_MAX_DURATION", cfg.CallMaxDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultLineLimit, err = intFromEnv("APP_DEFAULT_LINE_LIMIT", cfg.DefaultLineLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.DefaultLineLimit <= 0 {
		return Config{}, fmt.Errorf("APP_DEFAULT_LINE_LIMIT must be positive")
	}
	if cfg.EngineOpenTimeout < time.Second {
		return Config{}, fmt.Errorf("ENGINE_OPEN_TIMEOUT must be at least 1s")
	}
	if cfg.ToolTimeout < time.Second {
		return Config{}, fmt.Errorf("TOOL_TIMEOUT must be at least 1s")
	}
	if cfg.CallMaxDuration < 0 {
		return Config{}, fmt.Errorf("APP_CALL_MAX_DURATION must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EngineProvider)) {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("ENGINE_PROVIDER must be auto, gemini or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
