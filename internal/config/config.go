package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the co-pilot service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	AlwaysListening   bool
	RestartDelay      time.Duration
	ErrorRestartDelay time.Duration
	SpeechTimeout     time.Duration
	QueueFinals       bool

	HistoryLimit int
	Muted        bool

	VehicleProfilePath string

	SpeechRelayURL      string
	SpeechRelayTimeout  time.Duration
	SpeechRelayAttempts int
}

// LoadEnvFile preloads variables from a dotenv file. Variables already set in
// the process environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = trimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "copilot"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:           false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		AlwaysListening:          true,
		// Matches the dashboard: quick resume after a clean end, slower after an error.
		RestartDelay:        500 * time.Millisecond,
		ErrorRestartDelay:   time.Second,
		SpeechTimeout:       30 * time.Second,
		HistoryLimit:        10,
		VehicleProfilePath:  stringsTrimSpace("COPILOT_VEHICLE_PROFILE"),
		SpeechRelayURL:      stringsTrimSpace("COPILOT_SPEECH_RELAY_URL"),
		SpeechRelayTimeout:  5 * time.Second,
		SpeechRelayAttempts: 2,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.AlwaysListening, err = boolFromEnv("COPILOT_ALWAYS_LISTENING", cfg.AlwaysListening)
	if err != nil {
		return Config{}, err
	}
	cfg.RestartDelay, err = durationFromEnv("COPILOT_RESTART_DELAY", cfg.RestartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ErrorRestartDelay, err = durationFromEnv("COPILOT_ERROR_RESTART_DELAY", cfg.ErrorRestartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("COPILOT_SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueFinals, err = boolFromEnv("COPILOT_QUEUE_FINALS", cfg.QueueFinals)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("COPILOT_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.Muted, err = boolFromEnv("COPILOT_MUTED", cfg.Muted)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRelayTimeout, err = durationFromEnv("COPILOT_SPEECH_RELAY_TIMEOUT", cfg.SpeechRelayTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRelayAttempts, err = intFromEnv("COPILOT_SPEECH_RELAY_ATTEMPTS", cfg.SpeechRelayAttempts)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Load calls it; callers that
// override fields afterwards (command-line flags) should call it again.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("APP_BIND_ADDR must not be empty")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.RestartDelay <= 0 {
		return fmt.Errorf("COPILOT_RESTART_DELAY must be positive")
	}
	if c.ErrorRestartDelay < c.RestartDelay {
		return fmt.Errorf("COPILOT_ERROR_RESTART_DELAY must be >= COPILOT_RESTART_DELAY")
	}
	if c.SpeechTimeout <= 0 {
		return fmt.Errorf("COPILOT_SPEECH_TIMEOUT must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("COPILOT_HISTORY_LIMIT must be positive")
	}
	if c.SpeechRelayURL != "" {
		if !strings.HasPrefix(c.SpeechRelayURL, "http://") && !strings.HasPrefix(c.SpeechRelayURL, "https://") {
			return fmt.Errorf("COPILOT_SPEECH_RELAY_URL must be an http(s) URL")
		}
		if c.SpeechRelayTimeout <= 0 {
			return fmt.Errorf("COPILOT_SPEECH_RELAY_TIMEOUT must be positive")
		}
		if c.SpeechRelayAttempts <= 0 {
			return fmt.Errorf("COPILOT_SPEECH_RELAY_ATTEMPTS must be positive")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := strings.ToLower(stringsTrimSpace(key))
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
