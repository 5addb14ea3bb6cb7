// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC health listener
	FrontendURL     string
	DBPath          string
	LogLevel        slog.Level
	Gemini          GeminiConfig
	Limits          LimitsConfig
	Credential      CredentialConfig
	TrustedProxies  []*net.IPNet
	Turn            TurnConfig
	Redis           RedisConfig
	ConversationLog ConversationLogConfig
	ShutdownTimeout time.Duration
}

// GeminiConfig configures the external generative model.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LimitsConfig holds message admission limits.
type LimitsConfig struct {
	SessionDaily     int
	OriginDaily      int
	Window           time.Duration
	MessageMinLength int
	MessageMaxLength int
}

// CredentialConfig controls realtime credential signing.
type CredentialConfig struct {
	Secret string
	TTL    time.Duration
}

// TurnConfig controls asynchronous AI turns.
type TurnConfig struct {
	Serialize      bool
	BusyStaleAfter time.Duration
	ReapInterval   time.Duration
}

// RedisConfig enables the cross-instance realtime relay when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	proxies, err := parseCIDRs(getEnv("TRUSTED_PROXIES", "127.0.0.1/32,::1/128"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/learner.db"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Gemini: GeminiConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvDuration("AI_TIMEOUT", 30*time.Second),
		},
		Limits: LimitsConfig{
			SessionDaily:     getEnvInt("SESSION_MESSAGE_DAILY_LIMIT", 50),
			OriginDaily:      getEnvInt("IP_MESSAGE_DAILY_LIMIT", 200),
			Window:           getEnvDuration("RATE_WINDOW", 24*time.Hour),
			MessageMinLength: getEnvInt("MESSAGE_MIN_LENGTH", 3),
			MessageMaxLength: getEnvInt("MESSAGE_MAX_LENGTH", 256),
		},
		Credential: CredentialConfig{
			Secret: getEnv("CREDENTIAL_SECRET", ""),
			TTL:    getEnvDuration("CREDENTIAL_TTL", 24*time.Hour),
		},
		TrustedProxies: proxies,
		Turn: TurnConfig{
			Serialize:      getEnvBool("TURN_SERIALIZE", true),
			BusyStaleAfter: getEnvDuration("BUSY_STALE_AFTER", 5*time.Minute),
			ReapInterval:   getEnvDuration("BUSY_REAP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if cfg.Credential.Secret == "" && cfg.IsDevelopment() {
		cfg.Credential.Secret = "dev-insecure-credential-secret"
		slog.Warn("CREDENTIAL_SECRET not set, using development secret")
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
	if c.Credential.Secret == "" {
		return fmt.Errorf("CREDENTIAL_SECRET cannot be empty outside development")
	}
	if c.Limits.SessionDaily <= 0 || c.Limits.OriginDaily <= 0 {
		return fmt.Errorf("daily message limits must be > 0")
	}
	if c.Limits.Window <= 0 {
		return fmt.Errorf("RATE_WINDOW must be > 0")
	}
	if c.Limits.MessageMinLength < 1 || c.Limits.MessageMaxLength < c.Limits.MessageMinLength {
		return fmt.Errorf("MESSAGE_MIN_LENGTH must be >= 1 and <= MESSAGE_MAX_LENGTH")
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether a Gemini API key is configured.
func (c *Config) AIEnabled() bool {
	return c.Gemini.APIKey != ""
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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseCIDRs accepts a comma separated list of CIDRs or bare IPs.
func parseCIDRs(list string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", part)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			part = fmt.Sprintf("%s/%d", part, bits)
		}
		_, ipNet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}
