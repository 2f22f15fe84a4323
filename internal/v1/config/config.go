// Package config loads and validates the server's environment
// configuration: listen ports, storage backend, token signing secret,
// optional TLS material, and per-protocol connection limits. Validation is
// eager and fail-fast: every required key is checked once at startup and
// the collected errors are returned together rather than one at a time.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Listener ports
	TCPPort  string // framed binary adapter (default 8080)
	HTTPPort string // HTTP/WebSocket adapter (default 8082)

	// Storage
	DatabaseURL string // empty selects the in-memory reference backend

	// Auth
	JWTSecret          string
	JWTSecretWasRandom bool // true when JWT_SECRET was unset and one was generated

	// TLS (optional)
	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string

	// Connection limits
	MaxConnections int // 0 = unlimited, framed adapter per-process cap

	// FramedAllowPlaintext permits framed connections that skip the key
	// exchange. Test/dev only; production deployments require encryption.
	FramedAllowPlaintext bool

	// Ambient
	GoEnv    string
	LogLevel string

	// Redis (optional cross-instance event relay; single-instance mode when unset)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	AllowedOrigins string

	// Rate limits: token buckets keyed by user id when authenticated, else
	// by client IP; ulule/limiter "N-unit" format.
	RateLimitAuth      string
	RateLimitMessaging string
	RateLimitGeneral   string
}

// ValidateEnv validates all environment variables and returns a Config, or a
// single error aggregating every validation failure.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.TCPPort = getEnvOrDefault("TCP_PORT", "8080")
	if !isValidPort(cfg.TCPPort) {
		errs = append(errs, fmt.Sprintf("TCP_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.TCPPort))
	}

	cfg.HTTPPort = getEnvOrDefault("HTTP_PORT", "8082")
	if !isValidPort(cfg.HTTPPort) {
		errs = append(errs, fmt.Sprintf("HTTP_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.HTTPPort))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		secret, err := generateRandomSecret()
		if err != nil {
			errs = append(errs, fmt.Sprintf("JWT_SECRET not set and a random one could not be generated: %v", err))
		} else {
			cfg.JWTSecret = secret
			cfg.JWTSecretWasRandom = true
			slog.Warn("JWT_SECRET not set; generated a random secret for this process. Sessions will not survive a restart or be shared across instances.")
		}
	}

	cfg.TLSEnabled = os.Getenv("TLS_ENABLED") == "true"
	if cfg.TLSEnabled {
		cfg.TLSCertPath = os.Getenv("TLS_CERT_PATH")
		cfg.TLSKeyPath = os.Getenv("TLS_KEY_PATH")
		if cfg.TLSCertPath == "" || cfg.TLSKeyPath == "" {
			errs = append(errs, "TLS_CERT_PATH and TLS_KEY_PATH are required when TLS_ENABLED=true")
		}
	}

	maxConnStr := getEnvOrDefault("MAX_CONNECTIONS", "0")
	maxConn, err := strconv.Atoi(maxConnStr)
	if err != nil || maxConn < 0 {
		errs = append(errs, fmt.Sprintf("MAX_CONNECTIONS must be a non-negative integer (got '%s')", maxConnStr))
	}
	cfg.MaxConnections = maxConn

	cfg.FramedAllowPlaintext = os.Getenv("FRAMED_ALLOW_PLAINTEXT") == "true"
	if cfg.FramedAllowPlaintext {
		slog.Warn("FRAMED_ALLOW_PLAINTEXT=true: framed connections may skip the key exchange. DO NOT USE IN PRODUCTION")
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits: auth 10/min, messaging 30/min, general 100/min.
	cfg.RateLimitAuth = getEnvOrDefault("RATE_LIMIT_AUTH", "10-M")
	cfg.RateLimitMessaging = getEnvOrDefault("RATE_LIMIT_MESSAGING", "30-M")
	cfg.RateLimitGeneral = getEnvOrDefault("RATE_LIMIT_GENERAL", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	if !isValidPort(parts[1]) {
		return false
	}
	return parts[0] != ""
}

func generateRandomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"tcp_port", cfg.TCPPort,
		"http_port", cfg.HTTPPort,
		"database_url_set", cfg.DatabaseURL != "",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"jwt_secret_generated", cfg.JWTSecretWasRandom,
		"tls_enabled", cfg.TLSEnabled,
		"max_connections", cfg.MaxConnections,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default
// value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret, showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
