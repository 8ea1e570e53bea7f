package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Glossarium server.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Tools     ToolsConfig
}

type DatabaseConfig struct {
	// URL enables the PostgreSQL effect store; empty means in-memory.
	URL string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// ToolsConfig configures the external lexical tools.
type ToolsConfig struct {
	// LSJBaseURL is the scraped Greek dictionary service.
	LSJBaseURL string
	// LogeionBaseURL is the scraped aggregator service.
	LogeionBaseURL string
	// WhitakerBinary is the Latin morphological analyzer executable.
	WhitakerBinary string
	// LexiconDir holds flat-file lexicons (one file per lexicon).
	LexiconDir string

	HTTPTimeoutSecs int
	AllowCache      bool

	// CacheTTLHours expires plan-cache entries after this many hours.
	// Zero keeps cached responses forever.
	CacheTTLHours int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("GLOSSARIUM_PORT", 8080),
		Version: envStr("GLOSSARIUM_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL: envStr("GLOSSARIUM_DATABASE_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "glossarium"),
		},
		Tools: ToolsConfig{
			LSJBaseURL:      envStr("GLOSSARIUM_LSJ_URL", "https://lsj.gr"),
			LogeionBaseURL:  envStr("GLOSSARIUM_LOGEION_URL", "https://logeion.uchicago.edu"),
			WhitakerBinary:  envStr("GLOSSARIUM_WHITAKER_BIN", "words"),
			LexiconDir:      envStr("GLOSSARIUM_LEXICON_DIR", "lexicons"),
			HTTPTimeoutSecs: envInt("GLOSSARIUM_HTTP_TIMEOUT_SECS", 30),
			AllowCache:      envBool("GLOSSARIUM_ALLOW_CACHE", true),
			CacheTTLHours:   envInt("GLOSSARIUM_CACHE_TTL_HOURS", 0),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
