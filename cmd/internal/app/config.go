package app

import "time"

// Provider selection values for LOOM_MODEL_PROVIDER.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool

	// Model provider selection: "anthropic" (default) or "bedrock".
	ModelProvider  string
	ModelID        string
	ModelMaxTokens int
	SystemPrompt   string
	StreamBuffer   int

	WSAllowedOrigins []string
	WSOriginRequired bool
}

// LoadConfig loads Config from environment variables with defaults.
//
// Note: the HTTP server deliberately has no WriteTimeout; chat responses
// stream for as long as the model produces chunks.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LOOM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LOOM_LOG_LEVEL", "info"),
		LogPretty: EnvBool("LOOM_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("LOOM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOOM_HTTP_READ_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("LOOM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("LOOM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LOOM_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("LOOM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LOOM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LOOM_READINESS_REQUIRE_DB", false),

		ModelProvider:  EnvString("LOOM_MODEL_PROVIDER", ProviderAnthropic),
		ModelID:        EnvString("LOOM_MODEL_ID", ""),
		ModelMaxTokens: EnvInt("LOOM_MODEL_MAX_TOKENS", 0),
		SystemPrompt:   EnvString("LOOM_MODEL_SYSTEM_PROMPT", ""),
		StreamBuffer:   EnvInt("LOOM_STREAM_BUFFER", 0),

		WSAllowedOrigins: EnvStrings("LOOM_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSOriginRequired: EnvBool("LOOM_WS_ORIGIN_REQUIRED", true),
	}
}
