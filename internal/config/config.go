package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by SOCRATIC_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("SOCRATIC_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

// GeneratorProviders returns the ordered, comma-separated provider chain for
// lesson generation. The first provider is primary; the rest are fallbacks.
// Valid entries: openai, anthropic, gemini, mock
func GeneratorProviders() string {
	p := os.Getenv("GENERATOR_PROVIDERS")
	if p == "" {
		return "openai"
	}
	return p
}

// GeneratorAPIKey returns the API key for a named generation provider.
func GeneratorAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// ServiceAPIKey is the shared bearer token callers must present. Empty
// disables auth (local development).
func ServiceAPIKey() string {
	return os.Getenv("SERVICE_API_KEY")
}

func RedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

// RedisChannel returns the pub/sub channel for realtime learner events.
func RedisChannel() string {
	ch := os.Getenv("REDIS_CHANNEL")
	if ch == "" {
		return "socratic.events"
	}
	return ch
}

// SessionIdleTimeout returns how long a session may sit without activity
// before the archiver completes it as abandoned.
// Defaults to 24h if not set.
func SessionIdleTimeout() time.Duration {
	d, err := time.ParseDuration(os.Getenv("SESSION_IDLE_TIMEOUT"))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ArchiverInterval returns how often the idle-session sweep runs.
// Defaults to 15m if not set.
func ArchiverInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("ARCHIVER_INTERVAL"))
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
