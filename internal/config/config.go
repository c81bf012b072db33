package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port         string
	Env          string
	WriteTimeout time.Duration

	// Gemini AI
	GoogleAPIKey  string
	VisionModel   string
	LanguageModel string

	// Replicate
	ReplicateAPIToken string
	ReplicateModel    string

	// Chat delivery
	StreamDelay    time.Duration
	SessionIdleTTL time.Duration
	MaxImageBytes  int64

	// Redis (optional, enables cross-replica event fan-out)
	RedisURL string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Telemetry
	TelemetryEnabled bool
	TelemetryDir     string

	// Frontend
	FrontendURL string
}

const DefaultReplicateModel = "stability-ai/sdxl:39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		Env:               getEnvOrDefault("ENV", "development"),
		WriteTimeout:      time.Duration(getEnvAsIntOrDefault("HTTP_WRITE_TIMEOUT_SECONDS", 120)) * time.Second,
		GoogleAPIKey:      strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		VisionModel:       getEnvOrDefault("GEMINI_VISION_MODEL", "gemini-1.5-flash"),
		LanguageModel:     getEnvOrDefault("GEMINI_LANGUAGE_MODEL", "gemini-1.5-pro-latest"),
		ReplicateAPIToken: strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateModel:    getEnvOrDefault("REPLICATE_MODEL", DefaultReplicateModel),
		StreamDelay:       time.Duration(getEnvAsIntOrDefault("STREAM_DELAY_MS", 20)) * time.Millisecond,
		SessionIdleTTL:    time.Duration(getEnvAsIntOrDefault("SESSION_IDLE_MINUTES", 120)) * time.Minute,
		MaxImageBytes:     int64(getEnvAsIntOrDefault("MAX_IMAGE_MB", 10)) << 20,
		RedisURL:          getEnvOrDefault("REDIS_URL", ""),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "text"),
		LogFile:           getEnvOrDefault("LOG_FILE", ""),
		TelemetryEnabled:  getEnvAsBoolOrDefault("TELEMETRY_ENABLED", false),
		TelemetryDir:      getEnvOrDefault("TELEMETRY_DIR", "logs"),
		FrontendURL:       getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
