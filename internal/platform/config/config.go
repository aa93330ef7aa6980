package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server captures configuration for the back-office API process.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	JWTSigningKey string
	SnapshotLimit int
	SnapshotTTL   time.Duration
	LogLevel      string
	LogFormat     string
}

// Agent captures configuration for the field-device agent process.
type Agent struct {
	ServerURL    string
	DataDir      string
	Token        string
	UserID       string
	UserName     string
	PollInterval time.Duration
	LogLevel     string
	LogFormat    string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A local .env file is honored for development.
func FromEnv() Server {
	_ = godotenv.Load()

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Override in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          getEnv("SERVER_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSigningKey: jwtSigningKey,
		SnapshotLimit: getEnvInt("SNAPSHOT_LIMIT", 5000),
		SnapshotTTL:   getEnvDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFormat:     getEnv("LOG_FORMAT", "TEXT"),
	}
}

// AgentFromEnv builds an Agent config from environment variables.
func AgentFromEnv() Agent {
	_ = godotenv.Load()

	return Agent{
		ServerURL:    getEnv("AGENT_SERVER_URL", "http://localhost:8080"),
		DataDir:      getEnv("AGENT_DATA_DIR", "./data"),
		Token:        os.Getenv("AGENT_TOKEN"),
		UserID:       os.Getenv("AGENT_USER_ID"),
		UserName:     os.Getenv("AGENT_USER_NAME"),
		PollInterval: getEnvDuration("AGENT_POLL_INTERVAL", 30*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		LogFormat:    getEnv("LOG_FORMAT", "TEXT"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
