package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// NATS (task queue + event fan-out)
	NatsURL string

	// Auth
	JWTSecret    string
	WorkerSecret string

	// Research pipeline
	// RetryReenqueue controls whether a retry re-publishes the task to the
	// queue in addition to resetting the request status. Off by default:
	// a PENDING request is visible to operators either way, and re-enqueueing
	// duplicates work if the original delivery is still in flight.
	RetryReenqueue bool

	// Generation defaults handed to workers with each task.
	Generation *GenerationDefaults `yaml:"generation"`

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/research_api?sslmode=disable"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME", 5),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME", 60),

		NatsURL: getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		JWTSecret:    getEnvOrDefault("JWT_SECRET", ""),
		WorkerSecret: getEnvOrDefault("WORKER_SECRET", ""),

		RetryReenqueue: getEnvAsBool("RETRY_REENQUEUE", false),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Generation defaults come from an optional YAML file. Environment
	// variables for provider credentials take precedence over file values.
	generationFilePath := getEnvOrDefault("GENERATION_CONFIG_FILE", "")
	generation, err := LoadGenerationDefaults(generationFilePath)
	if err != nil {
		log.Fatalf("Failed to load generation config file %q: %v", generationFilePath, err)
	}
	AppConfig.Generation = generation

	if AppConfig.JWTSecret == "" {
		log.Println("Warning: JWT_SECRET is not set. End-user authentication will reject all tokens.")
	}

	// The worker gateway is unusable without a shared secret; refuse to start
	// in a state where worker requests could never authenticate.
	if AppConfig.WorkerSecret == "" {
		log.Fatal("WORKER_SECRET is required: the worker completion gateway cannot authenticate without it")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as bool, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
