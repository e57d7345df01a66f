package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Scheduler Configuration
	DefaultTimezone string
	FiringTimeout   time.Duration

	// Recovery Sweep Configuration
	SweepInterval    time.Duration
	SweepWindow      time.Duration
	SweepConcurrency int

	// Stream Process Configuration
	StreamUnitDir        string
	StreamFFmpegPath     string
	StreamAdapterTimeout time.Duration

	// Notifier Configuration
	NotifierWebhookURL     string
	NotifierTimeout        time.Duration
	NotifierWorkers        int
	NotifierQueueSize      int
	NotifierMaxAttempts    int
	NotifierInitialDelayMs int
	NotifierMaxDelayMs     int
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/streamcast?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "streamcast"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, PUT, DELETE, OPTIONS, PATCH"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Scheduler
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "UTC"),
		FiringTimeout:   getDurationEnv("FIRING_TIMEOUT_SEC", 30) * time.Second,

		// Recovery Sweep
		SweepInterval:    getDurationEnv("SWEEP_INTERVAL_SEC", 60) * time.Second,
		SweepWindow:      getDurationEnv("SWEEP_WINDOW_SEC", 300) * time.Second,
		SweepConcurrency: getIntEnv("SWEEP_CONCURRENCY", 10),

		// Stream Process
		StreamUnitDir:        getEnv("STREAM_UNIT_DIR", "/etc/systemd/system"),
		StreamFFmpegPath:     getEnv("STREAM_FFMPEG_PATH", "/usr/bin/ffmpeg"),
		StreamAdapterTimeout: getDurationEnv("STREAM_ADAPTER_TIMEOUT_SEC", 15) * time.Second,

		// Notifier (disabled when the URL is empty)
		NotifierWebhookURL:     getEnv("NOTIFIER_WEBHOOK_URL", ""),
		NotifierTimeout:        getDurationEnv("NOTIFIER_TIMEOUT_SEC", 10) * time.Second,
		NotifierWorkers:        getIntEnv("NOTIFIER_WORKERS", 2),
		NotifierQueueSize:      getIntEnv("NOTIFIER_QUEUE_SIZE", 100),
		NotifierMaxAttempts:    getIntEnv("NOTIFIER_MAX_ATTEMPTS", 3),
		NotifierInitialDelayMs: getIntEnv("NOTIFIER_INITIAL_DELAY_MS", 1000),
		NotifierMaxDelayMs:     getIntEnv("NOTIFIER_MAX_DELAY_MS", 30000),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}
