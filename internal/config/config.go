package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the control plane reads from the environment.
type Config struct {
	// HTTP
	HTTPPort  string
	LogLevel  string
	LogFormat string

	// Inference service
	MLAPIURL         string
	InferenceTimeout time.Duration

	// Virtual clock / scheduler
	TickIntervalMS       int
	TickRows             int
	PredictionInterval   int
	MaxRows              int
	MinRowsForPrediction int
	HealthyRULThreshold  float64

	// Work queue
	QueueConcurrency int
	QueueMaxJobs     int           // token bucket size per window
	QueueWindow      time.Duration // token bucket window
	JobAttempts      int
	JobBackoff       time.Duration

	// Agent stages
	StageAttempts int
	StageBackoff  time.Duration

	// Recommendation engine
	SearchRadiusKM     float64
	NominalSlotsPerDay int

	// Storage
	DBPath string

	// Redis (durable queue backend; empty addr selects the in-process pool)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads the environment and returns a Config with defaults applied.
func Load() *Config {
	return &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		MLAPIURL:         getEnv("ML_API_URL", "http://localhost:8000"),
		InferenceTimeout: time.Duration(getEnvInt("INFERENCE_TIMEOUT_MS", 15000)) * time.Millisecond,

		TickIntervalMS:       getEnvInt("TICK_INTERVAL_MS", 10000),
		TickRows:             getEnvInt("TICK_ROWS", 288),
		PredictionInterval:   getEnvInt("PREDICTION_INTERVAL", 288),
		MaxRows:              getEnvInt("MAX_ROWS", 17280),
		MinRowsForPrediction: getEnvInt("MIN_ROWS_FOR_PREDICTION", 2016),
		HealthyRULThreshold:  getEnvFloat("HEALTHY_RUL_THRESHOLD", 60),

		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 6),
		QueueMaxJobs:     getEnvInt("QUEUE_MAX_JOBS", 10),
		QueueWindow:      time.Duration(getEnvInt("QUEUE_WINDOW_MS", 5000)) * time.Millisecond,
		JobAttempts:      getEnvInt("JOB_ATTEMPTS", 2),
		JobBackoff:       time.Duration(getEnvInt("JOB_BACKOFF_MS", 2000)) * time.Millisecond,

		StageAttempts: getEnvInt("STAGE_ATTEMPTS", 5),
		StageBackoff:  time.Duration(getEnvInt("STAGE_BACKOFF_MS", 500)) * time.Millisecond,

		SearchRadiusKM:     getEnvFloat("SEARCH_RADIUS_KM", 150),
		NominalSlotsPerDay: getEnvInt("NOMINAL_SLOTS_PER_DAY", 5),

		DBPath: getEnv("DB_PATH", ".fleetwatch/fleetwatch.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

// TickInterval returns the tick interval as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
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

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
