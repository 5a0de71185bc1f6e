package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by DIALECTIC_ENV (or .env by
// default), then loads the corresponding .secret sidecar if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("DIALECTIC_ENV")
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

// APIKey is the shared bearer key required on every endpoint except
// health. Empty disables authentication (local development).
func APIKey() string {
	return os.Getenv("API_KEY")
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

// BatchInterval is the cadence of the reclaim/propagation/settlement
// pipeline. Defaults to 24h.
func BatchInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("BATCH_INTERVAL"))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RunStalenessWindow is how long a run may sit in processing before the
// batch worker requeues it. Defaults to 30m.
func RunStalenessWindow() time.Duration {
	d, err := time.ParseDuration(os.Getenv("RUN_STALENESS_WINDOW"))
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// ConceptSimilarityThreshold is the cosine similarity floor for reusing
// an existing concept node. Defaults to 0.85.
func ConceptSimilarityThreshold() float32 {
	t, err := strconv.ParseFloat(os.Getenv("CONCEPT_SIMILARITY_THRESHOLD"), 32)
	if err != nil || t <= 0 || t > 1 {
		return 0.85
	}
	return float32(t)
}

// ClaimSimilarityThreshold is the cosine similarity floor for linking an
// I-Node to an existing canonical claim. Defaults to 0.75.
func ClaimSimilarityThreshold() float32 {
	t, err := strconv.ParseFloat(os.Getenv("CLAIM_SIMILARITY_THRESHOLD"), 32)
	if err != nil || t <= 0 || t > 1 {
		return 0.75
	}
	return float32(t)
}
