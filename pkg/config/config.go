// Package config loads the single configuration struct every ransomeye
// service is instantiated with. There is no global singleton: callers load
// a Config once at startup and pass it down explicitly.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the platform exposes,
// plus the handful of service-wiring knobs (listen addresses, JWT
// secret, rules path, injector URL) left to the deployer.
type Config struct {
	StorageRoot        string
	RegistryDSN        string
	PrivateKeyPath     string
	PublicKeyPath      string
	PollIntervalSecs   int
	DedupTTL           time.Duration
	BufferCapacity     int
	MaxArchiveSizeMiB  int64
	MaxVerifyDuration  time.Duration
	SimilarityThresh   int
	RedisAddr          string
	LogLevel           string

	ListenAddr  string
	HealthAddr  string
	JWTSecret   string
	RulesPath   string
	InjectorURL string
}

// Load reads configuration from the environment, applying documented
// defaults for every knob.
func Load() *Config {
	return &Config{
		StorageRoot:       getEnv("RANSOMEYE_STORAGE_ROOT", "/var/lib/ransomeye"),
		RegistryDSN:       getEnv("RANSOMEYE_REGISTRY_DSN", "postgres://ransomeye@localhost:5432/ransomeye?sslmode=disable"),
		PrivateKeyPath:    getEnv("RANSOMEYE_PRIVATE_KEY_PATH", "/var/lib/ransomeye/keys/sign_key.pem"),
		PublicKeyPath:     getEnv("RANSOMEYE_PUBLIC_KEY_PATH", "/var/lib/ransomeye/keys/sign_key.pub"),
		PollIntervalSecs:  getEnvInt("RANSOMEYE_POLL_INTERVAL_SECS", 1),
		DedupTTL:          time.Duration(getEnvInt("RANSOMEYE_DEDUP_TTL_SECS", 3600)) * time.Second,
		BufferCapacity:    getEnvInt("RANSOMEYE_BUFFER_CAPACITY", 2000),
		MaxArchiveSizeMiB: int64(getEnvInt("RANSOMEYE_MAX_ARCHIVE_SIZE_MIB", 5*1024)),
		MaxVerifyDuration: time.Duration(getEnvInt("RANSOMEYE_MAX_VERIFY_DURATION_SECS", 60)) * time.Second,
		SimilarityThresh:  getEnvInt("RANSOMEYE_SIMILARITY_THRESHOLD", 3),
		RedisAddr:         getEnv("RANSOMEYE_REDIS_ADDR", ""),
		LogLevel:          getEnv("RANSOMEYE_LOG_LEVEL", "INFO"),

		ListenAddr:  getEnv("RANSOMEYE_LISTEN_ADDR", ":8080"),
		HealthAddr:  getEnv("RANSOMEYE_HEALTH_ADDR", ":8081"),
		JWTSecret:   getEnv("RANSOMEYE_JWT_SECRET", ""),
		RulesPath:   getEnv("RANSOMEYE_RULES_PATH", "/var/lib/ransomeye/rules.json"),
		InjectorURL: getEnv("RANSOMEYE_INJECTOR_URL", "http://localhost:8080/ingest"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
