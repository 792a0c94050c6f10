// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Policy   PolicyConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type StorageConfig struct {
	BasePath         string
	MaxFileSizeBytes int64
	EncryptAtRest    bool
	MasterKeyHex     string
}

// PolicyConfig holds verification decision thresholds. These mirror the
// compliance team's current policy and are deliberately tunable per
// environment rather than compiled in.
type PolicyConfig struct {
	MinAutoApproveSimilarity    int64 // face-match similarity, percent
	MinAutoApproveOCRConfidence int64 // OCR confidence, percent
	MinLivenessScore            int64 // liveness score, percent
	LockRiskDelta               int   // risk points added on admin lock
	UnlockRiskCredit            int   // risk points removed on admin unlock
}

type WorkerConfig struct {
	EnrichmentWorkers int
	EnrichmentTimeout time.Duration
	QueueSize         int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Storage: StorageConfig{
			BasePath:         getEnv("STORAGE_BASE_PATH", "./data/uploads"),
			MaxFileSizeBytes: int64(getIntEnv("STORAGE_MAX_FILE_SIZE", 10*1024*1024)),
			EncryptAtRest:    getBoolEnv("STORAGE_ENCRYPT_AT_REST", true),
			MasterKeyHex:     getEnv("STORAGE_MASTER_KEY", ""),
		},
		Policy: PolicyConfig{
			MinAutoApproveSimilarity:    int64(getIntEnv("POLICY_MIN_AUTO_APPROVE_SIMILARITY", 80)),
			MinAutoApproveOCRConfidence: int64(getIntEnv("POLICY_MIN_AUTO_APPROVE_OCR_CONFIDENCE", 85)),
			MinLivenessScore:            int64(getIntEnv("POLICY_MIN_LIVENESS_SCORE", 60)),
			LockRiskDelta:               getIntEnv("POLICY_LOCK_RISK_DELTA", 100),
			UnlockRiskCredit:            getIntEnv("POLICY_UNLOCK_RISK_CREDIT", 30),
		},
		Worker: WorkerConfig{
			EnrichmentWorkers: getIntEnv("ENRICHMENT_WORKERS", 4),
			EnrichmentTimeout: getDurationEnv("ENRICHMENT_TIMEOUT", 30*time.Second),
			QueueSize:         getIntEnv("ENRICHMENT_QUEUE_SIZE", 256),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
