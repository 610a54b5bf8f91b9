// Package config builds the single process-wide configuration structure.
// It is constructed once in main and passed down; nothing reads the
// environment ad hoc after startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger holds chain endpoint and caller key material.
type Ledger struct {
	Endpoint        string
	CallerKeyHex    string
	ContractAddress string
	ConfirmTimeout  time.Duration
}

// VectorIndex holds Qdrant connection settings.
type VectorIndex struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	UseTLS     bool
}

// Encoder holds the external feature-encoder endpoint.
type Encoder struct {
	Endpoint string
	Timeout  time.Duration
}

// Retry captures a bounded attempt policy with backoff.
type Retry struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Kafka holds audit trail publishing settings.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Redis holds the shared nonce store settings.
type Redis struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ObjectStore holds S3/MinIO settings for raw voice samples.
type ObjectStore struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Credential holds JWT issuance settings.
type Credential struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// Config is the process configuration for the voicepassport server.
type Config struct {
	Addr         string
	Ledger       Ledger
	VectorIndex  VectorIndex
	Encoder      Encoder
	StageRetry   Retry
	WebhookRetry Retry
	Kafka        Kafka
	Redis        Redis
	PostgresDSN  string
	ObjectStore  ObjectStore
	Credential   Credential
	// AuthMinScore rejects matches below this similarity before the ledger
	// is consulted. Zero disables the policy.
	AuthMinScore float32
}

// FromEnv builds the Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr: envOr("VOICEPASS_ADDR", ":8080"),
		Ledger: Ledger{
			Endpoint:        os.Getenv("LEDGER_HTTP_PROVIDER"),
			CallerKeyHex:    os.Getenv("LEDGER_CALLER_PRIVATE_KEY"),
			ContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
			ConfirmTimeout:  envDuration("LEDGER_CONFIRM_TIMEOUT", 90*time.Second),
		},
		VectorIndex: VectorIndex{
			Host:       envOr("QDRANT_HOST", "localhost"),
			Port:       envInt("QDRANT_PORT", 6334),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: envOr("QDRANT_COLLECTION", "voice_embeddings"),
			UseTLS:     os.Getenv("QDRANT_USE_TLS") == "true",
		},
		Encoder: Encoder{
			Endpoint: os.Getenv("ENCODER_ENDPOINT"),
			Timeout:  envDuration("ENCODER_TIMEOUT", 30*time.Second),
		},
		StageRetry: Retry{
			MaxAttempts:     envInt("STAGE_RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: envDuration("STAGE_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     envDuration("STAGE_RETRY_MAX_INTERVAL", 5*time.Second),
		},
		WebhookRetry: Retry{
			MaxAttempts:     envInt("WEBHOOK_RETRY_MAX_ATTEMPTS", 5),
			InitialInterval: envDuration("WEBHOOK_RETRY_INITIAL_INTERVAL", time.Second),
			MaxInterval:     envDuration("WEBHOOK_RETRY_MAX_INTERVAL", 30*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_AUDIT_TOPIC", "voicepassport.audit"),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		ObjectStore: ObjectStore{
			Endpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
			Region:    envOr("OBJECT_STORE_REGION", "us-east-1"),
			Bucket:    envOr("OBJECT_STORE_BUCKET", "voice-samples"),
			AccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
			SecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		},
		Credential: Credential{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     envOr("JWT_ISSUER", "voicepassport"),
			TTL:        envDuration("JWT_TTL", time.Hour),
		},
		AuthMinScore: envFloat32("AUTH_MIN_SCORE", 0),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
