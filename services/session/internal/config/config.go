package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	JWTSecret     []byte
	ServiceSecret []byte
	ProofSecret   []byte
	TokenIssuer   string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	JanitorIdleAfter   time.Duration
	JanitorRetainAfter time.Duration
	JanitorPurgeAfter  time.Duration
	JanitorInterval    time.Duration

	KafkaAddress       string
	NotificationsTopic string
	AuthRequestsTopic  string
	AuthResponsesTopic string
	KafkaGroupID       string
	CorrelationTTL     time.Duration

	ESURL      string
	ESUser     string
	ESPassword string
	AuditIndex string
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	cfg := &Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8085"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		ServiceSecret: []byte(os.Getenv("SERVICE_SECRET")),
		ProofSecret:   []byte(os.Getenv("PROOF_SECRET")),
		TokenIssuer:   getenv("TOKEN_ISSUER", "socialnet-session"),

		KafkaAddress:       getenv("KAFKA_ADDRESS", "localhost:9092"),
		NotificationsTopic: getenv("NOTIFICATIONS_TOPIC", "operator_notifications"),
		AuthRequestsTopic:  getenv("AUTH_REQUESTS_TOPIC", "auth_requests"),
		AuthResponsesTopic: getenv("AUTH_RESPONSES_TOPIC", "auth_responses"),
		KafkaGroupID:       getenv("KAFKA_GROUP_ID", "session-service"),

		ESURL:      os.Getenv("ES_URL"),
		ESUser:     os.Getenv("ES_USER"),
		ESPassword: os.Getenv("ES_PASSWORD"),
		AuditIndex: getenv("AUDIT_INDEX", "session-audit"),
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.ServiceSecret) == 0 {
		return nil, fmt.Errorf("SERVICE_SECRET is required")
	}
	if len(cfg.ProofSecret) == 0 {
		return nil, fmt.Errorf("PROOF_SECRET is required")
	}

	var err error
	if cfg.AccessTTL, err = getduration("ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getduration("REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JanitorIdleAfter, err = getduration("JANITOR_IDLE_AFTER", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JanitorRetainAfter, err = getduration("JANITOR_RETAIN_AFTER", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JanitorPurgeAfter, err = getduration("JANITOR_PURGE_AFTER", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JanitorInterval, err = getduration("JANITOR_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CorrelationTTL, err = getduration("CORRELATION_TTL", 2*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
