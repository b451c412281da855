package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// PublicBaseURL is the externally reachable origin used to build gateway
	// return and notify URLs.
	PublicBaseURL string
	// APIKeys are "role:secret" bearer tokens accepted on /api routes. Empty
	// leaves the API open outside production.
	APIKeys []string

	Telemetry TelemetryConfig
	Logger    LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis      RedisConfig
	AMQPURL    string
	Billing    BillingConfig
	Gateway    GatewayConfig
	Ledger     LedgerConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig
}

type LoggerConfig struct {
	Level string
	// Format is json or console.
	Format string
}

// TelemetryConfig drives the OTLP trace and metric exporters.
type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
	// Protocol is grpc or http.
	Protocol      string
	SamplingRatio float64
}

type RedisConfig struct {
	// Enabled connects to Redis for locks and rate limits even when the
	// settlement store is not redis.
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig throttles webhook deliveries per provider.
type RateLimitConfig struct {
	WebhookRate  float64
	WebhookBurst int
}

// BillingConfig points at the billing/CRM RPC endpoint.
type BillingConfig struct {
	URL        string
	Identifier string
	Secret     string
	AccessKey  string
	Timeout    time.Duration
	// RecentCustomerScan bounds the duplicate-customer fallback scan.
	RecentCustomerScan int
}

type GatewayConfig struct {
	ClientID     string
	ClientSecret string
	GoID         int64
	BaseURL      string
	// Simulate forces the deterministic simulated adapter even when
	// credentials are present.
	Simulate      bool
	WebhookSecret string
	Timeout       time.Duration
	StatusRetries uint
}

type LedgerConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	QueueSize  int
	PushRemote bool
}

type SettlementConfig struct {
	// Store selects the settlement store backend: memory, database or redis.
	Store    string
	ClaimTTL time.Duration
	// RecoverySchedule is a cron spec for the stale claim sweep. Empty disables it.
	RecoverySchedule string
}

const (
	SettlementStoreMemory   = "memory"
	SettlementStoreDatabase = "database"
	SettlementStoreRedis    = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "orderbridge"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_BASE_URL", "http://localhost:8080")), "/"),
		APIKeys:       splitList(getenv("API_KEYS", "")),
		Telemetry: TelemetryConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Logger: LoggerConfig{
			Level:  strings.ToLower(getenv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getenv("LOG_FORMAT", "json")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "orderbridge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		AMQPURL: strings.TrimSpace(getenv("AMQP_URL", "")),
		Billing: BillingConfig{
			URL:                strings.TrimSpace(getenv("BILLING_API_URL", "")),
			Identifier:         strings.TrimSpace(getenv("BILLING_API_IDENTIFIER", "")),
			Secret:             strings.TrimSpace(getenv("BILLING_API_SECRET", "")),
			AccessKey:          strings.TrimSpace(getenv("BILLING_API_ACCESS_KEY", "")),
			Timeout:            getenvDuration("BILLING_TIMEOUT", 12*time.Second),
			RecentCustomerScan: int(getenvInt64("BILLING_RECENT_CUSTOMER_SCAN", 100)),
		},
		Gateway: GatewayConfig{
			ClientID:      strings.TrimSpace(getenv("GATEWAY_CLIENT_ID", "")),
			ClientSecret:  strings.TrimSpace(getenv("GATEWAY_CLIENT_SECRET", "")),
			GoID:          getenvInt64("GATEWAY_GOID", 0),
			BaseURL:       strings.TrimSpace(getenv("GATEWAY_BASE_URL", "https://gw.sandbox.gopay.com/api")),
			Simulate:      getenvBool("GATEWAY_SIMULATE", false),
			WebhookSecret: strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			Timeout:       getenvDuration("GATEWAY_TIMEOUT", 12*time.Second),
			StatusRetries: uint(getenvInt64("GATEWAY_STATUS_RETRIES", 3)),
		},
		Ledger: LedgerConfig{
			URL:        strings.TrimSpace(getenv("LEDGER_API_URL", "")),
			Token:      strings.TrimSpace(getenv("LEDGER_API_TOKEN", "")),
			Timeout:    getenvDuration("LEDGER_TIMEOUT", 10*time.Second),
			QueueSize:  int(getenvInt64("LEDGER_QUEUE_SIZE", 256)),
			PushRemote: getenvBool("LEDGER_PUSH_REMOTE", true),
		},
		Settlement: SettlementConfig{
			Store:            normalizeStore(getenv("SETTLEMENT_STORE", SettlementStoreMemory)),
			ClaimTTL:         getenvDuration("SETTLEMENT_CLAIM_TTL", 2*time.Minute),
			RecoverySchedule: strings.TrimSpace(getenv("SETTLEMENT_RECOVERY_SCHEDULE", "@every 1m")),
		},
		RateLimit: RateLimitConfig{
			WebhookRate:  getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst: int(getenvInt64("RATE_LIMIT_WEBHOOK_BURST", 40)),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsesRedis reports whether any component needs a Redis connection.
func (c Config) UsesRedis() bool {
	return c.Redis.Enabled || c.Settlement.Store == SettlementStoreRedis
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizeStore(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case SettlementStoreDatabase, "db", "postgres":
		return SettlementStoreDatabase
	case SettlementStoreRedis:
		return SettlementStoreRedis
	default:
		return SettlementStoreMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
