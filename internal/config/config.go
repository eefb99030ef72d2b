package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres   = "postgres"
	StoreDriverClickHouse = "clickhouse"
	StoreDriverMemory     = "memory"
)

var (
	ErrUnknownStoreDriver = errors.New("unknown store driver")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrInvalidRateLimit   = errors.New("rate limit must be positive")
)

type Config struct {
	Environment     string
	LogLevel        string
	HTTPPort        string
	GRPCHealthPort  string
	TrustProxy      bool
	Timezone        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	StoreDriver     string

	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Kafka      KafkaConfig
	GeoIP      GeoIPConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
	AutoMigrate     bool
}

type ClickHouseConfig struct {
	Host        string
	NativePort  int
	Database    string
	Username    string
	Password    string
	AutoMigrate bool
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	Topic            string
	ConsumerGroup    string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

type GeoIPConfig struct {
	MMDBPath     string
	IPAPIEnabled bool
	IPAPIURL     string
	CacheSize    int
	CacheTTL     time.Duration
}

type SessionConfig struct {
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	MaxEntries        int
}

type RateLimitConfig struct {
	Disabled bool
	Requests int
	Window   time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCHealthPort:  getEnv("GRPC_HEALTH_PORT", ""),
		TrustProxy:      getEnvAsBool("TRUST_PROXY", true),
		Timezone:        getEnv("TIMEZONE", "Local"),
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    int64(getEnvAsInt("MAX_BODY_BYTES", 10<<20)),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "streamin"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
		AutoMigrate:     getEnvAsBool("POSTGRES_AUTO_MIGRATE", true),
	}

	cfg.ClickHouse = ClickHouseConfig{
		Host:        getEnv("CLICKHOUSE_HOST", "localhost"),
		NativePort:  getEnvAsInt("CLICKHOUSE_NATIVE_PORT", 9000),
		Database:    getEnv("CLICKHOUSE_DB", "analytics"),
		Username:    getEnv("CLICKHOUSE_USER", "default"),
		Password:    getEnv("CLICKHOUSE_PASSWORD", ""),
		AutoMigrate: getEnvAsBool("CLICKHOUSE_AUTO_MIGRATE", true),
	}

	topic := getEnv("KAFKA_TOPIC_EVENTS", "analytics-events")
	cfg.Kafka = KafkaConfig{
		Enabled:          getEnvAsBool("KAFKA_ENABLED", false),
		Brokers:          getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:            topic,
		ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", topic+"-tail"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1), // -1 = все ISR реплики
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000), // 1MB
	}

	cfg.GeoIP = GeoIPConfig{
		MMDBPath:     getEnv("GEOIP_MMDB_PATH", ""),
		IPAPIEnabled: getEnvAsBool("GEOIP_IPAPI_ENABLED", false),
		IPAPIURL:     getEnv("GEOIP_IPAPI_URL", "http://ip-api.com/json"),
		CacheSize:    getEnvAsInt("GEOIP_CACHE_SIZE", 10000),
		CacheTTL:     getEnvAsDuration("GEOIP_CACHE_TTL", 24*time.Hour),
	}

	cfg.Session = SessionConfig{
		InactivityTimeout: getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 30*time.Minute),
		SweepInterval:     getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MaxEntries:        getEnvAsInt("SESSION_MAX_ENTRIES", 100000),
	}

	cfg.RateLimit = RateLimitConfig{
		Disabled: getEnvAsBool("RATE_LIMIT_DISABLED", false),
		Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverClickHouse, StoreDriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreDriver, c.StoreDriver)
	}

	durations := map[string]time.Duration{
		"SESSION_INACTIVITY_TIMEOUT": c.Session.InactivityTimeout,
		"SESSION_SWEEP_INTERVAL":     c.Session.SweepInterval,
		"RATE_LIMIT_WINDOW":          c.RateLimit.Window,
		"REQUEST_TIMEOUT":            c.RequestTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidDuration, key, d)
		}
	}

	if !c.RateLimit.Disabled && c.RateLimit.Requests <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_REQUESTS=%d", ErrInvalidRateLimit, c.RateLimit.Requests)
	}

	return nil
}

// Location resolves TIMEZONE; "today" boundaries are computed in it.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("could not load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func (c *ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.NativePort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
