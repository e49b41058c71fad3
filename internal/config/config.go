package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Module provides Config loaded from the environment.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

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

	Ingest    IngestConfig
	Machine   MachineConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// IngestConfig tunes the event ingestion pipeline.
type IngestConfig struct {
	Timezone             string
	MachineLookupTimeout time.Duration
	BatchConcurrency     int
	BatchMaxItems        int
	RollupMaxAttempts    int
	LockTTL              time.Duration
}

// MachineConfig tunes the machine resolver cache.
type MachineConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig controls the per-machine ingest token bucket.
type RateLimitConfig struct {
	Enabled      bool
	MachineRate  float64
	MachineBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return Config{
		AppName:      v.GetString("APP_SERVICE"),
		AppVersion:   v.GetString("APP_VERSION"),
		Environment:  v.GetString("ENVIRONMENT"),
		HTTPAddr:     v.GetString("HTTP_ADDR"),
		OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),

		DBType:            strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_TYPE"))),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),

		Ingest: IngestConfig{
			Timezone:             strings.TrimSpace(v.GetString("INGEST_TIMEZONE")),
			MachineLookupTimeout: v.GetDuration("INGEST_MACHINE_LOOKUP_TIMEOUT"),
			BatchConcurrency:     v.GetInt("INGEST_BATCH_CONCURRENCY"),
			BatchMaxItems:        v.GetInt("INGEST_BATCH_MAX_ITEMS"),
			RollupMaxAttempts:    v.GetInt("INGEST_ROLLUP_MAX_ATTEMPTS"),
			LockTTL:              v.GetDuration("INGEST_LOCK_TTL"),
		},
		Machine: MachineConfig{
			CacheSize: v.GetInt("MACHINE_CACHE_SIZE"),
			CacheTTL:  v.GetDuration("MACHINE_CACHE_TTL"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password: strings.TrimSpace(v.GetString("REDIS_PASSWORD")),
			DB:       v.GetInt("REDIS_DB"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("RATE_LIMIT_ENABLED"),
			MachineRate:  v.GetFloat64("RATE_LIMIT_MACHINE_RATE"),
			MachineBurst: v.GetInt("RATE_LIMIT_MACHINE_BURST"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_SERVICE", "coinpulse")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "coinpulse")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 50)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 300)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 60)

	v.SetDefault("INGEST_TIMEZONE", "UTC")
	v.SetDefault("INGEST_MACHINE_LOOKUP_TIMEOUT", 2*time.Second)
	v.SetDefault("INGEST_BATCH_CONCURRENCY", 4)
	v.SetDefault("INGEST_BATCH_MAX_ITEMS", 500)
	v.SetDefault("INGEST_ROLLUP_MAX_ATTEMPTS", 3)
	v.SetDefault("INGEST_LOCK_TTL", 10*time.Second)

	v.SetDefault("MACHINE_CACHE_SIZE", 4096)
	v.SetDefault("MACHINE_CACHE_TTL", 30*time.Second)

	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_MACHINE_RATE", 5.0)
	v.SetDefault("RATE_LIMIT_MACHINE_BURST", 20)
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Location returns the time zone used to derive temporal event fields.
func (c IngestConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
