package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReportConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	// SeedDemoData inserts a demo user, organization and subscription on startup.
	SeedDemoData bool

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

	Redis    RedisConfig
	Webhook  WebhookConfig
	Email    EmailConfig
	Artifact ArtifactConfig
	Reports  ReportsConfig

	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebhookConfig controls provider signature secrets and the optional
// effect lease taken before a webhook effect runs.
type WebhookConfig struct {
	StripeSecret string
	LeaseMode    string
	LeaseTTL     time.Duration
}

type EmailConfig struct {
	Provider     string
	From         string
	FromName     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	BrevoAPIKey  string
	BrevoBaseURL string
}

type ArtifactConfig struct {
	Store             string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Prefix          string
}

type ReportsConfig struct {
	CronSecretHash   string
	SchedulerEnabled bool
}

// TelemetryConfig carries log and OpenTelemetry exporter settings.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

// RateLimitConfig bounds manual report triggers per user. Rate is tokens
// per second.
type RateLimitConfig struct {
	Enabled            bool
	ReportTriggerRate  float64
	ReportTriggerBurst int
}

const (
	LeaseModeNone  = "none"
	LeaseModeRedis = "redis"

	ArtifactStoreDB = "db"
	ArtifactStoreS3 = "s3"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "railzway-reports"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		SeedDemoData: getenvBool("SEED_DEMO_DATA", false),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Webhook: WebhookConfig{
			StripeSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			LeaseMode:    normalizeLeaseMode(getenv("WEBHOOK_LEASE_MODE", LeaseModeNone)),
			LeaseTTL:     getenvDuration("WEBHOOK_LEASE_TTL", 2*time.Minute),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(strings.TrimSpace(getenv("EMAIL_PROVIDER", "noop"))),
			From:         strings.TrimSpace(getenv("EMAIL_FROM", "reports@railzway.local")),
			FromName:     getenv("EMAIL_FROM_NAME", "Railzway Reports"),
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			BrevoAPIKey:  strings.TrimSpace(getenv("BREVO_API_KEY", "")),
			BrevoBaseURL: strings.TrimRight(getenv("BREVO_BASE_URL", "https://api.brevo.com"), "/"),
		},
		Artifact: ArtifactConfig{
			Store:             normalizeArtifactStore(getenv("ARTIFACT_STORE", ArtifactStoreDB)),
			S3Bucket:          strings.TrimSpace(getenv("S3_BUCKET", "")),
			S3Region:          getenv("S3_REGION", "us-east-1"),
			S3Endpoint:        strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			S3AccessKeyID:     getenv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY", ""),
			S3Prefix:          strings.Trim(getenv("S3_PREFIX", "reports"), "/"),
		},
		Reports: ReportsConfig{
			CronSecretHash:   strings.TrimSpace(getenv("REPORT_CRON_SECRET_HASH", "")),
			SchedulerEnabled: getenvBool("REPORT_SCHEDULER_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:            getenvBool("RATE_LIMIT_ENABLED", false),
			ReportTriggerRate:  getenvFloat("RATE_LIMIT_REPORT_TRIGGER_RATE", 1.0/60),
			ReportTriggerBurst: getenvInt("RATE_LIMIT_REPORT_TRIGGER_BURST", 3),
		},
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}

	return cfg
}

func (c Config) LeaseEnabled() bool {
	return c.Webhook.LeaseMode == LeaseModeRedis
}

func normalizeLeaseMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LeaseModeRedis:
		return LeaseModeRedis
	default:
		return LeaseModeNone
	}
}

func normalizeArtifactStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ArtifactStoreS3:
		return ArtifactStoreS3
	default:
		return ArtifactStoreDB
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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
