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
	fx.Provide(NewInvoicingConfigHolder),
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

	Redis       RedisConfig
	Kafka       KafkaConfig
	Invoicing   InvoicingProviderConfig
	MercadoPago MercadoPagoConfig
	Storage     StorageConfig
	Email       EmailConfig
	Scheduler   SchedulerConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

// InvoicingProviderConfig points at the tax-invoicing provider.
type InvoicingProviderConfig struct {
	Provider      string
	BaseURL       string
	Username      string
	Password      string
	Timeout       time.Duration
	// RatePerSecond caps stamping calls across processes when Redis is
	// enabled. Zero disables the throttle.
	RatePerSecond float64
	Burst         int
}

type MercadoPagoConfig struct {
	Enabled     bool
	AccessToken string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	Operators    []string
}

type SchedulerConfig struct {
	Enabled       bool
	Interval      time.Duration
	StaleAfter    time.Duration
	BatchSize     int
	EnabledJobs   []string
	BillingDayUTC int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "supplyrail"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getenvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_ORDER_STATUS_TOPIC", "order.status_changed"),
			GroupID: getenv("KAFKA_GROUP_ID", "supplyrail-invoicing"),
		},
		Invoicing: InvoicingProviderConfig{
			Provider:      strings.ToLower(getenv("INVOICING_PROVIDER", "noop")),
			BaseURL:       strings.TrimRight(getenv("INVOICING_PROVIDER_URL", ""), "/"),
			Username:      strings.TrimSpace(getenv("INVOICING_PROVIDER_USER", "")),
			Password:      strings.TrimSpace(getenv("INVOICING_PROVIDER_PASSWORD", "")),
			Timeout:       getenvDuration("INVOICING_PROVIDER_TIMEOUT", 30*time.Second),
			RatePerSecond: getenvFloat("INVOICING_PROVIDER_RATE", 0),
			Burst:         getenvInt("INVOICING_PROVIDER_BURST", 5),
		},
		MercadoPago: MercadoPagoConfig{
			Enabled:     getenvBool("MERCADOPAGO_ENABLED", false),
			AccessToken: strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
		},
		Storage: StorageConfig{
			Enabled:   getenvBool("STORAGE_ENABLED", false),
			Endpoint:  getenv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getenv("STORAGE_SECRET_KEY", ""),
			Bucket:    getenv("STORAGE_BUCKET", "invoices"),
			UseSSL:    getenvBool("STORAGE_USE_SSL", false),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@supplyrail.local"),
			Operators:    splitList(getenv("INVOICING_OPERATOR_EMAILS", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			Interval:    getenvDuration("SCHEDULER_INTERVAL", time.Hour),
			StaleAfter:  getenvDuration("SCHEDULER_STALE_EXECUTION_AFTER", 30*time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 50),
			EnabledJobs: splitList(getenv("SCHEDULER_JOBS", "")),
			// accounts are billed from this day of the month on
			BillingDayUTC: getenvInt("SCHEDULER_BILLING_DAY", 1),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
	if err != nil || parsed < 0 {
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

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
