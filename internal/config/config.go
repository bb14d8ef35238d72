// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Billing     BillingConfig
	Email       EmailConfig
	Notify      NotifyConfig
	Telemetry   TelemetryConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	CORSOrigins  []string
	RateLimit    bool
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
	DeadLetterTopic   string
	ConsumerGroup     string
	Workers           int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

type PaymentConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	PriceIDs            map[string]string // plan code -> stripe price id
	SuccessURL          string
	CancelURL           string
}

// BillingConfig holds the defaults seeded into the settings table. The
// settings table wins once a row exists.
type BillingConfig struct {
	DefaultMode       string
	DepositPercentage float64
	RequestEntryMode  string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type NotifyConfig struct {
	Transport    string // "direct" or "kafka"
	SupportEmail string
	AdminEmail   string
	BrandName    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
}

type I18nConfig struct {
	DefaultLocale string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			CORSOrigins:  getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:    getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "downpricer"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvAsList("KAFKA_BROKERS", nil),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "marketplace.notifications"),
			DeadLetterTopic:   getEnv("KAFKA_DEAD_LETTER_TOPIC", "marketplace.notifications.dlq"),
			ConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "marketplace-notifier"),
			Workers:           getEnvAsInt("KAFKA_WORKERS", 2),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-3"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_WEBHOOK_ARCHIVE_BUCKET", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:            getEnv("STRIPE_CURRENCY", "eur"),
			PriceIDs: map[string]string{
				"starter":  getEnv("STRIPE_PRICE_MINISITE_STARTER", ""),
				"standard": getEnv("STRIPE_PRICE_MINISITE_STANDARD", ""),
				"premium":  getEnv("STRIPE_PRICE_MINISITE_PREMIUM", ""),
			},
			SuccessURL: getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/minisite/success"),
			CancelURL:  getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/minisite/cancel"),
		},
		Billing: BillingConfig{
			DefaultMode:       getEnv("BILLING_MODE", "FREE_TEST"),
			DepositPercentage: getEnvAsFloat("DEPOSIT_PERCENTAGE", 40),
			RequestEntryMode:  getEnv("REQUEST_ENTRY_MODE", "deposit_first"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@downpricer.com"),
			FromName:     getEnv("FROM_NAME", "DownPricer"),
		},
		Notify: NotifyConfig{
			Transport:    getEnv("NOTIFY_TRANSPORT", "direct"),
			SupportEmail: getEnv("SUPPORT_EMAIL", "support@downpricer.com"),
			AdminEmail:   getEnv("ADMIN_NOTIF_EMAIL", ""),
			BrandName:    getEnv("BRAND_NAME", "DownPricer"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvAsBool("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "marketplace-backend"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "fr"),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	switch c.Billing.DefaultMode {
	case "FREE_TEST", "STRIPE_PROD":
	default:
		return fmt.Errorf("unknown billing mode %q", c.Billing.DefaultMode)
	}

	if c.Billing.DepositPercentage < 0 || c.Billing.DepositPercentage > 100 {
		return fmt.Errorf("deposit percentage must be between 0 and 100, got %v", c.Billing.DepositPercentage)
	}

	if c.Billing.DefaultMode == "STRIPE_PROD" && c.Environment == "production" && c.Payment.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required when billing mode is STRIPE_PROD")
	}

	if c.Notify.Transport == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_TRANSPORT=kafka")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
