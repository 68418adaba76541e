package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Kafka    KafkaConfig `envPrefix:"KAFKA_"`
	Observ   ObservabilityConfig
	Stripe   StripeConfig `envPrefix:"STRIPE_"`
	Twilio   TwilioConfig `envPrefix:"TWILIO_"`
	Notifier NotifierConfig
	Security SecurityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port        string `env:"PORT" envDefault:"3001"`
	Env         string `env:"ENV" envDefault:"development"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:3001"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is honoured; empty trusts none
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type DatabaseConfig struct {
	URL         string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers       []string `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	TopicOrder    string   `env:"TOPIC_ORDER_EVENTS" envDefault:"order-events"`
	ConsumerGroup string   `env:"CONSUMER_GROUP" envDefault:"pickup-report-cache"`
	// InstanceID suffixes the report cache group so every replica sees every event
	InstanceID string `env:"INSTANCE_ID"`
}

// ReportCacheGroup returns the consumer group of this replica's report cache worker.
// fallback is used when INSTANCE_ID is unset.
func (k KafkaConfig) ReportCacheGroup(fallback string) string {
	instance := k.InstanceID
	if instance == "" {
		instance = fallback
	}
	if instance == "" {
		return k.ConsumerGroup
	}
	return k.ConsumerGroup + "-" + instance
}

type ObservabilityConfig struct {
	JaegerEndpoint  string  `env:"JAEGER_ENDPOINT" envDefault:"http://localhost:14268/api/traces"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1"`
}

type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY,required,notEmpty"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required,notEmpty"`
	FeePercent    string `env:"FEE_PERCENT" envDefault:"2.9"`
	FeeFixedCents int64  `env:"FEE_FIXED_CENTS" envDefault:"30"`
	Currency      string `env:"CURRENCY" envDefault:"usd"`
}

type NotifierConfig struct {
	Driver        string `env:"NOTIFIER_DRIVER" envDefault:"twilio"`
	SMSCostCents  int64  `env:"SMS_COST_CENTS" envDefault:"1"`
	CallCostCents int64  `env:"CALL_COST_CENTS" envDefault:"1"`
}

type TwilioConfig struct {
	AccountSID        string `env:"ACCOUNT_SID"`
	AuthToken         string `env:"AUTH_TOKEN"`
	FromNumber        string `env:"FROM_NUMBER"`
	ValidateCallbacks bool   `env:"VALIDATE_CALLBACKS" envDefault:"false"`
}

type SecurityConfig struct {
	OTPSecretPepper string        `env:"OTP_SECRET_PEPPER,required,notEmpty"`
	StaffPassword   string        `env:"STAFF_PASSWORD"`
	JWTSecret       string        `env:"STAFF_JWT_SECRET"`
	JWTTTL          time.Duration `env:"STAFF_JWT_TTL" envDefault:"12h"`
}

type BusinessConfig struct {
	OTPWindow          time.Duration `env:"OTP_WINDOW" envDefault:"60m"`
	OTPRateLimit       int64         `env:"OTP_RATE_LIMIT" envDefault:"5"`
	OTPRateWindow      time.Duration `env:"OTP_RATE_WINDOW" envDefault:"1h"`
	GeneralRateLimit   int64         `env:"GENERAL_RATE_LIMIT" envDefault:"100"`
	GeneralRateWindow  time.Duration `env:"GENERAL_RATE_WINDOW" envDefault:"15m"`
	ReportCacheTTL     time.Duration `env:"REPORT_CACHE_TTL" envDefault:"1m"`
	ReportCacheEntries int           `env:"REPORT_CACHE_ENTRIES" envDefault:"256"`
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Printf("Config loaded: env=%s, port=%s, notifier=%s", cfg.Server.Env, cfg.Server.Port, cfg.Notifier.Driver)
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	switch c.Notifier.Driver {
	case "twilio":
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			problems = append(problems, "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required with NOTIFIER_DRIVER=twilio")
		}
	case "log":
	default:
		problems = append(problems, "NOTIFIER_DRIVER must be twilio or log")
	}

	if c.Security.StaffPassword == "" && c.Security.JWTSecret == "" {
		problems = append(problems, "one of STAFF_PASSWORD or STAFF_JWT_SECRET is required")
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		problems = append(problems, "STAFF_JWT_SECRET must be at least 32 characters")
	}
	if c.Business.OTPRateLimit <= 0 || c.Business.GeneralRateLimit <= 0 {
		problems = append(problems, "rate limits must be positive")
	}
	if c.Observ.TraceSampleRate < 0 || c.Observ.TraceSampleRate > 1 {
		problems = append(problems, "TRACE_SAMPLE_RATE must be in [0, 1]")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
