package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries all runtime settings. It is built once at startup and
// passed to the services that need it; nothing reads env vars after Load.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DB        DBConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	SmartBill SmartBillConfig
	SMTP      SMTPConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	Otel      OtelConfig
}

type DBConfig struct {
	Dialect string // mysql | postgres
	DSN     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

// SmartBillConfig holds credentials for the Romanian fiscal invoicing API.
// Username and Token form the Basic Auth pair; CompanyVAT is our own CUI.
type SmartBillConfig struct {
	Username   string
	Token      string
	CompanyVAT string
	Series     string
	BaseURL    string
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	// OperatorAddress receives escalation alerts (disputes, exhausted
	// invoice retries).
	OperatorAddress string
}

type BillingConfig struct {
	Currency          string
	TaxRate           float64
	GracePeriodDays   int
	WithdrawalDays    int
	InvoiceMaxRetries int
}

type SchedulerConfig struct {
	TickInterval       time.Duration
	EventRetentionDays int
}

type OtelConfig struct {
	Endpoint string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BRICLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("db.dialect", "mysql")
	v.SetDefault("db.dsn", "bricli:bricli@tcp(127.0.0.1:3306)/bricli?charset=utf8mb4&parseTime=True&loc=UTC")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.base_url", "https://api.stripe.com")

	v.SetDefault("smartbill.username", "")
	v.SetDefault("smartbill.token", "")
	v.SetDefault("smartbill.company_vat", "")
	v.SetDefault("smartbill.series", "BRIC")
	v.SetDefault("smartbill.base_url", "https://ws.smartbill.ro/SBORO/api")

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_address", "noreply@bricli.ro")
	v.SetDefault("smtp.from_name", "Bricli")
	v.SetDefault("smtp.operator_address", "operatiuni@bricli.ro")

	v.SetDefault("billing.currency", "RON")
	v.SetDefault("billing.tax_rate", 0.19)
	v.SetDefault("billing.grace_period_days", 7)
	v.SetDefault("billing.withdrawal_days", 14)
	v.SetDefault("billing.invoice_max_retries", 10)

	v.SetDefault("scheduler.tick_interval", "10m")
	v.SetDefault("scheduler.event_retention_days", 90)

	v.SetDefault("otel.endpoint", "")

	tick, err := time.ParseDuration(v.GetString("scheduler.tick_interval"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Env:      v.GetString("env"),
		HTTPAddr: v.GetString("http.addr"),
		LogLevel: v.GetString("log.level"),
		DB: DBConfig{
			Dialect: strings.ToLower(strings.TrimSpace(v.GetString("db.dialect"))),
			DSN:     v.GetString("db.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			BaseURL:       v.GetString("stripe.base_url"),
		},
		SmartBill: SmartBillConfig{
			Username:   v.GetString("smartbill.username"),
			Token:      v.GetString("smartbill.token"),
			CompanyVAT: v.GetString("smartbill.company_vat"),
			Series:     v.GetString("smartbill.series"),
			BaseURL:    v.GetString("smartbill.base_url"),
		},
		SMTP: SMTPConfig{
			Host:            v.GetString("smtp.host"),
			Port:            v.GetInt("smtp.port"),
			Username:        v.GetString("smtp.username"),
			Password:        v.GetString("smtp.password"),
			FromAddress:     v.GetString("smtp.from_address"),
			FromName:        v.GetString("smtp.from_name"),
			OperatorAddress: v.GetString("smtp.operator_address"),
		},
		Billing: BillingConfig{
			Currency:          strings.ToUpper(v.GetString("billing.currency")),
			TaxRate:           v.GetFloat64("billing.tax_rate"),
			GracePeriodDays:   v.GetInt("billing.grace_period_days"),
			WithdrawalDays:    v.GetInt("billing.withdrawal_days"),
			InvoiceMaxRetries: v.GetInt("billing.invoice_max_retries"),
		},
		Scheduler: SchedulerConfig{
			TickInterval:       tick,
			EventRetentionDays: v.GetInt("scheduler.event_retention_days"),
		},
		Otel: OtelConfig{
			Endpoint: v.GetString("otel.endpoint"),
		},
	}, nil
}
