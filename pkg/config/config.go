package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "risepay"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "RISEPAY_APP_ENV"
	EnvPort   = "RISEPAY_APP_PORT"
	EnvDBDSN  = "RISEPAY_DB_DSN"
	EnvDBHost = "RISEPAY_DB_HOST"
	EnvDBUser = "RISEPAY_DB_USER"
	EnvDBName = "RISEPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	MercadoPago  MercadoPagoConfig
	Asaas        AsaasConfig
	PushinPay    PushinPayConfig
	Split        SplitConfig
	RateLimit    RateLimitConfig
	Reconcile    ReconcileConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RISEPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"RISEPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RISEPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RISEPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RISEPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RISEPAY_DB_DSN"`
	Driver string `envconfig:"RISEPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RISEPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"RISEPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RISEPAY_DB_USER"`
	LegacyPassword string `envconfig:"RISEPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"RISEPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"RISEPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RISEPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RISEPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RISEPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RISEPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RISEPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RISEPAY_REDIS_ADDR"`
	Password     string        `envconfig:"RISEPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"RISEPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RISEPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RISEPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RISEPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RISEPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RISEPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RISEPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RISEPAY_AUTO_MIGRATE" default:"false"`
}

// MercadoPagoConfig carries provider credentials and webhook verification
// material for Mercado Pago.
type MercadoPagoConfig struct {
	BaseURL       string        `envconfig:"RISEPAY_MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken   string        `envconfig:"RISEPAY_MERCADOPAGO_ACCESS_TOKEN"`
	WebhookSecret string        `envconfig:"RISEPAY_MERCADOPAGO_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"RISEPAY_MERCADOPAGO_TIMEOUT" default:"8s"`
	SignatureMaxAge time.Duration `envconfig:"RISEPAY_MERCADOPAGO_SIGNATURE_MAX_AGE" default:"5m"`
}

type AsaasConfig struct {
	BaseURL      string        `envconfig:"RISEPAY_ASAAS_BASE_URL" default:"https://api.asaas.com/v3"`
	APIKey       string        `envconfig:"RISEPAY_ASAAS_API_KEY"`
	WebhookToken string        `envconfig:"RISEPAY_ASAAS_WEBHOOK_TOKEN"`
	Timeout      time.Duration `envconfig:"RISEPAY_ASAAS_TIMEOUT" default:"8s"`
}

type PushinPayConfig struct {
	BaseURL      string        `envconfig:"RISEPAY_PUSHINPAY_BASE_URL" default:"https://api.pushinpay.com.br/api"`
	Token        string        `envconfig:"RISEPAY_PUSHINPAY_TOKEN"`
	WebhookToken string        `envconfig:"RISEPAY_PUSHINPAY_WEBHOOK_TOKEN"`
	WebhookURL   string        `envconfig:"RISEPAY_PUSHINPAY_WEBHOOK_URL"`
	Timeout      time.Duration `envconfig:"RISEPAY_PUSHINPAY_TIMEOUT" default:"8s"`
}

// SplitConfig is the platform-wide default fee; per-order rules are frozen at
// charge creation, so changing this never rewrites history.
type SplitConfig struct {
	DefaultPlatformFeePercent string `envconfig:"RISEPAY_SPLIT_PLATFORM_FEE_PERCENT" default:"7.5"`
}

// RateLimitConfig throttles the public order endpoints per caller IP. A zero
// window or limit disables the throttle.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"RISEPAY_RATE_LIMIT_WINDOW" default:"1m"`
	OrdersPerIP int           `envconfig:"RISEPAY_RATE_LIMIT_ORDERS_PER_IP" default:"60"`
}

type ReconcileConfig struct {
	Interval       time.Duration `envconfig:"RISEPAY_RECONCILE_INTERVAL" default:"3m"`
	MinAge         time.Duration `envconfig:"RISEPAY_RECONCILE_MIN_AGE" default:"3m"`
	HourlyAfter    time.Duration `envconfig:"RISEPAY_RECONCILE_HOURLY_AFTER" default:"1h"`
	DailyAfter     time.Duration `envconfig:"RISEPAY_RECONCILE_DAILY_AFTER" default:"24h"`
	BatchSize      int           `envconfig:"RISEPAY_RECONCILE_BATCH_SIZE" default:"200"`
	Workers        int           `envconfig:"RISEPAY_RECONCILE_WORKERS" default:"8"`
	PerOrderTimeout time.Duration `envconfig:"RISEPAY_RECONCILE_ORDER_TIMEOUT" default:"10s"`
	StuckThreshold time.Duration `envconfig:"RISEPAY_RECONCILE_STUCK_THRESHOLD" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RISEPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RISEPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RISEPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AccessTopic       string `envconfig:"RISEPAY_PUBSUB_ACCESS_TOPIC" default:"risepay-access-events"`
	VendorTopic       string `envconfig:"RISEPAY_PUBSUB_VENDOR_TOPIC" default:"risepay-vendor-events"`
	TrackingTopic     string `envconfig:"RISEPAY_PUBSUB_TRACKING_TOPIC" default:"risepay-tracking-events"`
	AccessSubscription string `envconfig:"RISEPAY_PUBSUB_ACCESS_SUBSCRIPTION"`
	VendorSubscription string `envconfig:"RISEPAY_PUBSUB_VENDOR_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"RISEPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"RISEPAY_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int           `envconfig:"RISEPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int           `envconfig:"RISEPAY_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
