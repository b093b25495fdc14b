package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Square    SquareConfig
	Gateway   GatewayConfig
	Renewal   RenewalConfig
	Access    AccessConfig
	Payout    PayoutConfig
	Outbox    OutboxConfig
	EventBus  EventBusConfig
	GCP       GCPConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Renewal.validate(); err != nil {
		return err
	}
	if err := c.Payout.validate(); err != nil {
		return err
	}
	return c.EventBus.validate(c.App.IsDev())
}

type AppConfig struct {
	Env          string `envconfig:"CREATORPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"CREATORPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CREATORPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREATORPAY_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is the /metrics listener for the worker binaries; empty disables it.
	MetricsAddr  string `envconfig:"CREATORPAY_METRICS_ADDR" default:":9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CREATORPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREATORPAY_DB_DSN"`
	Driver string `envconfig:"CREATORPAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CREATORPAY_DB_HOST"`
	Port     int    `envconfig:"CREATORPAY_DB_PORT" default:"5432"`
	User     string `envconfig:"CREATORPAY_DB_USER"`
	Password string `envconfig:"CREATORPAY_DB_PASSWORD"`
	Name     string `envconfig:"CREATORPAY_DB_NAME"`
	SSLMode  string `envconfig:"CREATORPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREATORPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREATORPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREATORPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREATORPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CREATORPAY_DB_SLOW_QUERY" default:"500ms"`

	AutoMigrate bool `envconfig:"CREATORPAY_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREATORPAY_REDIS_URL"`
	Address      string        `envconfig:"CREATORPAY_REDIS_ADDR"`
	Password     string        `envconfig:"CREATORPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREATORPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREATORPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREATORPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREATORPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREATORPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREATORPAY_REDIS_WRITE_TIMEOUT" default:"5s"`

	IdempotencyTTL time.Duration `envconfig:"CREATORPAY_IDEMPOTENCY_TTL" default:"24h"`
}

// JWTConfig verifies access tokens minted by the identity provider.
type JWTConfig struct {
	Secret string `envconfig:"CREATORPAY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CREATORPAY_JWT_ISSUER" required:"true"`

	// Leeway tolerates clock skew against the identity provider.
	Leeway time.Duration `envconfig:"CREATORPAY_JWT_LEEWAY" default:"30s"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"CREATORPAY_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"CREATORPAY_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"CREATORPAY_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"CREATORPAY_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// GatewayConfig bounds every outbound charge or refund.
type GatewayConfig struct {
	Provider         string        `envconfig:"CREATORPAY_GATEWAY_PROVIDER" default:"square"`
	ChargeTimeout    time.Duration `envconfig:"CREATORPAY_GATEWAY_CHARGE_TIMEOUT" default:"10s"`
	BreakerFailures  uint32        `envconfig:"CREATORPAY_GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerOpenFor   time.Duration `envconfig:"CREATORPAY_GATEWAY_BREAKER_OPEN_FOR" default:"30s"`
	BreakerHalfOpen  uint32        `envconfig:"CREATORPAY_GATEWAY_BREAKER_HALF_OPEN_REQUESTS" default:"1"`
	BreakerInterval  time.Duration `envconfig:"CREATORPAY_GATEWAY_BREAKER_INTERVAL" default:"1m"`
	RequestsPerSec   float64       `envconfig:"CREATORPAY_GATEWAY_RPS" default:"20"`
	IdempotencyScope string        `envconfig:"CREATORPAY_GATEWAY_IDEMPOTENCY_SCOPE" default:"creatorpay"`
}

func (g GatewayConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(g.Provider)) {
	case GatewayProviderSquare, GatewayProviderSandbox:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvGatewayProvider, GatewayProviderSquare, GatewayProviderSandbox)
	}
	if g.ChargeTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayChargeTimeout)
	}
	if g.RequestsPerSec <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayRPS)
	}
	return nil
}

type RenewalConfig struct {
	Interval        time.Duration `envconfig:"CREATORPAY_RENEWAL_INTERVAL" default:"5m"`
	Concurrency     int           `envconfig:"CREATORPAY_RENEWAL_CONCURRENCY" default:"8"`
	BatchSize       int           `envconfig:"CREATORPAY_RENEWAL_BATCH_SIZE" default:"200"`
	ReconcileAfter  time.Duration `envconfig:"CREATORPAY_PAYMENT_RECONCILE_AFTER" default:"15m"`
	OutboxRetention time.Duration `envconfig:"CREATORPAY_OUTBOX_RETENTION" default:"720h"`
	LockTTL         time.Duration `envconfig:"CREATORPAY_CRON_LOCK_TTL" default:"4m"`
}

func (r RenewalConfig) validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvRenewalInterval)
	}
	if r.Concurrency < 1 {
		return fmt.Errorf("%s must be at least 1", EnvRenewalConcurrency)
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("%s must be at least 1", EnvRenewalBatchSize)
	}
	return nil
}

// AccessConfig tunes the content access decision.
type AccessConfig struct {
	GraceWindow time.Duration `envconfig:"CREATORPAY_ACCESS_GRACE_WINDOW" default:"24h"`
}

type PayoutConfig struct {
	PlatformFeePercent string `envconfig:"CREATORPAY_PLATFORM_FEE_PERCENT" default:"20"`
	MinimumAmount      string `envconfig:"CREATORPAY_PAYOUT_MINIMUM" default:"10.00"`
}

// FeePercent parses the platform fee as a decimal percentage.
func (p PayoutConfig) FeePercent() decimal.Decimal {
	fee, err := decimal.NewFromString(strings.TrimSpace(p.PlatformFeePercent))
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// Minimum parses the smallest payout a creator may request.
func (p PayoutConfig) Minimum() decimal.Decimal {
	minimum, err := decimal.NewFromString(strings.TrimSpace(p.MinimumAmount))
	if err != nil {
		return decimal.Zero
	}
	return minimum
}

func (p PayoutConfig) validate() error {
	fee, err := decimal.NewFromString(strings.TrimSpace(p.PlatformFeePercent))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvPlatformFeePercent, err)
	}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be within [0,100]", EnvPlatformFeePercent)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(p.MinimumAmount)); err != nil {
		return fmt.Errorf("%s: %w", EnvPayoutMinimum, err)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CREATORPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CREATORPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CREATORPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// EventBusConfig selects where settlement events are published.
type EventBusConfig struct {
	Sink                   string        `envconfig:"CREATORPAY_EVENTBUS_SINK" default:"pubsub"`
	SettlementTopic        string        `envconfig:"CREATORPAY_EVENTBUS_SETTLEMENT_TOPIC" default:"creatorpay-settlements"`
	SettlementSubscription string        `envconfig:"CREATORPAY_EVENTBUS_SETTLEMENT_SUBSCRIPTION" default:"creatorpay-settlements-ledger"`
	DLQTopic               string        `envconfig:"CREATORPAY_EVENTBUS_DLQ_TOPIC" default:"creatorpay-settlements-dlq"`
	RabbitURL              string        `envconfig:"CREATORPAY_RABBITMQ_URL"`
	RabbitExchange         string        `envconfig:"CREATORPAY_RABBITMQ_EXCHANGE" default:"creatorpay.settlements"`
	ConsumerDedupeTTL      time.Duration `envconfig:"CREATORPAY_EVENTBUS_DEDUPE_TTL" default:"720h"`
	ConsumerClaimLease     time.Duration `envconfig:"CREATORPAY_EVENTBUS_CLAIM_LEASE" default:"2m"`
}

// validate lets dev run RabbitMQ without a URL; publishers then use the no-op sink.
func (e EventBusConfig) validate(dev bool) error {
	switch strings.ToLower(strings.TrimSpace(e.Sink)) {
	case EventSinkPubSub:
	case EventSinkRabbitMQ:
		if strings.TrimSpace(e.RabbitURL) == "" && !dev {
			return fmt.Errorf("%s is required when %s=%s", EnvRabbitURL, EnvEventBusSink, EventSinkRabbitMQ)
		}
	default:
		return fmt.Errorf("%s must be %q or %q", EnvEventBusSink, EventSinkPubSub, EventSinkRabbitMQ)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CREATORPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CREATORPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CREATORPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

// RateLimitConfig throttles writes on the public API. A zero window disables it.
type RateLimitConfig struct {
	Window    time.Duration `envconfig:"CREATORPAY_RATE_LIMIT_WINDOW" default:"1m"`
	UserLimit int           `envconfig:"CREATORPAY_RATE_LIMIT_USER" default:"30"`
	IPLimit   int           `envconfig:"CREATORPAY_RATE_LIMIT_IP" default:"120"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CREATORPAY_CORS_ALLOWED_ORIGINS" default:"*"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
