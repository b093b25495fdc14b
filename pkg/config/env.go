package config

const EnvPrefix = "CREATORPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	GatewayProviderSquare  = "square"
	GatewayProviderSandbox = "sandbox"

	EventSinkPubSub   = "pubsub"
	EventSinkRabbitMQ = "rabbitmq"
)

const (
	EnvAppEnv   = "CREATORPAY_APP_ENV"
	EnvPort     = "CREATORPAY_APP_PORT"
	EnvLogLevel = "CREATORPAY_LOG_LEVEL"

	EnvDBDSN  = "CREATORPAY_DB_DSN"
	EnvDBHost = "CREATORPAY_DB_HOST"
	EnvDBUser = "CREATORPAY_DB_USER"
	EnvDBName = "CREATORPAY_DB_NAME"

	EnvRedisURL = "CREATORPAY_REDIS_URL"

	EnvJWTSecret = "CREATORPAY_JWT_SECRET"
	EnvJWTIssuer = "CREATORPAY_JWT_ISSUER"

	EnvGatewayProvider      = "CREATORPAY_GATEWAY_PROVIDER"
	EnvGatewayChargeTimeout = "CREATORPAY_GATEWAY_CHARGE_TIMEOUT"
	EnvGatewayRPS           = "CREATORPAY_GATEWAY_RPS"

	EnvRenewalInterval    = "CREATORPAY_RENEWAL_INTERVAL"
	EnvRenewalConcurrency = "CREATORPAY_RENEWAL_CONCURRENCY"
	EnvRenewalBatchSize   = "CREATORPAY_RENEWAL_BATCH_SIZE"

	EnvPlatformFeePercent = "CREATORPAY_PLATFORM_FEE_PERCENT"
	EnvPayoutMinimum      = "CREATORPAY_PAYOUT_MINIMUM"

	EnvEventBusSink = "CREATORPAY_EVENTBUS_SINK"
	EnvRabbitURL    = "CREATORPAY_RABBITMQ_URL"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
