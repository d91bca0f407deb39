package config

// EnvPrefix namespaces every environment variable the gateway reads.
const EnvPrefix = "slipgate"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names, shared with tests and deploy manifests.
const (
	EnvAppEnv   = "SLIPGATE_APP_ENV"
	EnvPort     = "SLIPGATE_APP_PORT"
	EnvLogLevel = "SLIPGATE_LOG_LEVEL"

	EnvDBDSN      = "SLIPGATE_DB_DSN"
	EnvDBHost     = "SLIPGATE_DB_HOST"
	EnvDBPort     = "SLIPGATE_DB_PORT"
	EnvDBUser     = "SLIPGATE_DB_USER"
	EnvDBPassword = "SLIPGATE_DB_PASSWORD"
	EnvDBName     = "SLIPGATE_DB_NAME"
	EnvDBSSLMode  = "SLIPGATE_DB_SSLMODE"

	EnvRedisURL = "SLIPGATE_REDIS_URL"

	EnvJWTSecret  = "SLIPGATE_JWT_SECRET"
	EnvJWTIssuer  = "SLIPGATE_JWT_ISSUER"
	EnvJWTExpMins = "SLIPGATE_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID    = "SLIPGATE_GCP_PROJECT_ID"
	EnvPubSubEnabled   = "SLIPGATE_PUBSUB_ENABLED"
	EnvPubSubTopic     = "SLIPGATE_PUBSUB_EVENTS_TOPIC"
	EnvWebhookReplay   = "SLIPGATE_WEBHOOK_REPLAY_TTL"
	EnvCallbackTimeout = "SLIPGATE_CALLBACK_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
