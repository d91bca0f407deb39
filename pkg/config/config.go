package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	DeviceKey DeviceKeyConfig
	Ingest    IngestConfig
	Webhook   WebhookConfig
	Matching  MatchingConfig
	Callback  CallbackConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Cron      CronConfig
	Features  FeatureFlagsConfig
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
	Env          string `envconfig:"SLIPGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"SLIPGATE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SLIPGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SLIPGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SLIPGATE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SLIPGATE_DB_DSN"`
	Driver string `envconfig:"SLIPGATE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SLIPGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"SLIPGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SLIPGATE_DB_USER"`
	LegacyPassword string `envconfig:"SLIPGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SLIPGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SLIPGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SLIPGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SLIPGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SLIPGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SLIPGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SLIPGATE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SLIPGATE_REDIS_ADDR"`
	Password     string        `envconfig:"SLIPGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SLIPGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SLIPGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SLIPGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SLIPGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SLIPGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SLIPGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SLIPGATE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SLIPGATE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SLIPGATE_JWT_EXPIRATION_MINUTES" required:"true"`
}

// AccessTokenTTL returns the operator token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type DeviceKeyConfig struct {
	ArgonMemoryKB    int `envconfig:"SLIPGATE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SLIPGATE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SLIPGATE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SLIPGATE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SLIPGATE_ARGON_KEY_LEN" default:"32"`
}

type IngestConfig struct {
	DedupWindow          time.Duration `envconfig:"SLIPGATE_INGEST_DEDUP_WINDOW" default:"5m"`
	RateLimitWindow      time.Duration `envconfig:"SLIPGATE_INGEST_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerDevice   int           `envconfig:"SLIPGATE_INGEST_RATE_LIMIT_PER_DEVICE" default:"60"`
	RateLimitPerIP       int           `envconfig:"SLIPGATE_INGEST_RATE_LIMIT_PER_IP" default:"600"`
	AutoApproveThreshold float64       `envconfig:"SLIPGATE_INGEST_AUTO_APPROVE_THRESHOLD" default:"0.9"`
	HeartbeatTTL         time.Duration `envconfig:"SLIPGATE_DEVICE_HEARTBEAT_TTL" default:"5m"`
}

type WebhookConfig struct {
	TimestampToleranceMS int64         `envconfig:"SLIPGATE_WEBHOOK_TIMESTAMP_TOLERANCE_MS" default:"300000"`
	ReplayTTL            time.Duration `envconfig:"SLIPGATE_WEBHOOK_REPLAY_TTL" default:"5m"`
}

// TimestampTolerance returns the webhook timestamp skew budget as a duration.
func (w WebhookConfig) TimestampTolerance() time.Duration {
	return time.Duration(w.TimestampToleranceMS) * time.Millisecond
}

type MatchingConfig struct {
	Tolerance           float64 `envconfig:"SLIPGATE_MATCHING_TOLERANCE" default:"0.005"`
	SuggestionWindow    float64 `envconfig:"SLIPGATE_MATCHING_SUGGESTION_WINDOW" default:"1.00"`
	SuggestionLimit     int     `envconfig:"SLIPGATE_MATCHING_SUGGESTION_LIMIT" default:"5"`
	SuffixFallbackUnits int     `envconfig:"SLIPGATE_MATCHING_SUFFIX_FALLBACK_UNITS" default:"10"`
}

type CallbackConfig struct {
	Timeout   time.Duration `envconfig:"SLIPGATE_CALLBACK_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"SLIPGATE_CALLBACK_USER_AGENT" default:"SlipGate-Callback/1.0"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SLIPGATE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SLIPGATE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SLIPGATE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	Enabled     bool   `envconfig:"SLIPGATE_PUBSUB_ENABLED" default:"false"`
	EventsTopic string `envconfig:"SLIPGATE_PUBSUB_EVENTS_TOPIC" default:"sg-payment-events"`
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"SLIPGATE_CRON_INTERVAL" default:"1m"`
	LockTTL              time.Duration `envconfig:"SLIPGATE_CRON_LOCK_TTL" default:"50s"`
	OrderExpiryBatchSize int           `envconfig:"SLIPGATE_CRON_ORDER_EXPIRY_BATCH" default:"500"`
	DeviceOfflineAfter   time.Duration `envconfig:"SLIPGATE_CRON_DEVICE_OFFLINE_AFTER" default:"5m"`
	EnableOrderExpiry    bool          `envconfig:"SLIPGATE_CRON_ENABLE_ORDER_EXPIRY" default:"true"`
	EnableDeviceOffline  bool          `envconfig:"SLIPGATE_CRON_ENABLE_DEVICE_OFFLINE" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SLIPGATE_AUTO_MIGRATE" default:"false"`
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
