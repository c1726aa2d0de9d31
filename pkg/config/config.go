package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CONFOPS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv              = "CONFOPS_APP_ENV"
	EnvPort                = "CONFOPS_APP_PORT"
	EnvOrigin              = "CONFOPS_APP_ORIGIN"
	EnvDBDSN               = "CONFOPS_DB_DSN"
	EnvDBHost              = "CONFOPS_DB_HOST"
	EnvDBUser              = "CONFOPS_DB_USER"
	EnvDBName              = "CONFOPS_DB_NAME"
	EnvRedisURL            = "CONFOPS_REDIS_URL"
	EnvJWTSecret           = "CONFOPS_JWT_SECRET"
	EnvJWTIssuer           = "CONFOPS_JWT_ISSUER"
	EnvJWTExpMins          = "CONFOPS_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID        = "CONFOPS_GCP_PROJECT_ID"
	EnvPubSubAlertsTopic   = "CONFOPS_PUBSUB_ALERTS_TOPIC"
	EnvPubSubAlertsSub     = "CONFOPS_PUBSUB_ALERTS_SUBSCRIPTION"
	EnvPushServerKey       = "CONFOPS_PUSH_SERVER_KEY"
	EnvPushTokenMaxAge     = "CONFOPS_PUSH_TOKEN_MAX_AGE"
	EnvAlertsRecencyWindow = "CONFOPS_ALERTS_RECENCY_WINDOW"
	EnvTimersRebroadcast   = "CONFOPS_TIMERS_REBROADCAST_EVERY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Auth         AuthConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Firebase     FirebaseConfig
	BigQuery     BigQueryConfig
	Push         PushConfig
	Alerts       AlertsConfig
	Timers       TimersConfig
	Deferred     DeferredConfig
	Dispatch     DispatchConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	return &cfg, nil
}

type AppConfig struct {
	Env  string `envconfig:"CONFOPS_APP_ENV" required:"true"`
	Port string `envconfig:"CONFOPS_APP_PORT" default:"8080"`
	// Origin is a comma-separated list of dashboard origins.
	Origin       string `envconfig:"CONFOPS_APP_ORIGIN" default:"http://localhost:3000"`
	LogLevel     string `envconfig:"CONFOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CONFOPS_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"CONFOPS_METRICS_ADDR" default:":9102"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// Origins splits Origin, dropping blanks and trailing slashes.
func (a AppConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(a.Origin, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"CONFOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CONFOPS_DB_DSN"`
	Driver string `envconfig:"CONFOPS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CONFOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"CONFOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CONFOPS_DB_USER"`
	LegacyPassword string `envconfig:"CONFOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CONFOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CONFOPS_DB_SSLMODE" default:"disable"`

	SQLitePath string        `envconfig:"CONFOPS_DB_SQLITE_PATH" default:"confops.db"`
	SlowQuery  time.Duration `envconfig:"CONFOPS_DB_SLOW_QUERY" default:"250ms"`

	MaxOpenConns    int           `envconfig:"CONFOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CONFOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONFOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CONFOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CONFOPS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CONFOPS_REDIS_ADDR"`
	Password     string        `envconfig:"CONFOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CONFOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CONFOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CONFOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CONFOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CONFOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CONFOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CONFOPS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CONFOPS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CONFOPS_JWT_EXPIRATION_MINUTES" default:"720"`
	RefreshTokenHours int    `envconfig:"CONFOPS_REFRESH_TOKEN_TTL_HOURS" default:"72"`
}

// RefreshTokenTTL is how long a dashboard session survives without a refresh.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(j.RefreshTokenHours) * time.Hour
}

// PasswordConfig holds the argon2id parameters used when hashing passcodes.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CONFOPS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CONFOPS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CONFOPS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CONFOPS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CONFOPS_ARGON_KEY_LEN" default:"32"`
}

// AuthConfig carries the argon2id hashes of the per-role dashboard passcodes
// and the sign-in throttle. A role with no hash cannot sign in.
type AuthConfig struct {
	AdminPasscodeHash string        `envconfig:"CONFOPS_AUTH_ADMIN_PASSCODE_HASH"`
	ChairPasscodeHash string        `envconfig:"CONFOPS_AUTH_CHAIR_PASSCODE_HASH"`
	PressPasscodeHash string        `envconfig:"CONFOPS_AUTH_PRESS_PASSCODE_HASH"`
	LoginWindow       time.Duration `envconfig:"CONFOPS_AUTH_LOGIN_WINDOW" default:"15m"`
	LoginIPLimit      int           `envconfig:"CONFOPS_AUTH_LOGIN_IP_LIMIT" default:"20"`
	LoginNameLimit    int           `envconfig:"CONFOPS_AUTH_LOGIN_NAME_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CONFOPS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CONFOPS_AUTO_MIGRATE" default:"false"`
	// DeliveryAudit toggles the BigQuery delivery sink in the dispatcher.
	DeliveryAudit bool `envconfig:"CONFOPS_FEATURE_DELIVERY_AUDIT" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CONFOPS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CONFOPS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CONFOPS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AlertsTopic        string `envconfig:"CONFOPS_PUBSUB_ALERTS_TOPIC" default:"confops-alert-events"`
	AlertsSubscription string `envconfig:"CONFOPS_PUBSUB_ALERTS_SUBSCRIPTION" default:"confops-alert-events-dispatch"`
}

type FirebaseConfig struct {
	CredentialsFile string `envconfig:"CONFOPS_FIREBASE_CREDENTIALS_FILE"`
	Icon            string `envconfig:"CONFOPS_FIREBASE_ICON" default:"/icons/icon-192.png"`
	// Loopback publishes pushes on Redis instead of calling FCM.
	Loopback bool `envconfig:"CONFOPS_FIREBASE_LOOPBACK" default:"false"`
}

type BigQueryConfig struct {
	Dataset       string `envconfig:"CONFOPS_BIGQUERY_DATASET" default:"confops"`
	DeliveryTable string `envconfig:"CONFOPS_BIGQUERY_DELIVERY_TABLE" default:"push_deliveries"`
	// Retention expires delivery partitions; zero keeps them.
	Retention time.Duration `envconfig:"CONFOPS_BIGQUERY_RETENTION" default:"2160h"`
}

// PushConfig drives permission and device-token handling on the page side.
type PushConfig struct {
	ServerKey        string        `envconfig:"CONFOPS_PUSH_SERVER_KEY"`
	TokenMaxAge      time.Duration `envconfig:"CONFOPS_PUSH_TOKEN_MAX_AGE" default:"48h"`
	AgentScriptURL   string        `envconfig:"CONFOPS_PUSH_AGENT_SCRIPT" default:"/firebase-messaging-sw.js"`
	ActivationWait   time.Duration `envconfig:"CONFOPS_PUSH_ACTIVATION_WAIT" default:"10s"`
	ClickSettleDelay time.Duration `envconfig:"CONFOPS_PUSH_CLICK_SETTLE_DELAY" default:"100ms"`
	IconPath         string        `envconfig:"CONFOPS_PUSH_ICON_PATH" default:"/icons/icon-192.png"`
	BadgePath        string        `envconfig:"CONFOPS_PUSH_BADGE_PATH" default:"/icons/badge-72.png"`
	SoundPath        string        `envconfig:"CONFOPS_PUSH_SOUND_PATH" default:"/sounds/alert.mp3"`
	StaleTokenAge    time.Duration `envconfig:"CONFOPS_PUSH_STALE_TOKEN_AGE" default:"1440h"`
}

type AlertsConfig struct {
	RecencyWindow    time.Duration `envconfig:"CONFOPS_ALERTS_RECENCY_WINDOW" default:"30s"`
	LivenessInterval time.Duration `envconfig:"CONFOPS_ALERTS_LIVENESS_INTERVAL" default:"60s"`
	Collection       string        `envconfig:"CONFOPS_ALERTS_COLLECTION" default:"alerts"`
	RetentionDays    int           `envconfig:"CONFOPS_ALERTS_RETENTION_DAYS" default:"90"`
}

type TimersConfig struct {
	TickInterval     time.Duration `envconfig:"CONFOPS_TIMERS_TICK_INTERVAL" default:"1s"`
	RebroadcastEvery int           `envconfig:"CONFOPS_TIMERS_REBROADCAST_EVERY" default:"5"`
	Collection       string        `envconfig:"CONFOPS_TIMERS_COLLECTION" default:"timers"`
}

type DeferredConfig struct {
	Capacity   int `envconfig:"CONFOPS_DEFERRED_CAPACITY" default:"20"`
	FlushLimit int `envconfig:"CONFOPS_DEFERRED_FLUSH_LIMIT" default:"3"`
}

type DispatchConfig struct {
	SendsPerSecond float64       `envconfig:"CONFOPS_DISPATCH_SENDS_PER_SECOND" default:"20"`
	Burst          int           `envconfig:"CONFOPS_DISPATCH_BURST" default:"40"`
	IdempotencyTTL time.Duration `envconfig:"CONFOPS_DISPATCH_IDEMPOTENCY_TTL" default:"72h"`
}

type OutboxConfig struct {
	BatchSize        int `envconfig:"CONFOPS_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS   int `envconfig:"CONFOPS_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts      int `envconfig:"CONFOPS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int `envconfig:"CONFOPS_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int `envconfig:"CONFOPS_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

// CronConfig sets how often each maintenance job runs.
type CronConfig struct {
	OutboxRetentionEvery time.Duration `envconfig:"CONFOPS_CRON_OUTBOX_RETENTION_EVERY" default:"1h"`
	AlertRetentionEvery  time.Duration `envconfig:"CONFOPS_CRON_ALERT_RETENTION_EVERY" default:"24h"`
	TokenSweepEvery      time.Duration `envconfig:"CONFOPS_CRON_TOKEN_SWEEP_EVERY" default:"24h"`
	JobTimeout           time.Duration `envconfig:"CONFOPS_CRON_JOB_TIMEOUT" default:"5m"`
	LockTTL              time.Duration `envconfig:"CONFOPS_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
