package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Quotes       QuotesConfig
	Outbox       OutboxConfig
	Store        StoreConfig
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
	Env          string   `envconfig:"FIELDOPS_APP_ENV" required:"true"`
	Port         string   `envconfig:"FIELDOPS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"FIELDOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"FIELDOPS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"FIELDOPS_CORS_ORIGINS" default:"http://localhost:3000"`

	WriteRateWindow       time.Duration `envconfig:"FIELDOPS_WRITE_RATE_WINDOW" default:"1m"`
	WriteRateCompanyLimit int           `envconfig:"FIELDOPS_WRITE_RATE_COMPANY_LIMIT" default:"600"`
	WriteRateIPLimit      int           `envconfig:"FIELDOPS_WRITE_RATE_IP_LIMIT" default:"300"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"FIELDOPS_DB_DSN"`
	Driver string `envconfig:"FIELDOPS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FIELDOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"FIELDOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FIELDOPS_DB_USER"`
	LegacyPassword string `envconfig:"FIELDOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"FIELDOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"FIELDOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FIELDOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FIELDOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FIELDOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIELDOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"FIELDOPS_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"FIELDOPS_REDIS_URL"`
	Address      string        `envconfig:"FIELDOPS_REDIS_ADDR"`
	Password     string        `envconfig:"FIELDOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIELDOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIELDOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FIELDOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FIELDOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FIELDOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FIELDOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FIELDOPS_AUTO_MIGRATE" default:"false"`
}

// QuotesConfig tunes the quote store's caches and change-order locking.
type QuotesConfig struct {
	TemplateCacheTTL   time.Duration `envconfig:"FIELDOPS_TEMPLATE_CACHE_TTL" default:"5m"`
	InvoiceCacheTTL    time.Duration `envconfig:"FIELDOPS_INVOICE_CACHE_TTL" default:"2m"`
	ChangeOrderLockTTL time.Duration `envconfig:"FIELDOPS_CHANGE_ORDER_LOCK_TTL" default:"10s"`
	QuoteNumberPrefix  string        `envconfig:"FIELDOPS_QUOTE_NUMBER_PREFIX" default:"Q"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"FIELDOPS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"FIELDOPS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"FIELDOPS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	ChannelPrefix  string `envconfig:"FIELDOPS_OUTBOX_CHANNEL_PREFIX" default:"fieldops"`
	// RetentionDays bounds how long relayed rows stay in outbox_events.
	RetentionDays  int           `envconfig:"FIELDOPS_OUTBOX_RETENTION_DAYS" default:"30"`
	SweepInterval  time.Duration `envconfig:"FIELDOPS_OUTBOX_SWEEP_INTERVAL" default:"1h"`
	RelayDedupeTTL time.Duration `envconfig:"FIELDOPS_OUTBOX_RELAY_DEDUPE_TTL" default:"24h"`
	MetricsAddr    string        `envconfig:"FIELDOPS_OUTBOX_METRICS_ADDR" default:":9091"`
}

// PollInterval converts the configured poll interval to a duration.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 0
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// StoreConfig points quote-editing clients at the quote store API.
type StoreConfig struct {
	BaseURL   string        `envconfig:"FIELDOPS_STORE_BASE_URL" default:"http://localhost:8080"`
	Timeout   time.Duration `envconfig:"FIELDOPS_STORE_TIMEOUT" default:"10s"`
	CompanyID string        `envconfig:"FIELDOPS_STORE_COMPANY_ID"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file::memory:?cache=shared"
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
