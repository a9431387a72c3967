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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Pricing      PricingConfig
	Quotes       QuotesConfig
	Jobs         JobsConfig
	Worker       WorkerConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"TORRDRIVE_APP_ENV" required:"true"`
	Port         string `envconfig:"TORRDRIVE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TORRDRIVE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TORRDRIVE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TORRDRIVE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TORRDRIVE_DB_DSN"`
	Driver string `envconfig:"TORRDRIVE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TORRDRIVE_DB_HOST"`
	LegacyPort     int    `envconfig:"TORRDRIVE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TORRDRIVE_DB_USER"`
	LegacyPassword string `envconfig:"TORRDRIVE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TORRDRIVE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TORRDRIVE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TORRDRIVE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TORRDRIVE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TORRDRIVE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TORRDRIVE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TORRDRIVE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TORRDRIVE_REDIS_ADDR"`
	Password     string        `envconfig:"TORRDRIVE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TORRDRIVE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TORRDRIVE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TORRDRIVE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TORRDRIVE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TORRDRIVE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TORRDRIVE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PricingConfig carries the deterministic pricing defaults. Region
// multipliers come in as "region:multiplier" pairs.
type PricingConfig struct {
	BaseRatePerGB     string   `envconfig:"TORRDRIVE_PRICING_BASE_RATE_PER_GB" default:"0.05"`
	MinimumChargeUSD  string   `envconfig:"TORRDRIVE_PRICING_MINIMUM_CHARGE_USD" default:"0.20"`
	CacheDiscountUSD  string   `envconfig:"TORRDRIVE_PRICING_CACHE_DISCOUNT_USD" default:"0.10"`
	RegionMultipliers []string `envconfig:"TORRDRIVE_PRICING_REGION_MULTIPLIERS" default:"us-east:1.0,eu-west:1.1,ap-south:1.25"`
}

type QuotesConfig struct {
	TTL                  time.Duration `envconfig:"TORRDRIVE_QUOTE_TTL" default:"30m"`
	FallbackExchangeRate string        `envconfig:"TORRDRIVE_QUOTE_FALLBACK_EXCHANGE_RATE" default:"0.01"`
	RateCacheTTL         time.Duration `envconfig:"TORRDRIVE_QUOTE_RATE_CACHE_TTL" default:"5m"`
}

type JobsConfig struct {
	PhaseRetryBudget   int           `envconfig:"TORRDRIVE_JOBS_PHASE_RETRY_BUDGET" default:"3"`
	ManualRetryBudget  int           `envconfig:"TORRDRIVE_JOBS_MANUAL_RETRY_BUDGET" default:"2"`
	HeartbeatInterval  time.Duration `envconfig:"TORRDRIVE_JOBS_HEARTBEAT_INTERVAL" default:"15s"`
	HeartbeatThreshold time.Duration `envconfig:"TORRDRIVE_JOBS_HEARTBEAT_THRESHOLD" default:"90s"`
}

type WorkerConfig struct {
	PollInterval    time.Duration `envconfig:"TORRDRIVE_WORKER_POLL_INTERVAL" default:"5s"`
	SweepInterval   time.Duration `envconfig:"TORRDRIVE_WORKER_SWEEP_INTERVAL" default:"1m"`
	ClaimBatchSize  int           `envconfig:"TORRDRIVE_WORKER_CLAIM_BATCH_SIZE" default:"5"`
	ShutdownTimeout time.Duration `envconfig:"TORRDRIVE_WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TORRDRIVE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TORRDRIVE_AUTO_MIGRATE" default:"false"`
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
