package config

// EnvPrefix is passed to envconfig; individual fields carry fully
// prefixed tags so the prefix stays empty here.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names shared between Load and tests.
const (
	EnvAppEnv   = "TORRDRIVE_APP_ENV"
	EnvPort     = "TORRDRIVE_APP_PORT"
	EnvDBDSN    = "TORRDRIVE_DB_DSN"
	EnvDBHost   = "TORRDRIVE_DB_HOST"
	EnvDBUser   = "TORRDRIVE_DB_USER"
	EnvDBName   = "TORRDRIVE_DB_NAME"
	EnvRedisURL = "TORRDRIVE_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
