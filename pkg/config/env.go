package config

const EnvPrefix = "FIELDOPS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "FIELDOPS_APP_ENV"
	EnvPort     = "FIELDOPS_APP_PORT"
	EnvDBDSN    = "FIELDOPS_DB_DSN"
	EnvDBDriver = "FIELDOPS_DB_DRIVER"
	EnvDBHost   = "FIELDOPS_DB_HOST"
	EnvDBUser   = "FIELDOPS_DB_USER"
	EnvDBName   = "FIELDOPS_DB_NAME"
	EnvRedisURL = "FIELDOPS_REDIS_URL"

	EnvTemplateCacheTTL = "FIELDOPS_TEMPLATE_CACHE_TTL"
	EnvStoreBaseURL     = "FIELDOPS_STORE_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
