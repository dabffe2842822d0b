package config

const (
	EnvPrefix = "CASIER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CASIER_APP_ENV"
	EnvPort     = "CASIER_APP_PORT"
	EnvLogLevel = "CASIER_LOG_LEVEL"

	EnvDBDSN  = "CASIER_DB_DSN"
	EnvDBHost = "CASIER_DB_HOST"
	EnvDBUser = "CASIER_DB_USER"
	EnvDBName = "CASIER_DB_NAME"

	EnvRedisURL = "CASIER_REDIS_URL"

	EnvJWTSecret  = "CASIER_JWT_SECRET"
	EnvJWTIssuer  = "CASIER_JWT_ISSUER"
	EnvJWTExpMins = "CASIER_JWT_EXPIRATION_MINUTES"

	EnvAssignmentMaxCapacity = "CASIER_ASSIGNMENT_MAX_CAPACITY"
	EnvAssignmentTopK        = "CASIER_ASSIGNMENT_TOP_K"
	EnvAssignmentSweepDelay  = "CASIER_ASSIGNMENT_SWEEP_DELAY"

	EnvRealtimeAllowedOrigins = "CASIER_REALTIME_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
