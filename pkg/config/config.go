package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Assignment   AssignmentConfig
	Realtime     RealtimeConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.App.IsProd() && slices.Contains(cfg.Realtime.AllowedOrigins, "*") {
		return nil, fmt.Errorf("%s must list explicit origins in production", EnvRealtimeAllowedOrigins)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CASIER_APP_ENV" required:"true"`
	Port         string `envconfig:"CASIER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CASIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CASIER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CASIER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CASIER_DB_DSN"`
	Driver string `envconfig:"CASIER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CASIER_DB_HOST"`
	LegacyPort     int    `envconfig:"CASIER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CASIER_DB_USER"`
	LegacyPassword string `envconfig:"CASIER_DB_PASSWORD"`
	LegacyName     string `envconfig:"CASIER_DB_NAME"`
	LegacySSLMode  string `envconfig:"CASIER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CASIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CASIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CASIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CASIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"CASIER_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CASIER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CASIER_REDIS_ADDR"`
	Password     string        `envconfig:"CASIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"CASIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CASIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CASIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CASIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CASIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CASIER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for access tokens minted by the
// identity service.
type JWTConfig struct {
	Secret            string `envconfig:"CASIER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CASIER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CASIER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	CaseCreateWindow   time.Duration `envconfig:"CASIER_RATE_LIMIT_CASE_CREATE_WINDOW" default:"1m"`
	CaseCreateIPLimit  int           `envconfig:"CASIER_RATE_LIMIT_CASE_CREATE_IP_LIMIT" default:"10"`
	SocketConnectLimit int           `envconfig:"CASIER_RATE_LIMIT_SOCKET_CONNECT_LIMIT" default:"30"`
	SocketWindow       time.Duration `envconfig:"CASIER_RATE_LIMIT_SOCKET_WINDOW" default:"1m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"CASIER_AUTO_MIGRATE" default:"false"`
	AssignOnCreate    bool `envconfig:"CASIER_FEATURE_ASSIGN_ON_CREATE" default:"true"`
	NotificationRelay bool `envconfig:"CASIER_FEATURE_NOTIFICATION_RELAY" default:"true"`
}

// AssignmentConfig tunes agent selection. A negative MaxCapacity disables the
// per-agent cap.
type AssignmentConfig struct {
	MaxCapacity            int           `envconfig:"CASIER_ASSIGNMENT_MAX_CAPACITY" default:"10"`
	AverageProcessingHours float64       `envconfig:"CASIER_ASSIGNMENT_AVG_PROCESSING_HOURS" default:"24"`
	ProcessingWindow       time.Duration `envconfig:"CASIER_ASSIGNMENT_PROCESSING_WINDOW" default:"720h"`
	TopK                   int           `envconfig:"CASIER_ASSIGNMENT_TOP_K" default:"3"`
	SweepDelay             time.Duration `envconfig:"CASIER_ASSIGNMENT_SWEEP_DELAY" default:"100ms"`
}

// Unbounded reports whether agents have no load ceiling.
func (a AssignmentConfig) Unbounded() bool {
	return a.MaxCapacity < 0
}

type RealtimeConfig struct {
	RelayChannel    string        `envconfig:"CASIER_REALTIME_RELAY_CHANNEL" default:"casier:notifications"`
	SendBuffer      int           `envconfig:"CASIER_REALTIME_SEND_BUFFER" default:"32"`
	WriteTimeout    time.Duration `envconfig:"CASIER_REALTIME_WRITE_TIMEOUT" default:"10s"`
	PingInterval    time.Duration `envconfig:"CASIER_REALTIME_PING_INTERVAL" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CASIER_REALTIME_ALLOWED_ORIGINS"`
	MaxMessageBytes int64         `envconfig:"CASIER_REALTIME_MAX_MESSAGE_BYTES" default:"4096"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CASIER_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"CASIER_CRON_LOCK_TTL" default:"2m"`
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
