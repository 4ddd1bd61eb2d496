/*
Package config holds the service configuration.

The configuration is decoded once from environment variables at startup and then passed
explicitly into the components which need it. Slice values are separated by semicolons.
*/
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the service configuration
type Config struct {
	ListenAddress string `env:"LISTEN_ADDRESS,default=:3000" description:"address the HTTP server listens on"`
	LogLevel      string `env:"LOG_LEVEL,default=info" description:"the log level (debug, info, warn, error)"`

	DatabaseDriver   string `env:"DATABASE_DRIVER,default=postgres" description:"database driver, postgres or sqlite"`
	Postgres         string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" description:"password for the Postgres DB"`
	DatabaseSchema   string `env:"DATABASE_SCHEMA,default=geocatalog" description:"the Postgres schema holding all tables"`
	SQLitePath       string `env:"SQLITE_PATH,default=geocatalog.db" description:"the SQLite database file, :memory: for an in-memory database"`

	TokenSigningKey string        `env:"TOKEN_SIGNING_KEY,required" description:"HMAC key used to sign access and refresh tokens"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,default=15m" description:"lifetime of access tokens"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL,default=168h" description:"lifetime of refresh tokens"`
	SessionCookie   string        `env:"SESSION_COOKIE,default=Geocatalog-JWT" description:"name of the session cookie set by /api/auth/login/"`

	AllowedHosts []string `env:"ALLOWED_HOSTS" description:"host names the service answers to, empty for any"`
	CORSOrigins  []string `env:"CORS_ORIGINS,default=*" description:"allowed CORS origins"`
	PageSize     int      `env:"PAGE_SIZE,default=20" description:"default page size of list endpoints"`

	KSSDriver    string `env:"KSS_DRIVER" description:"snapshot store driver, empty to disable, Local or AWSS3"`
	KSSLocalPath string `env:"KSS_LOCAL_PATH,default=snapshots" description:"base folder of the Local snapshot store"`
	KSSPrefix    string `env:"KSS_PREFIX" description:"key prefix of all snapshot keys"`
	AWSRegion    string `env:"AWS_REGION,default=eu-central-1" description:"AWS region of the snapshot bucket and the event queue"`
	AWSBucket    string `env:"AWS_BUCKET" description:"S3 bucket of the AWSS3 snapshot store"`
	AWSAccessID  string `env:"AWS_ACCESS_ID" description:"AWS access key id, empty for the default credential chain"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY" description:"AWS secret access key"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" description:"Kafka brokers receiving change events"`
	KafkaTopic      string   `env:"KAFKA_TOPIC,default=geocatalog.events" description:"Kafka topic receiving change events"`
	SQSQueueURL     string   `env:"SQS_QUEUE_URL" description:"SQS queue receiving change events"`
	OutboxBatchSize int      `env:"OUTBOX_BATCH_SIZE,default=100" description:"number of events relayed per batch"`

	BootstrapAdminEmail    string `env:"BOOTSTRAP_ADMIN_EMAIL" description:"email of an ADMIN account created at startup if missing"`
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD" description:"password of the bootstrap ADMIN account"`
}

// snapshot store drivers
const (
	KSSDriverNone  = ""
	KSSDriverLocal = "Local"
	KSSDriverS3    = "AWSS3"
)

// FromEnv decodes the configuration from the environment and validates it
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.Postgres == "" {
			return fmt.Errorf("POSTGRES is required for driver %s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for driver %s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 100")
	}
	switch c.KSSDriver {
	case KSSDriverNone, KSSDriverLocal:
	case KSSDriverS3:
		if c.AWSBucket == "" {
			return fmt.Errorf("AWS_BUCKET is required for KSS driver %s", KSSDriverS3)
		}
	default:
		return fmt.Errorf("unsupported KSS driver %q", c.KSSDriver)
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

// PostgresDSN returns the Postgres connection string including the password
func (c *Config) PostgresDSN() string {
	if c.PostgresPassword == "" {
		return c.Postgres
	}
	if strings.Contains(c.Postgres, "://") {
		return c.Postgres + queryJoiner(c.Postgres) + "password=" + url.QueryEscape(c.PostgresPassword)
	}
	return c.Postgres + " password=" + quoteKeywordValue(c.PostgresPassword)
}

// quoteKeywordValue quotes a value of a keyword/value connection string if it contains
// whitespace, quotes or backslashes
func quoteKeywordValue(value string) string {
	if !strings.ContainsAny(value, " \t\n\r'\\") {
		return value
	}
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + replacer.Replace(value) + "'"
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DatabaseDriver == DriverSQLite {
		return c.SQLitePath
	}
	return c.PostgresDSN()
}

// HostAllowed returns true if host is in AllowedHosts or AllowedHosts is empty. Entries
// starting with a dot match the domain and all its subdomains.
func (c *Config) HostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(stripPort(host))
	for _, allowed := range c.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		switch {
		case allowed == "*" || allowed == host:
			return true
		case strings.HasPrefix(allowed, ".") &&
			(host == allowed[1:] || strings.HasSuffix(host, allowed)):
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i > 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

func queryJoiner(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}
