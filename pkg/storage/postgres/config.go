package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// maxSQLTruncateLen caps db.statement span attributes.
const maxSQLTruncateLen = 100

const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultDatabase = "oxd"
	DefaultUser     = "oxd"

	DefaultMaxConns        int32 = 10
	DefaultMinConns        int32 = 1
	DefaultMaxConnLifetime       = time.Hour
	DefaultMaxConnIdleTime       = 30 * time.Minute
	DefaultConnectTimeout        = 10 * time.Second

	// DefaultHealthTimeout bounds Health when the caller's context has no
	// deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultQueryTimeout bounds a statement when the caller's context has
	// no deadline.
	DefaultQueryTimeout = 5 * time.Second
)

// SSLMode is the libpq sslmode parameter.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Valid reports whether m is a recognized mode.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

// Secret is a string whose fmt and text encodings are redacted. Use Value
// to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }
func (s Secret) Value() string    { return string(s) }

// MarshalText keeps the secret out of JSON and YAML dumps of the config.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config is the postgres section of oxd-server.yml. URI, when set, wins
// over the structured fields. Env names are relative to the server's
// prefix, e.g. OXD_POSTGRES_HOST.
type Config struct {
	URI         string  `yaml:"uri" json:"uri,omitempty" env:"POSTGRES_URI"`
	Host        string  `yaml:"host" json:"host,omitempty" env:"POSTGRES_HOST" envDefault:"localhost"`
	Port        int     `yaml:"port" json:"port,omitempty" env:"POSTGRES_PORT" envDefault:"5432"`
	Database    string  `yaml:"database" json:"database,omitempty" env:"POSTGRES_DATABASE" envDefault:"oxd"`
	User        string  `yaml:"user" json:"user,omitempty" env:"POSTGRES_USER" envDefault:"oxd"`
	Password    Secret  `yaml:"password" json:"password,omitempty" env:"POSTGRES_PASSWORD"`
	SSLMode     SSLMode `yaml:"ssl_mode" json:"ssl_mode,omitempty" env:"POSTGRES_SSLMODE" envDefault:"disable"`
	SSLRootCert string  `yaml:"ssl_root_cert" json:"ssl_root_cert,omitempty" env:"POSTGRES_SSL_ROOT_CERT"`

	MaxConns        int32         `yaml:"max_conns" json:"max_conns,omitempty" env:"POSTGRES_MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns" json:"min_conns,omitempty" env:"POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime,omitempty" env:"POSTGRES_MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time,omitempty" env:"POSTGRES_MAX_CONN_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout,omitempty" env:"POSTGRES_CONNECT_TIMEOUT"`

	// QueryTimeout bounds each statement whose context carries no deadline.
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout,omitempty" env:"POSTGRES_QUERY_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns a config for a local database without TLS.
func DefaultConfig() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Database:        DefaultDatabase,
		User:            DefaultUser,
		SSLMode:         SSLModeDisable,
		MaxConns:        DefaultMaxConns,
		MinConns:        DefaultMinConns,
		MaxConnLifetime: DefaultMaxConnLifetime,
		MaxConnIdleTime: DefaultMaxConnIdleTime,
		ConnectTimeout:  DefaultConnectTimeout,
		QueryTimeout:    DefaultQueryTimeout,
	}
}

// Validate fills zero-valued fields with defaults and reports the first
// invalid setting. With a URI only the URI itself is checked.
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postgres: uri is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("postgres: uri scheme %q is not postgres", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("postgres: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("postgres: database must not be empty")
	}
	if c.User == "" {
		return errors.New("postgres: user must not be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModeDisable
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return fmt.Errorf("postgres: ssl_root_cert %q is not accessible: %w", c.SSLRootCert, err)
		}
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
}

// ConnectionString returns the URI, or builds one from the structured
// fields. The result contains the password in clear text.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// databaseName is used for span attributes.
func (c *Config) databaseName() string {
	if c.URI == "" {
		return c.Database
	}
	if u, err := url.Parse(c.URI); err == nil && len(u.Path) > 1 {
		return u.Path[1:]
	}
	return ""
}

// tlsConfig returns nil unless a custom CA is configured, leaving TLS to
// the sslmode parameter.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}
	pem, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: read CA certificate %q: %w", c.SSLRootCert, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("postgres: no certificates in %q", c.SSLRootCert)
	}

	cfg := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		cfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Chain only; the hostname is not checked.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server presented no certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLTruncateLen {
		return sql
	}
	return sql[:maxSQLTruncateLen] + "..."
}
