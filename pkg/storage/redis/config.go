package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen caps db.statement span attributes.
const maxStatementTruncateLen = 100

const (
	DefaultHost         = "localhost"
	DefaultPort         = 6379
	DefaultDB           = 0
	DefaultPoolSize     = 10
	DefaultMinIdleConns = 1
	DefaultMaxRetries   = 3
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout bounds Health when the caller's context has no
	// deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultKeyPrefix namespaces every key the store writes.
	DefaultKeyPrefix = "oxd:rp"
)

// Secret is a string whose fmt and text encodings are redacted.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }
func (s Secret) Value() string    { return string(s) }

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config is the redis section of oxd-server.yml. URI (redis:// or
// rediss://) wins over the structured fields.
type Config struct {
	URI        string `yaml:"uri" json:"uri,omitempty" env:"REDIS_URI"`
	Host       string `yaml:"host" json:"host,omitempty" env:"REDIS_HOST"`
	Port       int    `yaml:"port" json:"port,omitempty" env:"REDIS_PORT"`
	DB         int    `yaml:"db" json:"db" env:"REDIS_DB"`
	Password   Secret `yaml:"password" json:"password,omitempty" env:"REDIS_PASSWORD"`
	TLSEnabled bool   `yaml:"tls_enabled" json:"tls_enabled,omitempty" env:"REDIS_TLS_ENABLED"`
	KeyPrefix  string `yaml:"key_prefix" json:"key_prefix,omitempty" env:"REDIS_KEY_PREFIX"`

	PoolSize     int           `yaml:"pool_size" json:"pool_size,omitempty" env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns,omitempty" env:"REDIS_MIN_IDLE_CONNS"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries,omitempty" env:"REDIS_MAX_RETRIES"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout,omitempty" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout,omitempty" env:"REDIS_WRITE_TIMEOUT"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		KeyPrefix:    DefaultKeyPrefix,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero-valued fields with defaults and reports the first
// invalid setting.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: uri is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: uri scheme must be redis or rediss, got %q", u.Scheme)
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
		return fmt.Errorf("redis: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: db must not be negative, got %d", c.DB)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement cuts on rune boundaries.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
