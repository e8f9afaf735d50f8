package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/storage/postgres"
	"github.com/zaphod72/oxd/pkg/storage/redis"
)

// Storage backend names accepted by ServerConfig.Storage.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// ServerConfig is oxd-server.yml. Keys match the daemon's historical
// configuration file; env names are relative to the loader prefix, e.g.
// OXD_ALLOWED_OP_HOSTS.
type ServerConfig struct {
	Port     int    `yaml:"port" json:"port" env:"PORT" envDefault:"8443"`
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	// ProtectCommandsWithAccessToken is tri-state: only an explicit false
	// turns protection off.
	ProtectCommandsWithAccessToken *bool    `yaml:"protect_commands_with_access_token" json:"protect_commands_with_access_token,omitempty" env:"PROTECT_COMMANDS_WITH_ACCESS_TOKEN"`
	AllowedOpHosts                 []string `yaml:"allowed_op_hosts" json:"allowed_op_hosts,omitempty" env:"ALLOWED_OP_HOSTS"`

	RpCacheExpirationInMinutes           int `yaml:"rp_cache_expiration_in_minutes" json:"rp_cache_expiration_in_minutes" env:"RP_CACHE_EXPIRATION_IN_MINUTES" envDefault:"60"`
	StateExpirationInMinutes             int `yaml:"state_expiration_in_minutes" json:"state_expiration_in_minutes" env:"STATE_EXPIRATION_IN_MINUTES" envDefault:"5"`
	NonceExpirationInMinutes             int `yaml:"nonce_expiration_in_minutes" json:"nonce_expiration_in_minutes" env:"NONCE_EXPIRATION_IN_MINUTES" envDefault:"5"`
	DBCleanupIntervalInHours             int `yaml:"db_cleanup_interval_in_hours" json:"db_cleanup_interval_in_hours" env:"DB_CLEANUP_INTERVAL_IN_HOURS" envDefault:"1"`
	PublicOpKeyCacheExpirationInMinutes int `yaml:"public_op_key_cache_expiration_in_minutes" json:"public_op_key_cache_expiration_in_minutes" env:"PUBLIC_OP_KEY_CACHE_EXPIRATION_IN_MINUTES" envDefault:"60"`

	Storage  string          `yaml:"storage" json:"storage" env:"STORAGE" envDefault:"memory"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres"`
	Redis    redis.Config    `yaml:"redis" json:"redis"`

	// HTTPTimeout bounds every outbound call to an OP or AS.
	HTTPTimeout   time.Duration `yaml:"http_timeout" json:"http_timeout" env:"HTTP_TIMEOUT" envDefault:"10s"`
	TrustAllCerts bool          `yaml:"trust_all_certs" json:"trust_all_certs" env:"TRUST_ALL_CERTS"`
}

// Validate implements Validator.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return oxderr.Newf(oxderr.KindInvalidConfiguration, "config: port %d is out of range [1, 65535]", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	expirations := []struct {
		name  string
		value int
	}{
		{"rp_cache_expiration_in_minutes", c.RpCacheExpirationInMinutes},
		{"state_expiration_in_minutes", c.StateExpirationInMinutes},
		{"nonce_expiration_in_minutes", c.NonceExpirationInMinutes},
		{"db_cleanup_interval_in_hours", c.DBCleanupIntervalInHours},
		{"public_op_key_cache_expiration_in_minutes", c.PublicOpKeyCacheExpirationInMinutes},
	}
	for _, e := range expirations {
		if e.value <= 0 {
			return oxderr.Newf(oxderr.KindInvalidConfiguration, "config: %s must be positive, got %d", e.name, e.value)
		}
	}
	if c.HTTPTimeout <= 0 {
		return oxderr.Newf(oxderr.KindInvalidConfiguration, "config: http_timeout must be positive, got %s", c.HTTPTimeout)
	}

	for _, host := range c.AllowedOpHosts {
		if u, err := url.Parse(host); err != nil || u.Scheme == "" || u.Host == "" {
			return oxderr.Newf(oxderr.KindInvalidAllowedOpHostURL, "config: allowed_op_hosts entry %q is not an absolute URL", host)
		}
	}

	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "config: postgres")
		}
	case StorageRedis:
		if err := c.Redis.Validate(); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "config: redis")
		}
	default:
		return oxderr.Newf(oxderr.KindInvalidConfiguration,
			"config: storage must be one of %s, %s, %s; got %q", StorageMemory, StoragePostgres, StorageRedis, c.Storage)
	}
	return nil
}

// ProtectCommands reports whether oxd_id-bearing commands require an
// access token. Unset means yes.
func (c *ServerConfig) ProtectCommands() bool {
	return c.ProtectCommandsWithAccessToken == nil || *c.ProtectCommandsWithAccessToken
}

// SlogLevel parses LogLevel.
func (c *ServerConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "config: log_level %q", c.LogLevel)
	}
	return lvl, nil
}

func (c *ServerConfig) RpCacheExpiration() time.Duration {
	return time.Duration(c.RpCacheExpirationInMinutes) * time.Minute
}

func (c *ServerConfig) StateExpiration() time.Duration {
	return time.Duration(c.StateExpirationInMinutes) * time.Minute
}

func (c *ServerConfig) NonceExpiration() time.Duration {
	return time.Duration(c.NonceExpirationInMinutes) * time.Minute
}

func (c *ServerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.DBCleanupIntervalInHours) * time.Hour
}

func (c *ServerConfig) PublicOpKeyCacheExpiration() time.Duration {
	return time.Duration(c.PublicOpKeyCacheExpirationInMinutes) * time.Minute
}

// Addr is the listen address for Port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
