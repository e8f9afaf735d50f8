package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaphod72/oxd/internal/testutil"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// redactedString behaves like the storage packages' Secret types.
type redactedString string

func (s redactedString) String() string { return "[REDACTED]" }

type basicConfig struct {
	Host    string        `env:"HOST" envDefault:"localhost" yaml:"host" json:"host"`
	Port    int           `env:"PORT" envDefault:"8080" yaml:"port" json:"port"`
	Debug   bool          `env:"DEBUG" envDefault:"false" yaml:"debug" json:"debug"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s" yaml:"timeout" json:"timeout"`
}

type typesConfig struct {
	Hosts    []string       `env:"HOSTS" envDefault:"a,b,c"`
	MaxConns int32          `env:"MAX_CONNS" envDefault:"25"`
	Protect  *bool          `env:"PROTECT"`
	Password redactedString `env:"PASSWORD"`
}

type nestedConfig struct {
	Name  string    `env:"NAME"`
	Store storeConf `yaml:"store" json:"store"`
	Cache storeConf `env:"CACHE" yaml:"cache" json:"cache"`
}

type storeConf struct {
	Host string `env:"STORE_HOST" yaml:"host" json:"host"`
	Port int    `env:"STORE_PORT" yaml:"port" json:"port"`
}

type requiredConfig struct {
	Name  string `env:"NAME" required:"true"`
	Inner struct {
		Endpoint string `env:"ENDPOINT" required:"true"`
	}
}

type checkedConfig struct {
	Port   int `env:"PORT"`
	called bool
}

func (c *checkedConfig) Validate() error {
	c.called = true
	if c.Port == 0 {
		return errors.New("port is required")
	}
	if c.Port < 0 {
		return oxderr.Newf(oxderr.KindInvalidOpHost, "negative port")
	}
	return nil
}

func TestLoader_Builder(t *testing.T) {
	l := New()
	assert.Same(t, l, l.WithEnvPrefix("oxd"))
	assert.Same(t, l, l.WithFile("oxd-server.yml"))
	assert.Equal(t, "OXD", l.envPrefix)
}

func TestLoader_LoadRejectsNonStructPointer(t *testing.T) {
	n := 1
	for name, target := range map[string]any{
		"nil pointer": (*basicConfig)(nil),
		"value":       basicConfig{},
		"int pointer": &n,
	} {
		t.Run(name, func(t *testing.T) {
			testutil.RequireErrorKind(t, New().Load(target), oxderr.KindInvalidConfiguration)
		})
	}
}

func TestLoader_Defaults(t *testing.T) {
	var cfg basicConfig
	require.NoError(t, New().Load(&cfg))
	assert.Equal(t, basicConfig{Host: "localhost", Port: 8080, Timeout: 30 * time.Second}, cfg)

	preset := basicConfig{Host: "custom", Port: 9090}
	require.NoError(t, New().Load(&preset))
	assert.Equal(t, "custom", preset.Host)
	assert.Equal(t, 9090, preset.Port)
}

func TestLoader_Types(t *testing.T) {
	testutil.SetEnv(t, "T_PROTECT", "false")
	testutil.SetEnv(t, "T_PASSWORD", "hunter2")
	testutil.SetEnv(t, "T_MAX_CONNS", "7")

	var cfg typesConfig
	require.NoError(t, New().WithEnvPrefix("t").Load(&cfg))
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Hosts)
	assert.Equal(t, int32(7), cfg.MaxConns)
	require.NotNil(t, cfg.Protect)
	assert.False(t, *cfg.Protect)
	assert.Equal(t, "hunter2", string(cfg.Password))
}

func TestLoader_UnsetPointerStaysNil(t *testing.T) {
	var cfg typesConfig
	require.NoError(t, New().WithEnvPrefix("UNSET_PREFIX").Load(&cfg))
	assert.Nil(t, cfg.Protect)
}

func TestLoader_SliceFromEnvTrimsBlanks(t *testing.T) {
	testutil.SetEnv(t, "S_HOSTS", " https://a.example.com , ,https://b.example.com")
	var cfg typesConfig
	require.NoError(t, New().WithEnvPrefix("S").Load(&cfg))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Hosts)
}

func TestLoader_Files(t *testing.T) {
	tests := []struct {
		name, ext, content string
	}{
		{"yaml", ".yaml", "host: from-file\nport: 3000\ndebug: true\ntimeout: 10s\n"},
		{"yml", ".yml", "host: from-file\nport: 3000\ndebug: true\ntimeout: 10s\n"},
		{"json", ".json", `{"host":"from-file","port":3000,"debug":true,"timeout":10000000000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.TempConfigFile(t, tt.content, tt.ext)
			var cfg basicConfig
			require.NoError(t, New().WithFile(path).Load(&cfg))
			assert.Equal(t, basicConfig{Host: "from-file", Port: 3000, Debug: true, Timeout: 10 * time.Second}, cfg)
		})
	}
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"unsupported extension", func(t *testing.T) string { return testutil.TempConfigFile(t, "host=x", ".toml") }},
		{"traversal", func(*testing.T) string { return "../etc/oxd-server.yml" }},
		{"bad yaml", func(t *testing.T) string { return testutil.TempConfigFile(t, "host: [unclosed", ".yaml") }},
		{"bad json", func(t *testing.T) string { return testutil.TempConfigFile(t, "{", ".json") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg basicConfig
			testutil.RequireErrorKind(t, New().WithFile(tt.path(t)).Load(&cfg), oxderr.KindInvalidConfiguration)
		})
	}
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	var cfg basicConfig
	require.NoError(t, New().WithFile("/nonexistent/oxd-server.yml").Load(&cfg))
	assert.Equal(t, "localhost", cfg.Host)
}

func TestLoader_PriorityOrder(t *testing.T) {
	path := testutil.TempConfigFile(t, "host: from-file\nport: 3000\n", ".yaml")
	testutil.SetEnv(t, "P_PORT", "4000")

	var cfg basicConfig
	require.NoError(t, New().WithEnvPrefix("P").WithFile(path).Load(&cfg))
	assert.Equal(t, "from-file", cfg.Host)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestLoader_NestedEnv(t *testing.T) {
	// Untagged nested structs share the parent prefix; tagged ones extend it.
	testutil.SetEnv(t, "N_STORE_HOST", "db.internal")
	testutil.SetEnv(t, "N_CACHE_STORE_PORT", "6380")

	var cfg nestedConfig
	require.NoError(t, New().WithEnvPrefix("N").Load(&cfg))
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, 6380, cfg.Cache.Port)
	assert.Empty(t, cfg.Cache.Host)
}

func TestLoader_NestedFile(t *testing.T) {
	path := testutil.TempConfigFile(t, "store:\n  host: pg\n  port: 5433\n", ".yml")
	var cfg nestedConfig
	require.NoError(t, New().WithFile(path).Load(&cfg))
	assert.Equal(t, storeConf{Host: "pg", Port: 5433}, cfg.Store)
}

func TestLoader_Required(t *testing.T) {
	var cfg requiredConfig
	err := New().Load(&cfg)
	testutil.RequireErrorKind(t, err, oxderr.KindInvalidConfiguration)
	assert.Contains(t, err.Error(), `"Name"`)

	testutil.SetEnv(t, "NAME", "oxd")
	err = New().Load(&cfg)
	testutil.RequireErrorKind(t, err, oxderr.KindInvalidConfiguration)
	assert.Contains(t, err.Error(), `"Inner.Endpoint"`)
}

func TestLoader_Validator(t *testing.T) {
	testutil.SetEnv(t, "V_PORT", "8443")
	cfg := &checkedConfig{}
	require.NoError(t, New().WithEnvPrefix("V").Load(cfg))
	assert.True(t, cfg.called)

	// Plain errors are wrapped; taxonomy errors pass through.
	testutil.RequireErrorKind(t, New().Load(&checkedConfig{}), oxderr.KindInvalidConfiguration)
	testutil.SetEnv(t, "W_PORT", "-1")
	testutil.RequireErrorKind(t, New().WithEnvPrefix("W").Load(&checkedConfig{}), oxderr.KindInvalidOpHost)
}

func TestLoader_InvalidEnvValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"E_PORT", "eighty"},
		{"E_DEBUG", "maybe"},
		{"E_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			testutil.SetEnv(t, tt.key, tt.value)
			var cfg basicConfig
			err := New().WithEnvPrefix("E").Load(&cfg)
			testutil.RequireErrorKind(t, err, oxderr.KindInvalidConfiguration)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestMustLoad(t *testing.T) {
	cfg := MustLoad[basicConfig](New())
	assert.Equal(t, 8080, cfg.Port)

	assert.Panics(t, func() { MustLoad[requiredConfig](New().WithEnvPrefix("MUST_LOAD_EMPTY")) })
}
