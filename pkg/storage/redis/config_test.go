package redis

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
}

func TestConfig_ValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "scheme", cfg: Config{URI: "http://localhost:6379"}, want: "scheme"},
		{name: "port", cfg: Config{Port: -1}, want: "port"},
		{name: "db", cfg: Config{DB: -2}, want: "db"},
		{name: "pool", cfg: Config{PoolSize: 1, MinIdleConns: 4}, want: "pool_size"},
		{name: "timeout", cfg: Config{ReadTimeout: -time.Second}, want: "timeouts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_URIAccepted(t *testing.T) {
	t.Parallel()
	for _, uri := range []string{"redis://localhost:6379/1", "rediss://:pw@cache:6380/0"} {
		cfg := Config{URI: uri}
		assert.NoError(t, cfg.Validate(), uri)
	}
}

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("pw")
	assert.Equal(t, "[REDACTED]", fmt.Sprint(s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.Equal(t, "pw", s.Value())
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", maxStatementTruncateLen+5)
	got := truncateStatement(long)
	assert.Equal(t, maxStatementTruncateLen+3, len([]rune(got)))
	assert.Equal(t, "GET k", truncateStatement("GET k"))
}
