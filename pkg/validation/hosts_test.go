package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zaphod72/oxd/internal/testutil"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

func TestHostAllowList(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		allowed []string
		opHost  string
		want    oxderr.Kind
	}{
		{name: "empty list allows any host", opHost: "https://anything.example.org"},
		{name: "blank op host is not checked here", allowed: []string{"https://idp.example.com"}, opHost: " "},
		{name: "exact", allowed: []string{"https://idp.example.com"}, opHost: "https://idp.example.com"},
		{name: "trailing slash", allowed: []string{"https://idp.example.com"}, opHost: "https://idp.example.com/"},
		{name: "case insensitive host", allowed: []string{"https://IDP.example.com"}, opHost: "HTTPS://idp.EXAMPLE.com"},
		{name: "default port", allowed: []string{"https://idp.example.com:443"}, opHost: "https://idp.example.com"},
		{name: "path cleaned", allowed: []string{"https://idp.example.com/oxauth/"}, opHost: "https://idp.example.com/a/../oxauth"},
		{name: "second entry", allowed: []string{"https://a.example.com", "https://idp.example.com"}, opHost: "https://idp.example.com"},
		{name: "other host", allowed: []string{"https://idp.example.com"}, opHost: "https://other.example.com", want: oxderr.KindRestrictedOpHost},
		{name: "other scheme", allowed: []string{"https://idp.example.com"}, opHost: "http://idp.example.com", want: oxderr.KindRestrictedOpHost},
		{name: "other port", allowed: []string{"https://idp.example.com"}, opHost: "https://idp.example.com:8443", want: oxderr.KindRestrictedOpHost},
		{name: "other path", allowed: []string{"https://idp.example.com/a"}, opHost: "https://idp.example.com/b", want: oxderr.KindRestrictedOpHost},
		{name: "op host not a url", allowed: []string{"https://idp.example.com"}, opHost: "idp.example.com", want: oxderr.KindInvalidAllowedOpHostURL},
		{name: "malformed entry", allowed: []string{"not a url"}, opHost: "https://idp.example.com", want: oxderr.KindInvalidAllowedOpHostURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewHostAllowList(tt.allowed).Check(tt.opHost)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			testutil.RequireErrorKind(t, err, tt.want)
		})
	}
}

func TestHostAllowList_NilAllowsAll(t *testing.T) {
	t.Parallel()
	var l *HostAllowList
	assert.NoError(t, l.Check("https://idp.example.com"))
}
