// Package fixtures holds shared test values and RP factories.
package fixtures

import (
	"time"

	"github.com/zaphod72/oxd/pkg/rp"
)

const (
	OxdID        = "6f3b1d2a-0c55-4e2e-9a61-4b0b8f4e2d10"
	AltOxdID     = "0b9f8c5e-7a3d-4c1f-8e2a-93d7e5b1c6a4"
	ClientID     = "@!1736.179E.AA60.16B2!0001!8F7C.B9AB!0008!A2BB.9AE6.5F14.B387"
	AltClientID  = "@!1736.179E.AA60.16B2!0001!8F7C.B9AB!0008!0000.0000.0000.0001"
	ClientSecret = "client-secret"
	OpHost       = "https://idp.example.com"
	RedirectURI  = "https://client.example.com/cb"
)

// Config loader fixtures.
const (
	EnvPrefix = "OXDTEST"

	ServerYAML = `port: 9443
log_level: debug
protect_commands_with_access_token: false
allowed_op_hosts:
  - https://idp.example.com
rp_cache_expiration_in_minutes: 30
storage: redis
redis:
  host: cache.internal
  port: 6380
  key_prefix: oxdtest:rp
`

	ServerJSON = `{
  "port": 9443,
  "allowed_op_hosts": ["https://idp.example.com"],
  "storage": "memory"
}`
)

// Postgres client fixtures.
const (
	DBHost     = "localhost"
	DBPort     = 5432
	DBName     = "oxd"
	DBUser     = "oxd"
	DBPassword = "testpass"
)

// NewRp returns a registered-site record for tests.
func NewRp() *rp.Rp {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &rp.Rp{
		OxdID:         OxdID,
		OpHost:        OpHost,
		OpIssuer:      OpHost,
		ClientID:      ClientID,
		ClientSecret:  ClientSecret,
		ClientName:    "test-site",
		RedirectURIs:  []string{RedirectURI},
		ResponseTypes: []string{"code"},
		GrantTypes:    []string{"authorization_code", "client_credentials"},
		Scopes:        []string{"openid", "oxd"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
