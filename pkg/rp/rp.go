// Package rp holds the relying party (site) record, the storage contract
// for it, and the time-bounded cache every oxd_id-bearing command resolves
// sites through.
package rp

import (
	"slices"
	"time"
)

// Rp is a registered relying party. OxdID is assigned at registration and
// never changes. ClientID is a secondary index and need not be unique.
type Rp struct {
	OxdID                 string    `json:"oxd_id"`
	OpHost                string    `json:"op_host"`
	OpDiscoveryPath       string    `json:"op_discovery_path,omitempty"`
	OpIssuer              string    `json:"op_issuer,omitempty"`
	ClientID              string    `json:"client_id"`
	ClientSecret          string    `json:"client_secret,omitempty"`
	ClientName            string    `json:"client_name,omitempty"`
	ClientRegistrationURI string    `json:"client_registration_client_uri,omitempty"`
	RedirectURIs          []string  `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURI string    `json:"post_logout_redirect_uri,omitempty"`
	ClaimsRedirectURIs    []string  `json:"claims_redirect_uri,omitempty"`
	ResponseTypes         []string  `json:"response_types,omitempty"`
	GrantTypes            []string  `json:"grant_types,omitempty"`
	Scopes                []string  `json:"scope,omitempty"`
	AcrValues             []string  `json:"acr_values,omitempty"`
	IDTokenSignedAlg      string    `json:"id_token_signed_response_alg,omitempty"`
	AccessTokenAsJWT      bool      `json:"access_token_as_jwt,omitempty"`
	SyncClientFromOp      bool      `json:"sync_client_from_op,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Clone returns a deep copy so cached records can be handed out without
// callers mutating shared state.
func (r *Rp) Clone() *Rp {
	if r == nil {
		return nil
	}
	c := *r
	c.RedirectURIs = slices.Clone(r.RedirectURIs)
	c.ClaimsRedirectURIs = slices.Clone(r.ClaimsRedirectURIs)
	c.ResponseTypes = slices.Clone(r.ResponseTypes)
	c.GrantTypes = slices.Clone(r.GrantTypes)
	c.Scopes = slices.Clone(r.Scopes)
	c.AcrValues = slices.Clone(r.AcrValues)
	return &c
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (r *Rp) HasRedirectURI(uri string) bool {
	return slices.Contains(r.RedirectURIs, uri)
}
