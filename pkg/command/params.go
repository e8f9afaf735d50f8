package command

import "encoding/json"

// GetClientTokenParams requests a client credentials token from the OP.
type GetClientTokenParams struct {
	OpHost               string   `json:"op_host"`
	OpDiscoveryPath      string   `json:"op_discovery_path,omitempty"`
	Scope                []string `json:"scope,omitempty"`
	ClientID             string   `json:"client_id"`
	ClientSecret         string   `json:"client_secret"`
	AuthenticationMethod string   `json:"authentication_method,omitempty"`
	Algorithm            string   `json:"algorithm,omitempty"`
	KeyID                string   `json:"key_id,omitempty"`
}

func (p *GetClientTokenParams) Traits() Traits {
	return Traits{Caps: IsGetClientToken, ClientID: p.ClientID}
}

type IntrospectAccessTokenParams struct {
	OxdID       string `json:"oxd_id"`
	AccessToken string `json:"access_token"`
}

func (p *IntrospectAccessTokenParams) Traits() Traits { return oxdTraits(p.OxdID) }

type IntrospectRPTParams struct {
	OxdID string `json:"oxd_id"`
	RPT   string `json:"rpt"`
}

func (p *IntrospectRPTParams) Traits() Traits { return oxdTraits(p.OxdID) }

// RegisterSiteParams registers a new site. ClientID and ClientSecret are
// either both set (pre-registered client) or both empty (dynamic
// registration at the OP).
type RegisterSiteParams struct {
	OpHost                string   `json:"op_host"`
	OpDiscoveryPath       string   `json:"op_discovery_path,omitempty"`
	RedirectURIs          []string `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURI string   `json:"post_logout_redirect_uri,omitempty"`
	ClaimsRedirectURIs    []string `json:"claims_redirect_uri,omitempty"`
	ResponseTypes         []string `json:"response_types,omitempty"`
	GrantTypes            []string `json:"grant_types,omitempty"`
	Scope                 []string `json:"scope,omitempty"`
	AcrValues             []string `json:"acr_values,omitempty"`
	ClientName            string   `json:"client_name,omitempty"`
	ClientID              string   `json:"client_id,omitempty"`
	ClientSecret          string   `json:"client_secret,omitempty"`
	IDTokenSignedAlg      string   `json:"id_token_signed_response_alg,omitempty"`
	AccessTokenAsJWT      bool     `json:"access_token_as_jwt,omitempty"`
	SyncClientFromOp      bool     `json:"sync_client_from_op,omitempty"`
}

func (p *RegisterSiteParams) Traits() Traits {
	return Traits{Caps: HasAccessToken | IsRegisterSite, ClientID: p.ClientID}
}

type UpdateSiteParams struct {
	OxdID                 string   `json:"oxd_id"`
	RedirectURIs          []string `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURI string   `json:"post_logout_redirect_uri,omitempty"`
	ClaimsRedirectURIs    []string `json:"claims_redirect_uri,omitempty"`
	ResponseTypes         []string `json:"response_types,omitempty"`
	GrantTypes            []string `json:"grant_types,omitempty"`
	Scope                 []string `json:"scope,omitempty"`
	AcrValues             []string `json:"acr_values,omitempty"`
	ClientName            string   `json:"client_name,omitempty"`
	IDTokenSignedAlg      string   `json:"id_token_signed_response_alg,omitempty"`
	AccessTokenAsJWT      *bool    `json:"access_token_as_jwt,omitempty"`
}

func (p *UpdateSiteParams) Traits() Traits { return oxdTraits(p.OxdID) }

type RemoveSiteParams struct {
	OxdID string `json:"oxd_id"`
}

func (p *RemoveSiteParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetAuthorizationURLParams struct {
	OxdID            string            `json:"oxd_id"`
	Scope            []string          `json:"scope,omitempty"`
	AcrValues        []string          `json:"acr_values,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	RedirectURI      string            `json:"redirect_uri,omitempty"`
	HostedDomain     string            `json:"hd,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
}

func (p *GetAuthorizationURLParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetAuthorizationCodeParams struct {
	OxdID     string   `json:"oxd_id"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	State     string   `json:"state,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
	AcrValues []string `json:"acr_values,omitempty"`
}

func (p *GetAuthorizationCodeParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetTokensByCodeParams struct {
	OxdID string `json:"oxd_id"`
	Code  string `json:"code"`
	State string `json:"state"`
}

func (p *GetTokensByCodeParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetUserInfoParams struct {
	OxdID       string `json:"oxd_id"`
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
}

func (p *GetUserInfoParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetLogoutURIParams struct {
	OxdID                 string `json:"oxd_id"`
	IDTokenHint           string `json:"id_token_hint,omitempty"`
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri,omitempty"`
	State                 string `json:"state,omitempty"`
	SessionState          string `json:"session_state,omitempty"`
}

func (p *GetLogoutURIParams) Traits() Traits { return oxdTraits(p.OxdID) }

type GetAccessTokenByRefreshTokenParams struct {
	OxdID        string   `json:"oxd_id"`
	RefreshToken string   `json:"refresh_token"`
	Scope        []string `json:"scope,omitempty"`
}

func (p *GetAccessTokenByRefreshTokenParams) Traits() Traits { return oxdTraits(p.OxdID) }

type UMARSProtectParams struct {
	OxdID     string          `json:"oxd_id"`
	Resources json.RawMessage `json:"resources"`
	Overwrite bool            `json:"overwrite,omitempty"`
}

func (p *UMARSProtectParams) Traits() Traits { return oxdTraits(p.OxdID) }

type UMARSModifyParams struct {
	OxdID           string          `json:"oxd_id"`
	Path            string          `json:"path"`
	HTTPMethod      string          `json:"http_method"`
	Scopes          []string        `json:"scopes,omitempty"`
	ScopeExpression json.RawMessage `json:"scope_expression,omitempty"`
}

func (p *UMARSModifyParams) Traits() Traits { return oxdTraits(p.OxdID) }

type UMARSCheckAccessParams struct {
	OxdID      string `json:"oxd_id"`
	RPT        string `json:"rpt"`
	Path       string `json:"path"`
	HTTPMethod string `json:"http_method"`
}

func (p *UMARSCheckAccessParams) Traits() Traits { return oxdTraits(p.OxdID) }

type UMARPGetRPTParams struct {
	OxdID            string            `json:"oxd_id"`
	Ticket           string            `json:"ticket"`
	ClaimToken       string            `json:"claim_token,omitempty"`
	ClaimTokenFormat string            `json:"claim_token_format,omitempty"`
	PCT              string            `json:"pct,omitempty"`
	RPT              string            `json:"rpt,omitempty"`
	Scope            []string          `json:"scope,omitempty"`
	State            string            `json:"state,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
}

func (p *UMARPGetRPTParams) Traits() Traits { return oxdTraits(p.OxdID) }

type UMARPGetClaimsGatheringURLParams struct {
	OxdID             string            `json:"oxd_id"`
	Ticket            string            `json:"ticket"`
	ClaimsRedirectURI string            `json:"claims_redirect_uri"`
	State             string            `json:"state,omitempty"`
	CustomParameters  map[string]string `json:"custom_parameters,omitempty"`
}

func (p *UMARPGetClaimsGatheringURLParams) Traits() Traits { return oxdTraits(p.OxdID) }

type AuthorizationCodeFlowParams struct {
	OxdID        string `json:"oxd_id"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	UserID       string `json:"user_id"`
	UserSecret   string `json:"user_secret"`
	Scope        string `json:"scope,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Acr          string `json:"acr,omitempty"`
}

func (p *AuthorizationCodeFlowParams) Traits() Traits { return oxdTraits(p.OxdID) }

type CheckAccessTokenParams struct {
	OxdID       string `json:"oxd_id"`
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
}

func (p *CheckAccessTokenParams) Traits() Traits { return oxdTraits(p.OxdID) }

type CheckIDTokenParams struct {
	OxdID       string `json:"oxd_id"`
	IDToken     string `json:"id_token"`
	Nonce       string `json:"nonce,omitempty"`
	State       string `json:"state,omitempty"`
	Code        string `json:"code,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

func (p *CheckIDTokenParams) Traits() Traits { return oxdTraits(p.OxdID) }

// GetRpParams reads one site, or every site when List is true.
type GetRpParams struct {
	OxdID string `json:"oxd_id,omitempty"`
	List  *bool  `json:"list,omitempty"`
}

// Traits deliberately leaves out HasOxdID: get-rp resolves its site in its
// own gate step and reports it as a listing-capable result.
func (p *GetRpParams) Traits() Traits {
	return Traits{
		Caps:  HasAccessToken | IsGetRp,
		OxdID: p.OxdID,
		List:  p.List != nil && *p.List,
	}
}

type GetJWKSParams struct {
	OxdID           string `json:"oxd_id"`
	OpHost          string `json:"op_host,omitempty"`
	OpDiscoveryPath string `json:"op_discovery_path,omitempty"`
}

func (p *GetJWKSParams) Traits() Traits { return oxdTraits(p.OxdID) }

// GetDiscoveryParams fetches an OP's discovery document. It is not tied to
// a site and is not protected.
type GetDiscoveryParams struct {
	OpHost          string `json:"op_host"`
	OpDiscoveryPath string `json:"op_discovery_path,omitempty"`
}

func (p *GetDiscoveryParams) Traits() Traits { return Traits{} }
