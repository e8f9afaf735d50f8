// Package command defines the oxd command envelope: the closed set of
// command types, the parameter shape of each, and the capability flags the
// validation gate inspects.
package command

import "fmt"

// Type names an oxd operation. The string value doubles as the HTTP route.
type Type string

const (
	GetClientToken               Type = "get-client-token"
	IntrospectAccessToken        Type = "introspect-access-token"
	IntrospectRPT                Type = "introspect-rpt"
	RegisterSite                 Type = "register-site"
	UpdateSite                   Type = "update-site"
	RemoveSite                   Type = "remove-site"
	GetAuthorizationURL          Type = "get-authorization-url"
	GetAuthorizationCode         Type = "get-authorization-code"
	GetTokensByCode              Type = "get-tokens-by-code"
	GetUserInfo                  Type = "get-user-info"
	GetLogoutURI                 Type = "get-logout-uri"
	GetAccessTokenByRefreshToken Type = "get-access-token-by-refresh-token"
	UMARSProtect                 Type = "uma-rs-protect"
	UMARSModify                  Type = "uma-rs-modify"
	UMARSCheckAccess             Type = "uma-rs-check-access"
	UMARPGetRPT                  Type = "uma-rp-get-rpt"
	UMARPGetClaimsGatheringURL   Type = "uma-rp-get-claims-gathering-url"
	AuthorizationCodeFlow        Type = "authorization-code-flow"
	CheckAccessToken             Type = "check-access-token"
	CheckIDToken                 Type = "check-id-token"
	GetRp                        Type = "get-rp"
	GetJWKS                      Type = "get-jwks"
	GetDiscovery                 Type = "get-discovery"
)

var allTypes = []Type{
	GetClientToken, IntrospectAccessToken, IntrospectRPT, RegisterSite,
	UpdateSite, RemoveSite, GetAuthorizationURL, GetAuthorizationCode,
	GetTokensByCode, GetUserInfo, GetLogoutURI, GetAccessTokenByRefreshToken,
	UMARSProtect, UMARSModify, UMARSCheckAccess, UMARPGetRPT,
	UMARPGetClaimsGatheringURL, AuthorizationCodeFlow, CheckAccessToken,
	CheckIDToken, GetRp, GetJWKS, GetDiscovery,
}

// AllTypes returns every command type in route-table order.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// ParseType returns the Type named s.
func ParseType(s string) (Type, error) {
	for _, t := range allTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("command: unknown type %q", s)
}

// String returns the route name of the type.
func (t Type) String() string {
	return string(t)
}

// Command is a decoded request. AccessToken is the bearer token the
// transport extracted from the Authorization header; it is empty when the
// header was absent.
type Command struct {
	Type        Type
	Params      Params
	AccessToken string
}
