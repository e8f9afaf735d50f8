package command

import (
	"bytes"
	"encoding/json"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

var factories = map[Type]func() Params{
	GetClientToken:               func() Params { return &GetClientTokenParams{} },
	IntrospectAccessToken:        func() Params { return &IntrospectAccessTokenParams{} },
	IntrospectRPT:                func() Params { return &IntrospectRPTParams{} },
	RegisterSite:                 func() Params { return &RegisterSiteParams{} },
	UpdateSite:                   func() Params { return &UpdateSiteParams{} },
	RemoveSite:                   func() Params { return &RemoveSiteParams{} },
	GetAuthorizationURL:          func() Params { return &GetAuthorizationURLParams{} },
	GetAuthorizationCode:         func() Params { return &GetAuthorizationCodeParams{} },
	GetTokensByCode:              func() Params { return &GetTokensByCodeParams{} },
	GetUserInfo:                  func() Params { return &GetUserInfoParams{} },
	GetLogoutURI:                 func() Params { return &GetLogoutURIParams{} },
	GetAccessTokenByRefreshToken: func() Params { return &GetAccessTokenByRefreshTokenParams{} },
	UMARSProtect:                 func() Params { return &UMARSProtectParams{} },
	UMARSModify:                  func() Params { return &UMARSModifyParams{} },
	UMARSCheckAccess:             func() Params { return &UMARSCheckAccessParams{} },
	UMARPGetRPT:                  func() Params { return &UMARPGetRPTParams{} },
	UMARPGetClaimsGatheringURL:   func() Params { return &UMARPGetClaimsGatheringURLParams{} },
	AuthorizationCodeFlow:        func() Params { return &AuthorizationCodeFlowParams{} },
	CheckAccessToken:             func() Params { return &CheckAccessTokenParams{} },
	CheckIDToken:                 func() Params { return &CheckIDTokenParams{} },
	GetRp:                        func() Params { return &GetRpParams{} },
	GetJWKS:                      func() Params { return &GetJWKSParams{} },
	GetDiscovery:                 func() Params { return &GetDiscoveryParams{} },
}

// NewParams returns an empty params value for t, or nil for an unknown
// type.
func NewParams(t Type) Params {
	f, ok := factories[t]
	if !ok {
		return nil
	}
	return f()
}

// Capabilities reports the static capability set of t's params type.
func Capabilities(t Type) Capability {
	p := NewParams(t)
	if p == nil {
		return 0
	}
	return p.Traits().Caps
}

// Decode parses data into the params type for t. Unknown fields are
// ignored. An empty body or a JSON null yields nil params, which the gate
// rejects; malformed JSON fails with INTERNAL_ERROR_NO_PARAMS.
func Decode(t Type, data []byte) (Params, error) {
	p := NewParams(t)
	if p == nil {
		return nil, oxderr.Newf(oxderr.KindUnsupportedOperation, "command: unknown type %q", t)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInternalErrorNoParams, "command: invalid %s params", t)
	}
	return p, nil
}
