package router

import (
	"context"
	"net/url"
	"strings"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/idtoken"
	"github.com/zaphod72/oxd/pkg/validation"
)

// AuthorizationURLResponse answers get-authorization-url.
type AuthorizationURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	Nonce            string `json:"nonce"`
}

// LogoutURIResponse answers get-logout-uri.
type LogoutURIResponse struct {
	URI string `json:"uri"`
}

// TokenCheckResponse answers check-id-token and check-access-token.
type TokenCheckResponse struct {
	Active    bool           `json:"active"`
	IssuedAt  int64          `json:"issued_at,omitempty"`
	ExpiresAt int64          `json:"expires_at,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

func (h *handlers) getDiscovery(ctx context.Context, cmd *command.Command, _ validation.Result) (any, error) {
	p, err := params[*command.GetDiscoveryParams](cmd)
	if err != nil {
		return nil, err
	}
	if err := validation.NotBlankOpHost(p.OpHost); err != nil {
		return nil, err
	}
	if err := h.Gate.CheckOpHostAllowed(p.OpHost); err != nil {
		return nil, err
	}
	return h.Discovery.Get(ctx, p.OpHost, p.OpDiscoveryPath)
}

// getJWKS serves the key set of the OP named in the request, or of the
// site's OP when the request names none.
func (h *handlers) getJWKS(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.GetJWKSParams](cmd)
	if err != nil {
		return nil, err
	}
	opHost, path := p.OpHost, p.OpDiscoveryPath
	if strings.TrimSpace(opHost) == "" {
		site, err := h.site(ctx, res, p.OxdID)
		if err != nil {
			return nil, err
		}
		opHost, path = site.OpHost, site.OpDiscoveryPath
	} else if err := h.Gate.CheckOpHostAllowed(opHost); err != nil {
		return nil, err
	}
	doc, err := h.Discovery.Get(ctx, opHost, path)
	if err != nil {
		return nil, err
	}
	return h.Tokens.JWKS(ctx, doc.JWKSURI)
}

func (h *handlers) getAuthorizationURL(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.GetAuthorizationURLParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}

	redirect := strings.TrimSpace(p.RedirectURI)
	switch {
	case redirect != "" && !site.HasRedirectURI(redirect):
		return nil, oxderr.Newf(oxderr.KindRedirectURIIsNotRegistered, "router: %s", redirect)
	case redirect == "" && len(site.RedirectURIs) == 0:
		return nil, oxderr.New(oxderr.KindInvalidRedirectURI)
	case redirect == "":
		redirect = site.RedirectURIs[0]
	}

	doc, err := h.opDocument(ctx, site)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(doc.AuthorizationEndpoint)
	if err != nil || !base.IsAbs() {
		return nil, oxderr.Newf(oxderr.KindFailedToGetDiscovery, "router: authorization_endpoint %q", doc.AuthorizationEndpoint)
	}

	st, err := h.States.GenerateState()
	if err != nil {
		return nil, err
	}
	nonce, err := h.States.GenerateNonce()
	if err != nil {
		return nil, err
	}

	scopes := p.Scope
	if len(scopes) == 0 {
		scopes = site.Scopes
	}
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	responseTypes := site.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	acr := p.AcrValues
	if len(acr) == 0 {
		acr = site.AcrValues
	}

	q := base.Query()
	for k, v := range p.CustomParameters {
		q.Set(k, v)
	}
	for k, v := range p.Params {
		q.Set(k, v)
	}
	q.Set("response_type", strings.Join(responseTypes, " "))
	q.Set("client_id", site.ClientID)
	q.Set("redirect_uri", redirect)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", st)
	q.Set("nonce", nonce)
	if len(acr) > 0 {
		q.Set("acr_values", strings.Join(acr, " "))
	}
	if p.Prompt != "" {
		q.Set("prompt", p.Prompt)
	}
	if p.HostedDomain != "" {
		q.Set("hd", p.HostedDomain)
	}
	base.RawQuery = q.Encode()

	return &AuthorizationURLResponse{AuthorizationURL: base.String(), State: st, Nonce: nonce}, nil
}

func (h *handlers) getLogoutURI(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.GetLogoutURIParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}
	doc, err := h.opDocument(ctx, site)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.EndSessionEndpoint) == "" {
		return nil, oxderr.New(oxderr.KindFailedToGetEndSessionEndpoint)
	}
	u, err := url.Parse(doc.EndSessionEndpoint)
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetEndSessionEndpoint, "router: end_session_endpoint %q", doc.EndSessionEndpoint)
	}

	postLogout := p.PostLogoutRedirectURI
	if postLogout == "" {
		postLogout = site.PostLogoutRedirectURI
	}
	q := u.Query()
	for k, v := range map[string]string{
		"id_token_hint":            p.IDTokenHint,
		"post_logout_redirect_uri": postLogout,
		"state":                    p.State,
		"session_state":            p.SessionState,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return &LogoutURIResponse{URI: u.String()}, nil
}

// checkIDToken verifies an ID token the site received. A nonce in the
// request must be one oxd issued; a state is consumed.
func (h *handlers) checkIDToken(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.CheckIDTokenParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}
	tok, err := idtoken.Parse(p.IDToken)
	if err != nil {
		return nil, err
	}
	if p.Nonce != "" && !h.States.IsNonceValid(p.Nonce) {
		return nil, oxderr.New(oxderr.KindInvalidNonce)
	}
	if p.State != "" {
		if err := h.States.ConsumeState(p.State); err != nil {
			return nil, err
		}
	}

	doc, err := h.opDocument(ctx, site)
	if err != nil {
		return nil, err
	}
	issuer := site.OpIssuer
	if issuer == "" {
		issuer = doc.Issuer
	}
	err = h.Tokens.Validate(ctx, tok, idtoken.Expectations{
		ClientID:     site.ClientID,
		ClientSecret: site.ClientSecret,
		Issuer:       issuer,
		JWKSURI:      doc.JWKSURI,
		Nonce:        p.Nonce,
		AccessToken:  p.AccessToken,
		Code:         p.Code,
	})
	if err != nil {
		return nil, err
	}
	return tokenCheck(true, tok, true), nil
}

// checkAccessToken reports whether an access token is bound to a valid ID
// token: the ID token's signature must verify, and the answer is active
// when at_hash matches and the ID token has not expired.
func (h *handlers) checkAccessToken(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.CheckAccessTokenParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		return nil, oxderr.New(oxderr.KindBlankAccessToken)
	}
	tok, err := idtoken.Parse(p.IDToken)
	if err != nil {
		return nil, err
	}
	doc, err := h.opDocument(ctx, site)
	if err != nil {
		return nil, err
	}
	if err := h.Tokens.VerifySignature(ctx, tok, doc.JWKSURI, site.ClientSecret); err != nil {
		return nil, err
	}

	active := idtoken.ValidateAccessTokenHash(tok, p.AccessToken) == nil &&
		idtoken.ValidateExpiry(tok, h.Tokens.Now()) == nil
	return tokenCheck(active, tok, false), nil
}

func tokenCheck(active bool, tok *idtoken.Token, withClaims bool) *TokenCheckResponse {
	out := &TokenCheckResponse{Active: active}
	if exp, ok := tok.ExpiresAt(); ok {
		out.ExpiresAt = exp.Unix()
	}
	claims := tok.Claims()
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = int64(iat)
	}
	if withClaims {
		out.Claims = claims
	}
	return out
}

func (h *handlers) introspectAccessToken(ctx context.Context, cmd *command.Command, _ validation.Result) (any, error) {
	p, err := params[*command.IntrospectAccessTokenParams](cmd)
	if err != nil {
		return nil, err
	}
	return h.Introspection.IntrospectAccessToken(ctx, p.OxdID, p.AccessToken)
}

func (h *handlers) introspectRPT(ctx context.Context, cmd *command.Command, _ validation.Result) (any, error) {
	p, err := params[*command.IntrospectRPTParams](cmd)
	if err != nil {
		return nil, err
	}
	return h.Introspection.IntrospectRPT(ctx, p.OxdID, p.RPT)
}
