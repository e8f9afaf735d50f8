package router

import (
	"context"
	"strings"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/grant"
	"github.com/zaphod72/oxd/pkg/validation"
)

type ClientTokenResponse struct {
	AccessToken  string   `json:"access_token"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
}

// getClientToken runs the client_credentials grant for the caller's
// credentials. The token it returns, scoped with "oxd", is what protected
// commands expect as bearer.
func (h *handlers) getClientToken(ctx context.Context, cmd *command.Command, _ validation.Result) (any, error) {
	p, err := params[*command.GetClientTokenParams](cmd)
	if err != nil {
		return nil, err
	}
	if err := validation.NotBlankOpHost(p.OpHost); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ClientID) == "" {
		return nil, oxderr.New(oxderr.KindInvalidClientIDRequired)
	}
	if strings.TrimSpace(p.ClientSecret) == "" {
		return nil, oxderr.New(oxderr.KindInvalidClientSecretRequired)
	}
	if err := h.Gate.CheckOpHostAllowed(p.OpHost); err != nil {
		return nil, err
	}
	if h.Grants == nil {
		return nil, oxderr.Newf(oxderr.KindUnsupportedOperation, "router: no token client configured")
	}

	doc, err := h.Discovery.Get(ctx, p.OpHost, p.OpDiscoveryPath)
	if err != nil {
		return nil, err
	}
	tok, err := h.Grants.ClientCredentials(ctx, grant.Request{
		TokenEndpoint: doc.TokenEndpoint,
		ClientID:      p.ClientID,
		ClientSecret:  p.ClientSecret,
		Scopes:        p.Scope,
		AuthMethod:    p.AuthenticationMethod,
	})
	if err != nil {
		return nil, err
	}
	h.Logger.InfoContext(ctx, "client token issued",
		"client_id", p.ClientID,
		"token", validation.Fingerprint(tok.AccessToken),
		"scope", tok.Scope,
	)
	scope := tok.Scopes()
	if len(scope) == 0 {
		scope = p.Scope
	}
	return &ClientTokenResponse{
		AccessToken:  tok.AccessToken,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
	}, nil
}
