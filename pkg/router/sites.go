package router

import (
	"context"
	"net/url"
	"strings"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
	"github.com/zaphod72/oxd/pkg/validation"
)

var defaultScopes = []string{"openid"}

// RegisterSiteResponse answers register-site.
type RegisterSiteResponse struct {
	OxdID    string `json:"oxd_id"`
	OpHost   string `json:"op_host"`
	ClientID string `json:"client_id"`
}

// OxdIDResponse answers update-site and remove-site.
type OxdIDResponse struct {
	OxdID string `json:"oxd_id"`
}

// GetRpResponse answers get-rp: one site, or every site for list=true.
type GetRpResponse struct {
	Node any `json:"node"`
}

// registerSite records a site for a client that is already registered at
// the OP, so client_id and client_secret are both required.
func (h *handlers) registerSite(ctx context.Context, cmd *command.Command, _ validation.Result) (any, error) {
	p, err := params[*command.RegisterSiteParams](cmd)
	if err != nil {
		return nil, err
	}
	clientID := strings.TrimSpace(p.ClientID)
	secret := strings.TrimSpace(p.ClientSecret)
	switch {
	case clientID == "":
		return nil, oxderr.New(oxderr.KindInvalidClientIDRequired)
	case secret == "":
		return nil, oxderr.New(oxderr.KindInvalidClientSecretRequired)
	}
	if err := validation.NotBlankOpHost(p.OpHost); err != nil {
		return nil, err
	}
	if err := h.Gate.CheckOpHostAllowed(p.OpHost); err != nil {
		return nil, err
	}
	if err := checkRedirectURIs(p.RedirectURIs); err != nil {
		return nil, err
	}

	doc, err := h.Discovery.Get(ctx, p.OpHost, p.OpDiscoveryPath)
	if err != nil {
		return nil, err
	}

	now := h.Tokens.Now().UTC()
	scopes := p.Scope
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	site := &rp.Rp{
		OxdID:                 h.NewID(),
		OpHost:                strings.TrimSpace(p.OpHost),
		OpDiscoveryPath:       p.OpDiscoveryPath,
		OpIssuer:              doc.Issuer,
		ClientID:              clientID,
		ClientSecret:          secret,
		ClientName:            p.ClientName,
		RedirectURIs:          p.RedirectURIs,
		PostLogoutRedirectURI: p.PostLogoutRedirectURI,
		ClaimsRedirectURIs:    p.ClaimsRedirectURIs,
		ResponseTypes:         p.ResponseTypes,
		GrantTypes:            p.GrantTypes,
		Scopes:                scopes,
		AcrValues:             p.AcrValues,
		IDTokenSignedAlg:      p.IDTokenSignedAlg,
		AccessTokenAsJWT:      p.AccessTokenAsJWT,
		SyncClientFromOp:      p.SyncClientFromOp,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := h.Sites.Put(ctx, site); err != nil {
		return nil, err
	}
	h.Logger.InfoContext(ctx, "site registered", "oxd_id", site.OxdID, "op_host", site.OpHost, "client_id", site.ClientID)
	return &RegisterSiteResponse{OxdID: site.OxdID, OpHost: site.OpHost, ClientID: site.ClientID}, nil
}

func checkRedirectURIs(uris []string) error {
	for _, u := range uris {
		parsed, err := url.Parse(strings.TrimSpace(u))
		if err != nil || !parsed.IsAbs() {
			return oxderr.Newf(oxderr.KindInvalidRedirectURI, "router: redirect_uri %q", u)
		}
	}
	return nil
}

// updateSite overwrites the fields the request sets and leaves the rest.
func (h *handlers) updateSite(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.UpdateSiteParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}
	if err := checkRedirectURIs(p.RedirectURIs); err != nil {
		return nil, err
	}

	if len(p.RedirectURIs) > 0 {
		site.RedirectURIs = p.RedirectURIs
	}
	if p.PostLogoutRedirectURI != "" {
		site.PostLogoutRedirectURI = p.PostLogoutRedirectURI
	}
	if len(p.ClaimsRedirectURIs) > 0 {
		site.ClaimsRedirectURIs = p.ClaimsRedirectURIs
	}
	if len(p.ResponseTypes) > 0 {
		site.ResponseTypes = p.ResponseTypes
	}
	if len(p.GrantTypes) > 0 {
		site.GrantTypes = p.GrantTypes
	}
	if len(p.Scope) > 0 {
		site.Scopes = p.Scope
	}
	if len(p.AcrValues) > 0 {
		site.AcrValues = p.AcrValues
	}
	if p.ClientName != "" {
		site.ClientName = p.ClientName
	}
	if p.IDTokenSignedAlg != "" {
		site.IDTokenSignedAlg = p.IDTokenSignedAlg
	}
	if p.AccessTokenAsJWT != nil {
		site.AccessTokenAsJWT = *p.AccessTokenAsJWT
	}
	site.UpdatedAt = h.Tokens.Now().UTC()

	if err := h.Sites.Put(ctx, site); err != nil {
		return nil, err
	}
	return &OxdIDResponse{OxdID: site.OxdID}, nil
}

func (h *handlers) removeSite(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	p, err := params[*command.RemoveSiteParams](cmd)
	if err != nil {
		return nil, err
	}
	site, err := h.site(ctx, res, p.OxdID)
	if err != nil {
		return nil, err
	}
	if err := h.Sites.Remove(ctx, site.OxdID); err != nil {
		return nil, err
	}
	h.Logger.InfoContext(ctx, "site removed", "oxd_id", site.OxdID)
	return &OxdIDResponse{OxdID: site.OxdID}, nil
}

func (h *handlers) getRp(ctx context.Context, cmd *command.Command, res validation.Result) (any, error) {
	if res.Rp != nil {
		return &GetRpResponse{Node: res.Rp}, nil
	}
	if res.ListAll {
		sites, err := h.Sites.List(ctx)
		if err != nil {
			return nil, err
		}
		if sites == nil {
			sites = []*rp.Rp{}
		}
		return &GetRpResponse{Node: sites}, nil
	}
	p, err := params[*command.GetRpParams](cmd)
	if err != nil {
		return nil, err
	}
	if err := validation.NotBlankOxdID(p.OxdID); err != nil {
		return nil, err
	}
	return nil, oxderr.Newf(oxderr.KindInvalidOxdID, "router: oxd_id %s", p.OxdID)
}
