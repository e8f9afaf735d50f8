package introspection

import (
	"context"
	"log/slog"
	"strings"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

// Sites resolves a site by oxd_id. *rp.Cache implements it.
type Sites interface {
	GetRp(ctx context.Context, oxdID string) (*rp.Rp, error)
}

// Service resolves the site and introspects a token for it. Results are
// never cached, so a revoked token is seen on the next call.
type Service struct {
	sites  Sites
	client Introspector
	logger *slog.Logger
}

func NewService(sites Sites, client Introspector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sites: sites, client: client, logger: logger}
}

// IntrospectAccessToken fails with BLANK_ACCESS_TOKEN for a blank token
// and INACTIVE_ACCESS_TOKEN when the server reports it inactive.
func (s *Service) IntrospectAccessToken(ctx context.Context, oxdID, accessToken string) (*Response, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, oxderr.New(oxderr.KindBlankAccessToken)
	}
	resp, err := s.introspect(ctx, oxdID, accessToken, HintAccessToken)
	if err != nil {
		return nil, err
	}
	if !resp.Active {
		return nil, oxderr.New(oxderr.KindInactiveAccessToken)
	}
	return resp, nil
}

// IntrospectRPT returns the answer as is, inactive or not; UMA resource
// servers act on active=false themselves.
func (s *Service) IntrospectRPT(ctx context.Context, oxdID, rpt string) (*Response, error) {
	if strings.TrimSpace(rpt) == "" {
		return nil, oxderr.New(oxderr.KindNoUMARPTParameter)
	}
	return s.introspect(ctx, oxdID, rpt, HintRPT)
}

func (s *Service) introspect(ctx context.Context, oxdID, token, hint string) (*Response, error) {
	site, err := s.sites.GetRp(ctx, oxdID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, oxderr.Newf(oxderr.KindInvalidOxdID, "introspection: oxd_id %s", oxdID)
	}
	resp, err := s.client.Introspect(ctx, site, token, hint)
	if err != nil {
		s.logger.WarnContext(ctx, "introspection failed", "oxd_id", oxdID, "hint", hint, "error", err)
		return nil, err
	}
	return resp, nil
}
