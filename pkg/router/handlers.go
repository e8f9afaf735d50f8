package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zaphod72/oxd/pkg/command"
	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/grant"
	"github.com/zaphod72/oxd/pkg/idtoken"
	"github.com/zaphod72/oxd/pkg/introspection"
	"github.com/zaphod72/oxd/pkg/rp"
	"github.com/zaphod72/oxd/pkg/validation"
)

// Sites is the site registry the handlers write to. *rp.Cache implements
// it.
type Sites interface {
	GetRp(ctx context.Context, oxdID string) (*rp.Rp, error)
	Put(ctx context.Context, site *rp.Rp) error
	Remove(ctx context.Context, oxdID string) error
	List(ctx context.Context) ([]*rp.Rp, error)
}

// Discovery resolves OP metadata. *discovery.Service implements it.
type Discovery interface {
	Get(ctx context.Context, opHost, discoveryPath string) (*discovery.Document, error)
}

// Tokens verifies ID tokens. *idtoken.Engine implements it.
type Tokens interface {
	Validate(ctx context.Context, tok *idtoken.Token, exp idtoken.Expectations) error
	VerifySignature(ctx context.Context, tok *idtoken.Token, jwksURI, clientSecret string) error
	JWKS(ctx context.Context, jwksURI string) (json.RawMessage, error)
	Now() time.Time
}

// States issues and checks state and nonce values. *state.Store
// implements it.
type States interface {
	GenerateState() (string, error)
	GenerateNonce() (string, error)
	PutState(state string)
	PutNonce(nonce string)
	ConsumeState(state string) error
	IsNonceValid(nonce string) bool
}

// Introspection introspects tokens on behalf of a site.
// *introspection.Service implements it.
type Introspection interface {
	IntrospectAccessToken(ctx context.Context, oxdID, accessToken string) (*introspection.Response, error)
	IntrospectRPT(ctx context.Context, oxdID, rpt string) (*introspection.Response, error)
}

// Grants obtains tokens from an OP. *grant.Client implements it.
type Grants interface {
	ClientCredentials(ctx context.Context, req grant.Request) (*grant.Token, error)
}

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Sites         Sites
	Gate          *validation.Gate
	Discovery     Discovery
	Tokens        Tokens
	States        States
	Introspection Introspection
	Grants        Grants
	Logger        *slog.Logger

	// NewID assigns oxd_ids. Defaults to random UUIDs.
	NewID func() string
}

type handlers struct {
	Deps
}

// RegisterHandlers registers every built-in handler on r. Command types
// without one stay routed and gated but answer UNSUPPORTED_OPERATION.
func RegisterHandlers(r *Router, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	h := &handlers{Deps: d}

	r.Register(command.RegisterSite, HandlerFunc(h.registerSite))
	r.Register(command.UpdateSite, HandlerFunc(h.updateSite))
	r.Register(command.RemoveSite, HandlerFunc(h.removeSite))
	r.Register(command.GetRp, HandlerFunc(h.getRp))
	r.Register(command.GetDiscovery, HandlerFunc(h.getDiscovery))
	r.Register(command.GetJWKS, HandlerFunc(h.getJWKS))
	r.Register(command.GetAuthorizationURL, HandlerFunc(h.getAuthorizationURL))
	r.Register(command.GetLogoutURI, HandlerFunc(h.getLogoutURI))
	r.Register(command.CheckIDToken, HandlerFunc(h.checkIDToken))
	r.Register(command.CheckAccessToken, HandlerFunc(h.checkAccessToken))
	r.Register(command.IntrospectAccessToken, HandlerFunc(h.introspectAccessToken))
	r.Register(command.IntrospectRPT, HandlerFunc(h.introspectRPT))
	r.Register(command.GetClientToken, HandlerFunc(h.getClientToken))
}

// params asserts the payload type the router promised the handler.
func params[T command.Params](cmd *command.Command) (T, error) {
	p, ok := cmd.Params.(T)
	if !ok {
		var zero T
		return zero, oxderr.Newf(oxderr.KindInternalErrorNoParams, "router: %s got %T", cmd.Type, cmd.Params)
	}
	return p, nil
}

// site returns the gate's site after the usual checks, resolving it by
// oxdID when the gate did not.
func (h *handlers) site(ctx context.Context, res validation.Result, oxdID string) (*rp.Rp, error) {
	s := res.Rp
	if s == nil {
		var err error
		if s, err = h.Sites.GetRp(ctx, oxdID); err != nil {
			return nil, err
		}
	}
	return h.Gate.ValidateRp(s)
}

func (h *handlers) opDocument(ctx context.Context, s *rp.Rp) (*discovery.Document, error) {
	return h.Discovery.Get(ctx, s.OpHost, s.OpDiscoveryPath)
}
