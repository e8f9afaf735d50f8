// Package validation admits commands before they reach their handlers: it
// checks the command shape, authorizes the bearer token of protected
// commands and pre-resolves the site the command is about.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/introspection"
	"github.com/zaphod72/oxd/pkg/rp"
)

const tracerName = "github.com/zaphod72/oxd/pkg/validation"

// RequiredScope is the scope an access token needs to drive oxd.
const RequiredScope = "oxd"

// Sites resolves sites. *rp.Cache implements it.
type Sites interface {
	GetRp(ctx context.Context, oxdID string) (*rp.Rp, error)
	GetRpByClientID(ctx context.Context, clientID string) (*rp.Rp, error)
}

// Introspector introspects access tokens for a site.
// *introspection.Service implements it.
type Introspector interface {
	IntrospectAccessToken(ctx context.Context, oxdID, accessToken string) (*introspection.Response, error)
}

// Result is what the gate resolved. A zero Result means no site was
// resolved and the handler has to find its own.
type Result struct {
	Rp      *rp.Rp
	ListAll bool
}

// Config is the part of the server configuration the gate reads.
type Config struct {
	// ProtectCommands is protect_commands_with_access_token resolved: only
	// an explicit false turns protection off.
	ProtectCommands bool
	AllowedOpHosts  []string
}

// Gate runs the admission steps for every command.
type Gate struct {
	sites        Sites
	introspector Introspector
	protect      bool
	hosts        *HostAllowList
	logger       *slog.Logger
	tracer       trace.Tracer
}

func NewGate(sites Sites, introspector Introspector, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sites:        sites,
		introspector: introspector,
		protect:      cfg.ProtectCommands,
		hosts:        NewHostAllowList(cfg.AllowedOpHosts),
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
}

// Validate admits cmd. In order: a missing payload fails; get-rp with
// list=true is admitted with nothing resolved; a blank oxd_id fails, for a
// single get-rp too; the access token is authorized; then the site is
// resolved by oxd_id, by client_id for get-client-token, or by oxd_id for
// a single get-rp.
func (g *Gate) Validate(ctx context.Context, cmd *command.Command) (res Result, err error) {
	ctx, span := g.tracer.Start(ctx, "validation.Validate")
	defer func() {
		span.SetAttributes(attribute.Bool("oxd.rp_resolved", res.Rp != nil))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if cmd == nil || cmd.Params == nil {
		return Result{}, oxderr.New(oxderr.KindInternalErrorNoParams)
	}
	tr := cmd.Params.Traits()
	span.SetAttributes(
		attribute.String("oxd.command", cmd.Type.String()),
		attribute.String("oxd.capabilities", tr.Caps.String()),
	)

	if tr.Caps.Has(command.IsGetRp) && tr.List {
		return Result{ListAll: true}, nil
	}

	if tr.Caps.Has(command.HasOxdID) || tr.Caps.Has(command.IsGetRp) {
		if err := NotBlankOxdID(tr.OxdID); err != nil {
			return Result{}, err
		}
	}

	if tr.Caps.Has(command.HasAccessToken) {
		if _, err := g.AuthorizeAccessToken(ctx, tr, cmd.AccessToken); err != nil {
			if _, ok := oxderr.AsError(err); ok {
				return Result{}, err
			}
			g.logger.ErrorContext(ctx, "access token check failed unexpectedly",
				"command", cmd.Type.String(), "error", err)
		}
	}

	if !tr.Caps.Has(command.IsRegisterSite) && tr.Caps.Has(command.HasOxdID) {
		if site := g.tryResolve(ctx, cmd.Type, tr.OxdID); site != nil {
			return Result{Rp: site}, nil
		}
	}

	if tr.Caps.Has(command.IsGetClientToken) {
		site, err := g.sites.GetRpByClientID(ctx, tr.ClientID)
		if err != nil {
			return Result{}, err
		}
		if site != nil {
			return Result{Rp: site}, nil
		}
	}

	if tr.Caps.Has(command.IsGetRp) && strings.TrimSpace(tr.OxdID) != "" {
		site, err := g.sites.GetRp(ctx, tr.OxdID)
		if err != nil {
			return Result{}, err
		}
		if site != nil {
			return Result{Rp: site, ListAll: true}, nil
		}
	}

	return Result{}, nil
}

// tryResolve is best effort: the handler fails later if it needs a site
// that could not be found here.
func (g *Gate) tryResolve(ctx context.Context, t command.Type, oxdID string) *rp.Rp {
	site, err := g.sites.GetRp(ctx, oxdID)
	if err != nil {
		if _, ok := oxderr.AsError(err); ok {
			g.logger.DebugContext(ctx, "site not pre-resolved", "command", t.String(), "oxd_id", oxdID, "error", err)
		} else {
			g.logger.ErrorContext(ctx, "failed to identify site", "command", t.String(), "oxd_id", oxdID, "error", err)
		}
		return nil
	}
	return site
}

// AuthorizeAccessToken checks the bearer token of a protected command.
// It reports remote=true when the token was introspected and belongs to
// the site's client, and remote=false when the check was skipped because
// protection is off or the command registers a site.
func (g *Gate) AuthorizeAccessToken(ctx context.Context, tr command.Traits, token string) (remote bool, err error) {
	if !g.protect {
		return false, nil
	}
	if tr.Caps.Has(command.IsRegisterSite) {
		return false, nil
	}
	if strings.TrimSpace(token) == "" {
		return false, oxderr.New(oxderr.KindBlankAccessToken)
	}

	site, err := g.sites.GetRp(ctx, tr.OxdID)
	if err != nil {
		return false, err
	}
	if site == nil {
		return false, oxderr.Newf(oxderr.KindInvalidOxdID, "validation: oxd_id %s", tr.OxdID)
	}

	resp, err := g.introspector.IntrospectAccessToken(ctx, tr.OxdID, token)
	if err != nil {
		return false, err
	}
	g.logger.DebugContext(ctx, "access token introspected",
		"oxd_id", tr.OxdID,
		"token", Fingerprint(token),
		"token_client_id", resp.ClientID,
		"site_client_id", site.ClientID,
	)
	if strings.TrimSpace(resp.ClientID) == "" {
		return false, oxderr.New(oxderr.KindNoClientIDInIntrospectionResponse)
	}
	if !resp.HasScope(RequiredScope) {
		return false, oxderr.New(oxderr.KindAccessTokenInsufficientScope)
	}
	if resp.ClientID != site.ClientID {
		return false, oxderr.New(oxderr.KindInvalidAccessToken)
	}
	return true, nil
}

// CheckOpHostAllowed applies the allowed_op_hosts list.
func (g *Gate) CheckOpHostAllowed(opHost string) error {
	return g.hosts.Check(opHost)
}

// ValidateRp checks a site a handler is about to act on: it must exist,
// have an oxd_id and an op_host, and the op_host must be allowed.
func (g *Gate) ValidateRp(site *rp.Rp) (*rp.Rp, error) {
	if site == nil {
		return nil, oxderr.New(oxderr.KindInvalidOxdID)
	}
	if err := NotBlankOxdID(site.OxdID); err != nil {
		return nil, err
	}
	if err := NotBlankOpHost(site.OpHost); err != nil {
		return nil, err
	}
	if err := g.CheckOpHostAllowed(site.OpHost); err != nil {
		return nil, err
	}
	return site, nil
}

func NotBlankOxdID(oxdID string) error {
	if strings.TrimSpace(oxdID) == "" {
		return oxderr.New(oxderr.KindBadRequestNoOxdID)
	}
	return nil
}

func NotBlankOpHost(opHost string) error {
	if strings.TrimSpace(opHost) == "" {
		return oxderr.New(oxderr.KindInvalidOpHost)
	}
	return nil
}

// Fingerprint identifies a token in logs without revealing it.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:6])
}
