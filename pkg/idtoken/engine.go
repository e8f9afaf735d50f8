package idtoken

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/idtoken"

// DefaultKeyExpiration is the public_op_key_cache_expiration_in_minutes
// default.
const DefaultKeyExpiration = 60 * time.Minute

// Engine verifies token signatures against OP key sets.
type Engine struct {
	keys   *jwksCache
	now    func() time.Time
	tracer trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine fetching key sets with client and keeping
// them for keyTTL (DefaultKeyExpiration when non-positive).
func NewEngine(client discovery.HTTPClient, keyTTL time.Duration, opts ...EngineOption) *Engine {
	if keyTTL <= 0 {
		keyTTL = DefaultKeyExpiration
	}
	e := &Engine{now: time.Now, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	e.keys = newJWKSCache(client, keyTTL, func() time.Time { return e.now() })
	return e
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time { return e.now() }

// VerifySignature checks tok against the OP key for its kid, or against
// clientSecret for HS* tokens. A bad signature is
// INVALID_ID_TOKEN_BAD_SIGNATURE; failing to get the key set is
// FAILED_TO_GET_JWKS.
func (e *Engine) VerifySignature(ctx context.Context, tok *Token, jwksURI, clientSecret string) (err error) {
	ctx, span := e.tracer.Start(ctx, "idtoken.VerifySignature")
	span.SetAttributes(
		attribute.String("jwt.alg", tok.Algorithm()),
		attribute.String("jwt.kid", tok.KeyID()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	alg := tok.Algorithm()
	keyFunc := func(*jwt.Token) (any, error) {
		if strings.HasPrefix(alg, "HS") {
			if clientSecret == "" {
				return nil, oxderr.Newf(oxderr.KindInvalidIDTokenBadSignature, "idtoken: %s token but site has no client secret", alg)
			}
			return []byte(clientSecret), nil
		}
		if jwksURI == "" {
			return nil, oxderr.Newf(oxderr.KindFailedToGetJWKS, "idtoken: OP advertises no jwks_uri")
		}
		return e.keys.key(ctx, jwksURI, tok.KeyID())
	}

	p := jwt.NewParser(jwt.WithValidMethods([]string{alg}), jwt.WithoutClaimsValidation())
	if _, err := p.Parse(tok.raw, keyFunc); err != nil {
		if oxdErr, ok := oxderr.AsError(err); ok {
			return oxdErr
		}
		return oxderr.Wrapf(err, oxderr.KindInvalidIDTokenBadSignature, "idtoken: verify %s", alg)
	}
	return nil
}

// JWKS returns the OP's key set document as served.
func (e *Engine) JWKS(ctx context.Context, jwksURI string) (json.RawMessage, error) {
	if jwksURI == "" {
		return nil, oxderr.Newf(oxderr.KindFailedToGetJWKS, "idtoken: OP advertises no jwks_uri")
	}
	return e.keys.document(ctx, jwksURI)
}

// EvictExpired drops stale key sets.
func (e *Engine) EvictExpired(context.Context) int {
	return e.keys.evictExpired()
}
