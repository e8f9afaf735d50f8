// Package introspection asks a site's authorization server whether a
// token is active (RFC 7662) and reports what it says about the token.
package introspection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

const tracerName = "github.com/zaphod72/oxd/pkg/introspection"

// maxResponseSize caps how much of an introspection answer is read.
const maxResponseSize = 64 << 10

// Token type hints sent with the request.
const (
	HintAccessToken = "access_token"
	HintRPT         = "requesting_party_token"
)

// Response is an introspection answer. Claims the struct does not name
// are kept in Extra.
type Response struct {
	Active    bool             `json:"active"`
	ClientID  string           `json:"client_id,omitempty"`
	Scope     string           `json:"scope,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Username  string           `json:"username,omitempty"`
	Issuer    string           `json:"iss,omitempty"`
	TokenType string           `json:"token_type,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`

	// Permissions is only returned for RPTs.
	Permissions []json.RawMessage `json:"permissions,omitempty"`

	Extra map[string]any `json:"-"`
}

// Scopes splits Scope on whitespace.
func (r *Response) Scopes() []string {
	return strings.Fields(r.Scope)
}

// HasScope reports whether scope is one of the granted scopes.
func (r *Response) HasScope(scope string) bool {
	return slices.Contains(r.Scopes(), scope)
}

var knownClaims = []string{
	"active", "client_id", "scope", "sub", "username", "iss", "token_type",
	"aud", "exp", "iat", "nbf", "permissions",
}

func decodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, err
	}
	for _, k := range knownClaims {
		delete(all, k)
	}
	if len(all) > 0 {
		resp.Extra = all
	}
	return &resp, nil
}

// Introspector calls the introspection endpoint for a site.
type Introspector interface {
	Introspect(ctx context.Context, site *rp.Rp, token, hint string) (*Response, error)
}

// Endpoints resolves OP metadata. *discovery.Service implements it.
type Endpoints interface {
	Get(ctx context.Context, opHost, discoveryPath string) (*discovery.Document, error)
}

// Client is the HTTP Introspector. It authenticates with the site's client
// credentials (client_secret_basic).
type Client struct {
	doer      discovery.HTTPClient
	endpoints Endpoints
	tracer    trace.Tracer
}

var _ Introspector = (*Client)(nil)

func NewClient(doer discovery.HTTPClient, endpoints Endpoints) *Client {
	return &Client{doer: doer, endpoints: endpoints, tracer: otel.Tracer(tracerName)}
}

// Introspect posts token to the site's introspection endpoint. Transport
// failures are FAILED_TO_INTROSPECT; unreadable answers are
// INVALID_INTROSPECTION_RESPONSE.
func (c *Client) Introspect(ctx context.Context, site *rp.Rp, token, hint string) (resp *Response, err error) {
	ctx, span := c.tracer.Start(ctx, "introspection.Introspect", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("oxd.oxd_id", site.OxdID),
		attribute.String("oauth.token_type_hint", hint),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("oauth.active", resp.Active))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	doc, err := c.endpoints.Get(ctx, site.OpHost, site.OpDiscoveryPath)
	if err != nil {
		return nil, err
	}
	if doc.IntrospectionEndpoint == "" {
		return nil, oxderr.Newf(oxderr.KindFailedToGetDiscovery, "introspection: %s advertises no introspection_endpoint", site.OpHost)
	}

	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToIntrospect, "introspection: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(site.ClientID), url.QueryEscape(site.ClientSecret))

	httpResp, err := c.doer.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, oxderr.Wrapf(err, oxderr.KindFailedToIntrospect, "introspection: timed out")
		}
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToIntrospect, "introspection: %s", doc.IntrospectionEndpoint)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, oxderr.Newf(oxderr.KindFailedToIntrospect, "introspection: endpoint returned status %d", httpResp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize+1))
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToIntrospect, "introspection: read response")
	}
	if len(body) > maxResponseSize {
		return nil, oxderr.Newf(oxderr.KindInvalidIntrospectionResponse, "introspection: response exceeds %d bytes", maxResponseSize)
	}
	resp, err = decodeResponse(body)
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidIntrospectionResponse, "introspection: decode response")
	}
	return resp, nil
}
