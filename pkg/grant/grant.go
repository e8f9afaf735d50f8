// Package grant obtains tokens from an OP token endpoint.
//
// Only the client_credentials grant is implemented. Transport failures and
// 5xx answers are retried with exponential backoff; 4xx answers and
// unreadable bodies are not.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/grant"

const (
	DefaultMaxTries = 3

	maxResponseSize = 64 << 10
)

// Client authentication methods at the token endpoint.
const (
	AuthBasic = "basic" // client_secret_basic
	AuthPost  = "post"  // client_secret_post
)

// Token is a token endpoint answer.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Scopes splits the granted scope string.
func (t *Token) Scopes() []string {
	return strings.Fields(t.Scope)
}

// Request describes one client_credentials grant.
type Request struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	AuthMethod    string // AuthBasic when empty
}

// Client calls token endpoints. It is safe for concurrent use.
type Client struct {
	doer     discovery.HTTPClient
	maxTries uint
	interval time.Duration
	tracer   trace.Tracer
	logger   *slog.Logger
}

type Option func(*Client)

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.interval = initial
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(doer discovery.HTTPClient, opts ...Option) *Client {
	c := &Client{
		doer:     doer,
		maxTries: DefaultMaxTries,
		interval: 200 * time.Millisecond,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientCredentials runs the client_credentials grant. A missing token
// endpoint is FAILED_TO_GET_DISCOVERY, an unknown auth method is
// INVALID_REQUEST, and every endpoint failure is NO_ACCESS_TOKEN_RETURNED.
func (c *Client) ClientCredentials(ctx context.Context, req Request) (tok *Token, err error) {
	ctx, span := c.tracer.Start(ctx, "grant.ClientCredentials", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.url", req.TokenEndpoint),
		attribute.String("oauth.client_id", req.ClientID),
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

	if strings.TrimSpace(req.TokenEndpoint) == "" {
		return nil, oxderr.Newf(oxderr.KindFailedToGetDiscovery, "grant: no token_endpoint")
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(req.Scopes) > 0 {
		form.Set("scope", strings.Join(req.Scopes, " "))
	}
	basic := true
	switch strings.ToLower(req.AuthMethod) {
	case "", AuthBasic:
	case AuthPost:
		basic = false
		form.Set("client_id", req.ClientID)
		form.Set("client_secret", req.ClientSecret)
	default:
		return nil, oxderr.Newf(oxderr.KindInvalidRequest, "grant: unsupported authentication_method %q", req.AuthMethod)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.interval
	expBackoff.MaxInterval = 10 * c.interval
	expBackoff.Reset()

	tok, err = backoff.Retry(ctx, func() (*Token, error) {
		return c.post(ctx, req, form, basic)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.DebugContext(ctx, "grant: retrying", "url", req.TokenEndpoint, "after", d, "error", err)
		}),
	)
	if err != nil {
		// The last attempt comes back still marked permanent.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if _, ok := oxderr.AsError(err); !ok {
			err = oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: %s", req.TokenEndpoint)
		}
		c.logger.WarnContext(ctx, "grant: client_credentials failed",
			"url", req.TokenEndpoint, "client_id", req.ClientID, "error", err)
		return nil, err
	}
	return tok, nil
}

// post makes one attempt. Errors wrapped in backoff.Permanent end the
// retry loop.
func (c *Client) post(ctx context.Context, req Request, form url.Values, basic bool) (*Token, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: build request"))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if basic {
		httpReq.SetBasicAuth(url.QueryEscape(req.ClientID), url.QueryEscape(req.ClientSecret))
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: timed out"))
		}
		return nil, oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: %s", req.TokenEndpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: read response")
	}
	if resp.StatusCode != http.StatusOK {
		err := oxderr.Newf(oxderr.KindNoAccessTokenReturned, "grant: token endpoint returned status %d%s",
			resp.StatusCode, oauthError(body))
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if len(body) > maxResponseSize {
		return nil, backoff.Permanent(oxderr.Newf(oxderr.KindNoAccessTokenReturned, "grant: response exceeds %d bytes", maxResponseSize))
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindNoAccessTokenReturned, "grant: decode response"))
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, backoff.Permanent(oxderr.Newf(oxderr.KindNoAccessTokenReturned, "grant: response has no access_token"))
	}
	return &tok, nil
}

// oauthError extracts the RFC 6749 error code of a failed answer, if any.
func oauthError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		return ""
	}
	return ": " + e.Error
}
