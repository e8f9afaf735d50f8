// Package discovery fetches and caches OpenID Provider configuration
// documents (.well-known/openid-configuration).
//
// Documents are cached per URL for the public OP key expiration. Transport
// failures and 5xx answers are retried with exponential backoff; TLS
// failures, 4xx answers and malformed documents are not.
package discovery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/discovery"

// WellKnownPath is appended to op_host when a site has no custom
// discovery path.
const WellKnownPath = "/.well-known/openid-configuration"

const (
	DefaultExpiration = 60 * time.Minute
	DefaultMaxTries   = 3

	maxDocumentSize = 1 << 20
)

// HTTPClient is the part of *http.Client the package uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Document is the subset of the discovery document oxd acts on. The full
// document is kept and served back verbatim by MarshalJSON.
type Document struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	raw json.RawMessage
}

// MarshalJSON returns the document as the OP served it.
func (d *Document) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	type plain Document
	return json.Marshal((*plain)(d))
}

// URL returns the discovery URL for opHost. A blank discoveryPath selects
// WellKnownPath.
func URL(opHost, discoveryPath string) string {
	host := strings.TrimRight(strings.TrimSpace(opHost), "/")
	path := strings.TrimSpace(discoveryPath)
	if path == "" {
		return host + WellKnownPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return host + path
}

// NewHTTPClient returns the client used for every outbound OP and AS call.
// trustAllCerts disables certificate verification and is meant for test
// deployments only.
func NewHTTPClient(timeout time.Duration, trustAllCerts bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: trustAllCerts, //nolint:gosec // operator opt-in
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

type entry struct {
	doc       *Document
	fetchedAt time.Time
}

// Service resolves discovery documents. It is safe for concurrent use.
type Service struct {
	client   HTTPClient
	ttl      time.Duration
	maxTries uint
	interval time.Duration
	now      func() time.Time
	tracer   trace.Tracer
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(s *Service) {
		s.maxTries = maxTries
		s.interval = initial
	}
}

// NewService returns a Service. A non-positive ttl selects
// DefaultExpiration.
func NewService(client HTTPClient, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	s := &Service{
		client:   client,
		ttl:      ttl,
		maxTries: DefaultMaxTries,
		interval: 200 * time.Millisecond,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
		entries:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the discovery document of opHost.
func (s *Service) Get(ctx context.Context, opHost, discoveryPath string) (*Document, error) {
	if strings.TrimSpace(opHost) == "" {
		return nil, oxderr.New(oxderr.KindInvalidOpHost)
	}
	u := URL(opHost, discoveryPath)
	if doc, ok := s.cached(u); ok {
		return doc, nil
	}

	v, err, _ := s.group.Do(u, func() (any, error) {
		if doc, ok := s.cached(u); ok {
			return doc, nil
		}
		doc, err := s.fetchWithRetry(ctx, u)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[u] = entry{doc: doc, fetchedAt: s.now()}
		s.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (s *Service) cached(u string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[u]
	if !ok || s.now().Sub(e.fetchedAt) > s.ttl {
		return nil, false
	}
	return e.doc, true
}

// EvictExpired drops stale documents and reports how many were dropped.
func (s *Service) EvictExpired(context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for u, e := range s.entries {
		if s.now().Sub(e.fetchedAt) > s.ttl {
			delete(s.entries, u)
			n++
		}
	}
	return n
}

func (s *Service) fetchWithRetry(ctx context.Context, u string) (*Document, error) {
	ctx, span := s.tracer.Start(ctx, "discovery.Get", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.url", u))

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.interval
	expBackoff.MaxInterval = 10 * s.interval
	expBackoff.Reset()

	doc, err := backoff.Retry(ctx, func() (*Document, error) {
		return s.fetch(ctx, u)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.DebugContext(ctx, "discovery: retrying", "url", u, "after", d, "error", err)
		}),
	)
	if err != nil {
		// The last attempt comes back still marked permanent.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if _, ok := oxderr.AsError(err); !ok {
			err = oxderr.Wrapf(err, oxderr.KindNoConnectDiscoveryResponse, "discovery: %s", u)
		}
		s.logger.WarnContext(ctx, "discovery: failed", "url", u, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	return doc, nil
}

// fetch makes one attempt. Errors wrapped in backoff.Permanent stop the
// retry loop.
func (s *Service) fetch(ctx context.Context, u string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindInvalidOpHost, "discovery: %s", u))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if isTLSError(err) {
			return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindSSLHandshakeError, "discovery: %s", u))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindNoConnectDiscoveryResponse, "discovery: %s: timed out", u))
		}
		return nil, oxderr.Wrapf(err, oxderr.KindNoConnectDiscoveryResponse, "discovery: %s", u)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := oxderr.Newf(oxderr.KindNoConnectDiscoveryResponse, "discovery: %s returned status %d", u, resp.StatusCode)
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindNoConnectDiscoveryResponse, "discovery: read %s", u)
	}
	doc, err := parse(body)
	if err != nil {
		return nil, backoff.Permanent(oxderr.Wrapf(err, oxderr.KindFailedToGetDiscovery, "discovery: %s", u))
	}
	return doc, nil
}

func parse(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.Issuer == "" {
		return nil, fmt.Errorf("document has no issuer")
	}
	doc.raw = json.RawMessage(body)
	return &doc, nil
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
