package idtoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const maxJWKSSize = 1 << 20

type jwksEntry struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	raw       json.RawMessage
	fetchedAt time.Time
}

// jwksCache holds each OP's key set for ttl. A kid missing from a fresh
// set triggers one refetch, which covers key rotation.
type jwksCache struct {
	client discovery.HTTPClient
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*jwksEntry
	group   singleflight.Group
}

func newJWKSCache(client discovery.HTTPClient, ttl time.Duration, now func() time.Time) *jwksCache {
	return &jwksCache{client: client, ttl: ttl, now: now, entries: make(map[string]*jwksEntry)}
}

func (c *jwksCache) fresh(jwksURL string) (*jwksEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[jwksURL]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e, true
}

// key returns the key for kid. An empty kid matches a set holding exactly
// one key.
func (c *jwksCache) key(ctx context.Context, jwksURL, kid string) (any, error) {
	if e, ok := c.fresh(jwksURL); ok {
		if k, found := pick(e.keys, kid); found {
			return k, nil
		}
	}
	e, err := c.refresh(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	k, found := pick(e.keys, kid)
	if !found {
		return nil, oxderr.Newf(oxderr.KindInvalidIDTokenBadSignature, "idtoken: kid %q not in key set %s", kid, jwksURL)
	}
	return k, nil
}

func pick(keys map[string]any, kid string) (any, bool) {
	if kid == "" {
		if len(keys) != 1 {
			return nil, false
		}
		for _, k := range keys {
			return k, true
		}
	}
	k, ok := keys[kid]
	return k, ok
}

// document returns the key set as served, fetching it when stale.
func (c *jwksCache) document(ctx context.Context, jwksURL string) (json.RawMessage, error) {
	if e, ok := c.fresh(jwksURL); ok {
		return e.raw, nil
	}
	e, err := c.refresh(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	return e.raw, nil
}

func (c *jwksCache) refresh(ctx context.Context, jwksURL string) (*jwksEntry, error) {
	v, err, _ := c.group.Do(jwksURL, func() (any, error) {
		e, err := c.fetch(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[jwksURL] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jwksEntry), nil
}

func (c *jwksCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for u, e := range c.entries {
		if c.now().Sub(e.fetchedAt) > c.ttl {
			delete(c.entries, u)
			n++
		}
	}
	return n
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (c *jwksCache) fetch(ctx context.Context, jwksURL string) (*jwksEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetJWKS, "idtoken: jwks url %q", jwksURL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetJWKS, "idtoken: %s: timed out", jwksURL)
		}
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetJWKS, "idtoken: %s", jwksURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, oxderr.Newf(oxderr.KindFailedToGetJWKS, "idtoken: %s returned status %d", jwksURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetJWKS, "idtoken: read %s", jwksURL)
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetJWKS, "idtoken: decode %s", jwksURL)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		var (
			pub any
			err error
		)
		switch k.Kty {
		case "RSA":
			pub, err = rsaKey(k.N, k.E)
		case "EC":
			pub, err = ecKey(k.Crv, k.X, k.Y)
		default:
			continue
		}
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return &jwksEntry{keys: keys, raw: json.RawMessage(body), fetchedAt: c.now()}, nil
}

func rsaKey(n64, e64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n64)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e64)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}

func ecKey(crv, x64, y64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xb, err := base64.RawURLEncoding.DecodeString(x64)
	if err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(y64)
	if err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(xb), Y: new(big.Int).SetBytes(yb)}, nil
}
