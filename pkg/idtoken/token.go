// Package idtoken parses and verifies OpenID Connect ID tokens and runs the
// claim checks a relying party applies to them.
//
// Parsing never verifies; VerifySignature and Validate do. Each claim check
// is an independent function so handlers can run the subset they need.
package idtoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// Token is a parsed, not yet verified, JWS.
type Token struct {
	raw    string
	header map[string]any
	claims jwt.MapClaims
}

var parser = jwt.NewParser()

// Parse splits and decodes raw. A token without an alg header is
// INVALID_ALGORITHM; alg "none" is ALGORITHM_NOT_SUPPORTED; anything that
// is not a compact JWS is INVALID_ID_TOKEN_UNKNOWN.
func Parse(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, oxderr.New(oxderr.KindNoIDTokenParam)
	}
	claims := jwt.MapClaims{}
	t, _, err := parser.ParseUnverified(raw, claims)
	// An unknown or missing alg still yields a decoded token; the checks
	// below classify it.
	if err != nil && (t == nil || !errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidIDTokenUnknown, "idtoken: parse")
	}
	tok := &Token{raw: raw, header: t.Header, claims: claims}

	alg := tok.Algorithm()
	switch {
	case alg == "":
		return nil, oxderr.New(oxderr.KindInvalidAlgorithm)
	case strings.EqualFold(alg, "none"):
		return nil, oxderr.Newf(oxderr.KindAlgorithmNotSupported, "idtoken: unsigned tokens are not accepted")
	case jwt.GetSigningMethod(alg) == nil:
		return nil, oxderr.Newf(oxderr.KindAlgorithmNotSupported, "idtoken: alg %s", alg)
	}
	return tok, nil
}

// Raw returns the compact serialization.
func (t *Token) Raw() string { return t.raw }

func (t *Token) Algorithm() string { return t.headerString("alg") }

func (t *Token) KeyID() string { return t.headerString("kid") }

func (t *Token) Issuer() string { return t.claimString("iss") }

func (t *Token) Subject() string { return t.claimString("sub") }

// AuthorizedParty returns azp, or "" when absent.
func (t *Token) AuthorizedParty() string { return t.claimString("azp") }

func (t *Token) Nonce() string { return t.claimString("nonce") }

func (t *Token) AccessTokenHash() string { return t.claimString("at_hash") }

func (t *Token) CodeHash() string { return t.claimString("c_hash") }

// Audience returns aud whether it was sent as a string or a list.
func (t *Token) Audience() []string {
	aud, err := t.claims.GetAudience()
	if err != nil {
		return nil
	}
	return aud
}

// ExpiresAt returns exp, and false when the claim is missing or not a
// number.
func (t *Token) ExpiresAt() (time.Time, bool) {
	exp, err := t.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Claims returns a copy of the payload.
func (t *Token) Claims() map[string]any {
	out := make(map[string]any, len(t.claims))
	for k, v := range t.claims {
		out[k] = v
	}
	return out
}

// Header returns a copy of the JOSE header.
func (t *Token) Header() map[string]any {
	out := make(map[string]any, len(t.header))
	for k, v := range t.header {
		out[k] = v
	}
	return out
}

func (t *Token) headerString(name string) string {
	s, _ := t.header[name].(string)
	return s
}

func (t *Token) claimString(name string) string {
	s, _ := t.claims[name].(string)
	return s
}
