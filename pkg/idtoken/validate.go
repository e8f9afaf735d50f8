package idtoken

import (
	"context"
	"crypto"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	// Hash implementations selected by alg suffix.
	_ "crypto/sha256"
	_ "crypto/sha512"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// ValidateAudience applies the authorized party rule: a present azp must
// equal clientID whatever aud says; otherwise clientID must be one of the
// aud values. Several aud values without azp are accepted.
func ValidateAudience(tok *Token, clientID string) error {
	if azp := tok.AuthorizedParty(); azp != "" {
		if azp != clientID {
			return oxderr.Newf(oxderr.KindInvalidIDTokenBadAuthorizedParty, "idtoken: azp %q", azp)
		}
		return nil
	}
	if !slices.Contains(tok.Audience(), clientID) {
		return oxderr.Newf(oxderr.KindInvalidIDTokenBadAudience, "idtoken: aud %v", tok.Audience())
	}
	return nil
}

func ValidateNonce(tok *Token, expected string) error {
	if tok.Nonce() == "" || tok.Nonce() != expected {
		return oxderr.New(oxderr.KindInvalidIDTokenBadNonce)
	}
	return nil
}

// ValidateIssuer requires iss to equal the site's OP issuer exactly.
func ValidateIssuer(tok *Token, issuer string) error {
	if got := tok.Issuer(); got == "" || got != issuer {
		return oxderr.Newf(oxderr.KindInvalidIDTokenBadIssuer, "idtoken: iss %q, want %q", tok.Issuer(), issuer)
	}
	return nil
}

// ValidateExpiry fails unless exp is after now. A missing exp counts as
// expired.
func ValidateExpiry(tok *Token, now time.Time) error {
	exp, ok := tok.ExpiresAt()
	if !ok || !exp.After(now) {
		return oxderr.New(oxderr.KindInvalidIDTokenExpired)
	}
	return nil
}

// ValidateAccessTokenHash checks at_hash against accessToken.
func ValidateAccessTokenHash(tok *Token, accessToken string) error {
	return checkHash(tok, tok.AccessTokenHash(), accessToken, oxderr.KindInvalidAccessTokenBadHash)
}

// ValidateAuthorizationCodeHash checks c_hash against code.
func ValidateAuthorizationCodeHash(tok *Token, code string) error {
	return checkHash(tok, tok.CodeHash(), code, oxderr.KindInvalidAuthorizationCodeBadHash)
}

func checkHash(tok *Token, claim, value string, kind oxderr.Kind) error {
	want, err := HalfHash(tok.Algorithm(), value)
	if err != nil {
		return err
	}
	if claim == "" || subtle.ConstantTimeCompare([]byte(claim), []byte(want)) != 1 {
		return oxderr.New(kind)
	}
	return nil
}

// HalfHash is the at_hash/c_hash value of value for a token signed with
// alg: the base64url encoded left half of its SHA-2 digest.
func HalfHash(alg, value string) (string, error) {
	if alg == "" {
		return "", oxderr.New(oxderr.KindInvalidAlgorithm)
	}
	var h crypto.Hash
	switch {
	case strings.HasSuffix(alg, "256"):
		h = crypto.SHA256
	case strings.HasSuffix(alg, "384"):
		h = crypto.SHA384
	case strings.HasSuffix(alg, "512"):
		h = crypto.SHA512
	default:
		return "", oxderr.Newf(oxderr.KindAlgorithmNotSupported, "idtoken: no hash for alg %s", alg)
	}
	d := h.New()
	d.Write([]byte(value))
	sum := d.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

// Expectations are what a site expects of an ID token. Empty Nonce,
// AccessToken and Code skip their checks.
type Expectations struct {
	ClientID     string
	ClientSecret string
	Issuer       string
	JWKSURI      string
	Nonce        string
	AccessToken  string
	Code         string
}

// Validate verifies the signature and then runs every applicable claim
// check, stopping at the first failure. Failures that are not taxonomy
// errors, panics included, come back as INVALID_ID_TOKEN_UNKNOWN.
func (e *Engine) Validate(ctx context.Context, tok *Token, exp Expectations) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oxderr.Newf(oxderr.KindInvalidIDTokenUnknown, "idtoken: panic during validation: %v", r)
			return
		}
		if err != nil {
			if _, ok := oxderr.AsError(err); !ok {
				err = oxderr.Wrapf(err, oxderr.KindInvalidIDTokenUnknown, "idtoken: validation")
			}
		}
	}()

	if tok == nil {
		return fmt.Errorf("nil token")
	}
	if err := e.VerifySignature(ctx, tok, exp.JWKSURI, exp.ClientSecret); err != nil {
		return err
	}
	if exp.Nonce != "" {
		if err := ValidateNonce(tok, exp.Nonce); err != nil {
			return err
		}
	}
	if err := ValidateAudience(tok, exp.ClientID); err != nil {
		return err
	}
	if err := ValidateIssuer(tok, exp.Issuer); err != nil {
		return err
	}
	if err := ValidateExpiry(tok, e.now()); err != nil {
		return err
	}
	if exp.AccessToken != "" {
		if err := ValidateAccessTokenHash(tok, exp.AccessToken); err != nil {
			return err
		}
	}
	if exp.Code != "" {
		if err := ValidateAuthorizationCodeHash(tok, exp.Code); err != nil {
			return err
		}
	}
	return nil
}
