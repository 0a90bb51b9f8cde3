package auth

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// ---------------------------------------------------------------------------
// VerifiedClaims
// ---------------------------------------------------------------------------

// VerifiedClaims is the payload of a token whose signature and registered
// claims have been checked. It can only be produced by [Verifier.Verify].
type VerifiedClaims struct {
	claims           jwt.MapClaims
	tenantClaim      string
	permissionsClaim string
}

// Issuer returns the iss claim.
func (c *VerifiedClaims) Issuer() string {
	iss, _ := c.claims.GetIssuer()
	return iss
}

// Subject returns the sub claim, or "" if absent.
func (c *VerifiedClaims) Subject() string {
	sub, _ := c.claims.GetSubject()
	return sub
}

// Audience returns the aud claim as a list.
func (c *VerifiedClaims) Audience() []string {
	aud, _ := c.claims.GetAudience()
	return aud
}

// ExpiresAt returns the exp claim.
func (c *VerifiedClaims) ExpiresAt() time.Time {
	exp, _ := c.claims.GetExpirationTime()
	if exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Tenant returns the tenant claim, or "" if it is absent or not a string.
func (c *VerifiedClaims) Tenant() string {
	s, _ := c.claims[c.tenantClaim].(string)
	return s
}

// Permissions returns the permissions claim. A JSON array contributes its
// string members; a single string is treated as a one-element set.
func (c *VerifiedClaims) Permissions() []string {
	switch v := c.claims[c.permissionsClaim].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Claim returns an arbitrary claim value as decoded from JSON. Numbers are
// returned as [json.Number].
func (c *VerifiedClaims) Claim(name string) (any, bool) {
	v, ok := c.claims[name]
	return v, ok
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// Verifier checks token signatures and registered claims against a fixed
// issuer, audience and algorithm allow-list.
type Verifier struct {
	issuer           string
	audience         string
	algorithms       []string
	skew             time.Duration
	tenantClaim      string
	permissionsClaim string
}

// NewVerifier creates a Verifier from cfg. cfg must already be valid.
func NewVerifier(cfg Config) *Verifier {
	cfg = cfg.withDefaults()
	return &Verifier{
		issuer:           cfg.Issuer,
		audience:         cfg.Audience,
		algorithms:       slices.Clone(cfg.Algorithms),
		skew:             cfg.ClockSkew,
		tenantClaim:      cfg.TenantClaim,
		permissionsClaim: cfg.PermissionsClaim,
	}
}

// Verify checks the signature of tok with key and then validates its
// claims at time now. The payload is not decoded until the signature has
// been verified.
//
// Claim checks run in a fixed order, each failing with its own code:
//
//   - exp must be present and after now ([sserr.CodeExpiredToken])
//   - nbf, if present, must not be after now ([sserr.CodeNotYetValid])
//   - iss must equal the configured issuer ([sserr.CodeIssuerMismatch])
//   - aud must be or contain the configured audience ([sserr.CodeAudienceMismatch])
//
// Both time checks allow the configured clock skew.
func (v *Verifier) Verify(tok *UnverifiedToken, key SigningKey, now time.Time) (*VerifiedClaims, error) {
	if tok == nil {
		return nil, sserr.New(sserr.CodeInternal, "auth: nil token passed to verifier")
	}
	if err := v.verifySignature(tok, key); err != nil {
		return nil, err
	}

	claims, err := decodeClaims(tok.payloadRaw)
	if err != nil {
		return nil, err
	}
	if err := v.validateClaims(claims, now); err != nil {
		return nil, err
	}

	return &VerifiedClaims{
		claims:           claims,
		tenantClaim:      v.tenantClaim,
		permissionsClaim: v.permissionsClaim,
	}, nil
}

func (v *Verifier) verifySignature(tok *UnverifiedToken, key SigningKey) error {
	alg := tok.Algorithm()
	if !slices.Contains(v.algorithms, alg) {
		return sserr.Newf(sserr.CodeInvalidSignature, "auth: algorithm %q is not allowed", alg)
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return sserr.Newf(sserr.CodeInvalidSignature,
			"auth: token algorithm %q does not match key algorithm %q", alg, key.Algorithm)
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return sserr.Newf(sserr.CodeInvalidSignature, "auth: no verifier for algorithm %q", alg)
	}
	if err := method.Verify(tok.signingInput, tok.signature, key.Key); err != nil {
		return sserr.Wrap(err, sserr.CodeInvalidSignature, "auth: signature verification failed").
			WithDetail(detailKeyID, key.KeyID)
	}
	return nil
}

// decodeClaims parses a verified payload. A payload that is not a JSON
// object cannot carry exp, so it is reported as a malformed token.
func decodeClaims(payload []byte) (jwt.MapClaims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var claims jwt.MapClaims
	if err := dec.Decode(&claims); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: payload is not a JSON object")
	}
	if claims == nil {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: payload is null")
	}
	return claims, nil
}

func (v *Verifier) validateClaims(claims jwt.MapClaims, now time.Time) error {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return sserr.New(sserr.CodeExpiredToken, "auth: token has no valid exp claim")
	}
	if !exp.After(now.Add(-v.skew)) {
		return sserr.New(sserr.CodeExpiredToken, "auth: token has expired").
			WithDetail("exp", exp.Unix())
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeNotYetValid, "auth: token has an invalid nbf claim")
	}
	if nbf != nil && nbf.After(now.Add(v.skew)) {
		return sserr.New(sserr.CodeNotYetValid, "auth: token is not valid yet").
			WithDetail("nbf", nbf.Unix())
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != v.issuer {
		return sserr.New(sserr.CodeIssuerMismatch, "auth: token issuer does not match").
			WithDetail("iss", iss)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, v.audience) {
		return sserr.New(sserr.CodeAudienceMismatch, "auth: token audience does not match")
	}
	return nil
}
