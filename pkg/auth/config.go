package auth

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// HTTPClient abstracts the client used to fetch the key set, so callers can
// supply custom transports (proxies, mTLS, tracing). [http.Client]
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config is the constructor-time configuration of an [Authorizer]. It is
// fixed for the lifetime of the instance.
type Config struct {
	// Issuer is the exact iss claim tokens must carry.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER" required:"true"`

	// Audience must equal, or be contained in, the token's aud claim.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" required:"true"`

	// JWKSURL is the absolute https URL of the key-set document.
	JWKSURL string `json:"jwks_url" yaml:"jwks_url" env:"JWKS_URL" required:"true"`

	// Algorithms lists the accepted header alg values. Defaults to RS256.
	Algorithms []string `json:"algorithms" yaml:"algorithms" env:"ALGORITHMS" envDefault:"RS256"`

	// KeyCacheTTL is how long a fetched key is served from cache.
	KeyCacheTTL time.Duration `json:"key_cache_ttl" yaml:"key_cache_ttl" env:"KEY_CACHE_TTL" envDefault:"1h"`

	// MissingKeyTTL is how long a kid absent from a fresh key set is
	// answered from memory without refetching. Zero disables it.
	MissingKeyTTL time.Duration `json:"missing_key_ttl" yaml:"missing_key_ttl" env:"MISSING_KEY_TTL" envDefault:"10s"`

	// FetchTimeout bounds a single key-set fetch.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"5s"`

	// ClockSkew is tolerated on exp and nbf. Defaults to zero: exp must be
	// strictly after the verification time.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"0s"`

	// TenantClaim names the claim carrying the tenant identifier.
	TenantClaim string `json:"tenant_claim" yaml:"tenant_claim" env:"TENANT_CLAIM" envDefault:"tenant"`

	// PermissionsClaim names the claim carrying the permission set.
	PermissionsClaim string `json:"permissions_claim" yaml:"permissions_claim" env:"PERMISSIONS_CLAIM" envDefault:"permissions"`

	// HTTPClient fetches the key set. If nil, an [http.Client] with
	// FetchTimeout is used.
	HTTPClient HTTPClient `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with every optional field set to its
// default. Issuer, Audience and JWKSURL still have to be filled in.
func DefaultConfig() Config {
	return Config{
		Algorithms:       []string{jwt.SigningMethodRS256.Alg()},
		KeyCacheTTL:      time.Hour,
		MissingKeyTTL:    10 * time.Second,
		FetchTimeout:     5 * time.Second,
		TenantClaim:      "tenant",
		PermissionsClaim: "permissions",
	}
}

// supportedAlgorithms are the asymmetric algorithms a published key can
// verify. HMAC is excluded: a key set holds public keys only.
var supportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Validate checks the configuration and returns a VAL-coded *sserr.Error
// describing the first problem found.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: issuer must not be empty")
	}
	if c.Audience == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: audience must not be empty")
	}
	if c.JWKSURL == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: JWKS URL must not be empty")
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat, "auth: JWKS URL %q is not an absolute URL", c.JWKSURL)
	}
	if u.Scheme != "https" {
		return sserr.Newf(sserr.CodeValidationFormat, "auth: JWKS URL must use https, got %q", u.Scheme)
	}

	if len(c.Algorithms) == 0 {
		return sserr.New(sserr.CodeValidationRequired, "auth: at least one signing algorithm must be allowed")
	}
	for _, alg := range c.Algorithms {
		if !slices.Contains(supportedAlgorithms, alg) {
			return sserr.Validationf("auth: signing algorithm %q is not supported", alg)
		}
	}

	if c.KeyCacheTTL <= 0 {
		return sserr.Validation("auth: key cache TTL must be positive")
	}
	if c.MissingKeyTTL < 0 {
		return sserr.Validation("auth: missing key TTL must be non-negative")
	}
	if c.FetchTimeout <= 0 {
		return sserr.Validation("auth: fetch timeout must be positive")
	}
	if c.ClockSkew < 0 {
		return sserr.Validation("auth: clock skew must be non-negative")
	}
	if c.TenantClaim == "" || c.PermissionsClaim == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: tenant and permissions claim names must not be empty")
	}
	return nil
}

// withDefaults fills zero-valued optional fields so a Config built in code
// behaves like one produced by the config loader.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Algorithms) == 0 {
		c.Algorithms = d.Algorithms
	}
	if c.KeyCacheTTL == 0 {
		c.KeyCacheTTL = d.KeyCacheTTL
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.TenantClaim == "" {
		c.TenantClaim = d.TenantClaim
	}
	if c.PermissionsClaim == "" {
		c.PermissionsClaim = d.PermissionsClaim
	}
	return c
}
