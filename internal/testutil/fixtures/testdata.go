// Package fixtures holds shared claim values for authorizer tests so that
// issuer, audience and tenant strings are spelled the same everywhere.
package fixtures

// Token policy values matching the canonical allow scenario.
const (
	// Issuer is the configured and signed iss claim.
	Issuer = "https://idp.example/"

	// Audience is the configured and signed aud claim.
	Audience = "api://app"

	// Tenant is the signed tenant claim.
	Tenant = "acme"

	// KeyID is the kid of the primary signing key.
	KeyID = "k1"

	// AltKeyID is a second kid, used for rotation and unknown-kid tests.
	AltKeyID = "k2"
)

// Permissions is the signed permission list of the canonical scenario.
var Permissions = []string{"read", "write"}

// Config file bodies for loader tests.
const (
	// ConfigYAML is a minimal valid YAML authorizer configuration.
	ConfigYAML = `addr: ":9090"
auth:
  issuer: "https://idp.example/"
  audience: "api://app"
  jwks_url: "https://idp.example/.well-known/jwks.json"
  key_cache_ttl: 30m
`

	// ConfigJSON is a minimal valid JSON authorizer configuration.
	ConfigJSON = `{
  "addr": ":9091",
  "auth": {
    "issuer": "https://idp.example/",
    "audience": "api://app",
    "jwks_url": "https://idp.example/.well-known/jwks.json"
  }
}`
)
