package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authorizer/internal/testutil"
	"github.com/StricklySoft/authorizer/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testJWKSURL = "https://idp.example/.well-known/jwks.json"

func signingKeyOf(kp *testutil.KeyPair) SigningKey {
	return SigningKey{
		KeyID:     kp.KeyID,
		Algorithm: kp.Method.Alg(),
		Key:       kp.Public(),
		FetchedAt: time.Now(),
	}
}

// verifyClaims signs claims with kp and runs the result through a verifier
// built from cfg.
func verifyClaims(t *testing.T, cfg Config, kp *testutil.KeyPair, claims jwt.MapClaims, now time.Time) (*VerifiedClaims, error) {
	t.Helper()
	tok, err := Decode(kp.Sign(t, claims))
	require.NoError(t, err)
	return NewVerifier(cfg).Verify(tok, signingKeyOf(kp), now)
}

// signRaw signs an arbitrary payload, for payloads jwt.MapClaims cannot
// express.
func signRaw(t *testing.T, kp *testutil.KeyPair, payload string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"` + kp.Method.Alg() + `","kid":"` + kp.KeyID + `"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	sig, err := kp.Method.Sign(header+"."+body, kp.Private)
	require.NoError(t, err)
	return header + "." + body + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

func TestVerify_ValidToken_AllKeyTypes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kp   *testutil.KeyPair
	}{
		{name: "RS256", kp: testutil.NewRSAKeyPair(t, fixtures.KeyID)},
		{name: "ES256", kp: testutil.NewECKeyPair(t, fixtures.KeyID)},
		{name: "EdDSA", kp: testutil.NewEd25519KeyPair(t, fixtures.KeyID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := time.Now()
			claims, err := verifyClaims(t, testConfig(testJWKSURL), tt.kp, testutil.ValidClaims(now), now)
			require.NoError(t, err)

			assert.Equal(t, fixtures.Issuer, claims.Issuer())
			assert.Equal(t, "user-123", claims.Subject())
			assert.Equal(t, []string{fixtures.Audience}, claims.Audience())
			assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt().Unix())
			assert.Equal(t, fixtures.Tenant, claims.Tenant())
			assert.Equal(t, fixtures.Permissions, claims.Permissions())
		})
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	other := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	ec := testutil.NewECKeyPair(t, fixtures.KeyID)
	now := time.Now()
	token := kp.Sign(t, testutil.ValidClaims(now))

	tests := []struct {
		name  string
		token string
		key   SigningKey
		cfg   func(*Config)
	}{
		{
			name:  "flipped signature byte",
			token: testutil.FlipSignatureByte(t, token),
			key:   signingKeyOf(kp),
		},
		{
			name:  "signed by a different key",
			token: token,
			key:   signingKeyOf(other),
		},
		{
			name:  "key algorithm disagrees with header",
			token: token,
			key:   SigningKey{KeyID: kp.KeyID, Algorithm: "RS512", Key: kp.Public()},
		},
		{
			name:  "key type does not fit algorithm",
			token: token,
			key:   SigningKey{KeyID: kp.KeyID, Key: ec.Public()},
		},
		{
			name:  "algorithm not allowed",
			token: ec.Sign(t, testutil.ValidClaims(now)),
			key:   signingKeyOf(ec),
			cfg:   func(c *Config) { c.Algorithms = []string{"RS256"} },
		},
		{
			name:  "nil key",
			token: token,
			key:   SigningKey{KeyID: kp.KeyID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(testJWKSURL)
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			tok, err := Decode(tt.token)
			require.NoError(t, err)

			claims, err := NewVerifier(cfg).Verify(tok, tt.key, now)
			assert.Nil(t, claims)
			testutil.AssertErrorCode(t, err, sserr.CodeInvalidSignature)
		})
	}
}

func TestVerify_SignatureCheckedBeforeClaims(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	now := time.Now()
	claims := testutil.ValidClaims(now)
	claims["exp"] = now.Add(-time.Hour).Unix()
	claims["iss"] = "https://evil.example/"
	tampered := testutil.FlipSignatureByte(t, kp.Sign(t, claims))

	tok, err := Decode(tampered)
	require.NoError(t, err)
	_, err = NewVerifier(testConfig(testJWKSURL)).Verify(tok, signingKeyOf(kp), now)
	testutil.RequireErrorCode(t, err, sserr.CodeInvalidSignature)
}

func TestVerify_SignedPayloadNotJSON(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	for _, payload := range []string{"not json", "null", `["a"]`} {
		tok, err := Decode(signRaw(t, kp, payload))
		require.NoError(t, err)
		_, err = NewVerifier(testConfig(testJWKSURL)).Verify(tok, signingKeyOf(kp), time.Now())
		testutil.AssertErrorCode(t, err, sserr.CodeMalformedToken, "payload %q", payload)
	}
}

func TestVerify_NilToken(t *testing.T) {
	t.Parallel()
	_, err := NewVerifier(testConfig(testJWKSURL)).Verify(nil, SigningKey{}, time.Now())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func TestVerify_Claims(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		cfg    func(*Config)
		want   sserr.Code
	}{
		{name: "valid", mutate: func(jwt.MapClaims) {}},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = now.Unix() - 1 }, want: sserr.CodeExpiredToken},
		{name: "exp equals now", mutate: func(c jwt.MapClaims) { c["exp"] = now.Unix() }, want: sserr.CodeExpiredToken},
		{name: "exp missing", mutate: func(c jwt.MapClaims) { delete(c, "exp") }, want: sserr.CodeExpiredToken},
		{name: "exp not a number", mutate: func(c jwt.MapClaims) { c["exp"] = "tomorrow" }, want: sserr.CodeExpiredToken},
		{
			name:   "expired within skew",
			mutate: func(c jwt.MapClaims) { c["exp"] = now.Unix() - 30 },
			cfg:    func(c *Config) { c.ClockSkew = time.Minute },
		},
		{
			name:   "expired beyond skew",
			mutate: func(c jwt.MapClaims) { c["exp"] = now.Unix() - 61 },
			cfg:    func(c *Config) { c.ClockSkew = time.Minute },
			want:   sserr.CodeExpiredToken,
		},
		{name: "nbf in past", mutate: func(c jwt.MapClaims) { c["nbf"] = now.Unix() - 10 }},
		{name: "nbf equals now", mutate: func(c jwt.MapClaims) { c["nbf"] = now.Unix() }},
		{name: "nbf in future", mutate: func(c jwt.MapClaims) { c["nbf"] = now.Unix() + 10 }, want: sserr.CodeNotYetValid},
		{
			name:   "nbf in future within skew",
			mutate: func(c jwt.MapClaims) { c["nbf"] = now.Unix() + 10 },
			cfg:    func(c *Config) { c.ClockSkew = time.Minute },
		},
		{name: "issuer differs", mutate: func(c jwt.MapClaims) { c["iss"] = "https://other.example/" }, want: sserr.CodeIssuerMismatch},
		{name: "issuer missing trailing slash", mutate: func(c jwt.MapClaims) { c["iss"] = "https://idp.example" }, want: sserr.CodeIssuerMismatch},
		{name: "issuer missing", mutate: func(c jwt.MapClaims) { delete(c, "iss") }, want: sserr.CodeIssuerMismatch},
		{name: "issuer not a string", mutate: func(c jwt.MapClaims) { c["iss"] = 42 }, want: sserr.CodeIssuerMismatch},
		{name: "audience array contains", mutate: func(c jwt.MapClaims) { c["aud"] = []any{"api://other", fixtures.Audience} }},
		{name: "audience array lacks", mutate: func(c jwt.MapClaims) { c["aud"] = []any{"api://other"} }, want: sserr.CodeAudienceMismatch},
		{name: "audience differs", mutate: func(c jwt.MapClaims) { c["aud"] = "api://other" }, want: sserr.CodeAudienceMismatch},
		{name: "audience missing", mutate: func(c jwt.MapClaims) { delete(c, "aud") }, want: sserr.CodeAudienceMismatch},
		{name: "audience is prefix", mutate: func(c jwt.MapClaims) { c["aud"] = "api://app/extra" }, want: sserr.CodeAudienceMismatch},
		{
			name: "expired wins over issuer",
			mutate: func(c jwt.MapClaims) {
				c["exp"] = now.Unix() - 1
				c["iss"] = "https://other.example/"
			},
			want: sserr.CodeExpiredToken,
		},
		{
			name: "issuer wins over audience",
			mutate: func(c jwt.MapClaims) {
				c["iss"] = "https://other.example/"
				c["aud"] = "api://other"
			},
			want: sserr.CodeIssuerMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(testJWKSURL)
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			claims := testutil.ValidClaims(now)
			tt.mutate(claims)

			got, err := verifyClaims(t, cfg, kp, claims, now)
			if tt.want == "" {
				require.NoError(t, err)
				assert.NotNil(t, got)
				return
			}
			assert.Nil(t, got)
			testutil.AssertErrorCode(t, err, tt.want)
		})
	}
}

func TestVerifiedClaims_Accessors(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	now := time.Now()
	claims := testutil.ValidClaims(now)
	claims["permissions"] = "admin"
	claims["org"] = "acme-inc"
	claims["level"] = 3

	got, err := verifyClaims(t, testConfig(testJWKSURL), kp, claims, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"admin"}, got.Permissions())
	org, ok := got.Claim("org")
	require.True(t, ok)
	assert.Equal(t, "acme-inc", org)
	level, ok := got.Claim("level")
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), level)
	_, ok = got.Claim("absent")
	assert.False(t, ok)
}

func TestVerifiedClaims_CustomClaimNames(t *testing.T) {
	t.Parallel()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	now := time.Now()
	claims := testutil.ValidClaims(now)
	claims["org_id"] = "globex"
	claims["scp"] = []any{"admin", 7, "audit"}

	cfg := testConfig(testJWKSURL)
	cfg.TenantClaim = "org_id"
	cfg.PermissionsClaim = "scp"
	got, err := verifyClaims(t, cfg, kp, claims, now)
	require.NoError(t, err)

	assert.Equal(t, "globex", got.Tenant())
	assert.Equal(t, []string{"admin", "audit"}, got.Permissions(), "non-string members are dropped")
}
