package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authorizer/internal/testutil/fixtures"
)

// KeyPair is a signing key with the kid and algorithm it is published under.
type KeyPair struct {
	KeyID   string
	Method  jwt.SigningMethod
	Private crypto.Signer
}

// Public returns the public half of the key pair.
func (k *KeyPair) Public() crypto.PublicKey {
	return k.Private.Public()
}

// NewRSAKeyPair generates a 2048-bit RS256 key pair.
func NewRSAKeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return &KeyPair{KeyID: kid, Method: jwt.SigningMethodRS256, Private: priv}
}

// NewECKeyPair generates a P-256 ES256 key pair.
func NewECKeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate ECDSA key pair")
	return &KeyPair{KeyID: kid, Method: jwt.SigningMethodES256, Private: priv}
}

// NewEd25519KeyPair generates an EdDSA key pair.
func NewEd25519KeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "failed to generate Ed25519 key pair")
	return &KeyPair{KeyID: kid, Method: jwt.SigningMethodEdDSA, Private: priv}
}

// Sign returns a compact JWT over claims with the key's kid in the header.
func (k *KeyPair) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(k.Method, claims)
	token.Header["kid"] = k.KeyID
	signed, err := token.SignedString(k.Private)
	require.NoError(t, err, "failed to sign token")
	return signed
}

// ValidClaims returns the canonical allow-scenario claims expiring one
// hour after now.
func ValidClaims(now time.Time) jwt.MapClaims {
	perms := make([]any, len(fixtures.Permissions))
	for i, p := range fixtures.Permissions {
		perms[i] = p
	}
	return jwt.MapClaims{
		"iss":         fixtures.Issuer,
		"aud":         fixtures.Audience,
		"sub":         "user-123",
		"tenant":      fixtures.Tenant,
		"permissions": perms,
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
	}
}

// FlipSignatureByte returns token with the last byte of its decoded
// signature inverted. Flipping a base64 character instead may leave the
// decoded bytes unchanged because of trailing padding bits.
func FlipSignatureByte(t testing.TB, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3, "token must have three segments")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err, "failed to decode signature")
	require.NotEmpty(t, sig)
	sig[len(sig)-1] ^= 0xFF
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

// KeySetJSON renders the public halves of keys as a JWKS document.
func KeySetJSON(t testing.TB, keys ...*KeyPair) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.FromRaw(k.Public())
		require.NoError(t, err, "failed to build JWK")
		require.NoError(t, key.Set(jwk.KeyIDKey, k.KeyID))
		require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(k.Method.Alg())))
		require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
		require.NoError(t, set.AddKey(key))
	}
	doc, err := json.Marshal(set)
	require.NoError(t, err, "failed to marshal JWKS")
	return doc
}

// JWKSServer is an HTTPS key-set endpoint that counts fetches and can
// hold requests open to exercise coalescing and timeouts.
type JWKSServer struct {
	*httptest.Server

	fetches atomic.Int64

	mu     sync.Mutex
	status int
	body   []byte
	gate   chan struct{}
}

// NewJWKSServer starts a TLS key-set server publishing keys. Use
// srv.Client() as the HTTP client so the test certificate is trusted.
func NewJWKSServer(t testing.TB, keys ...*KeyPair) *JWKSServer {
	t.Helper()
	s := &JWKSServer{status: http.StatusOK, body: KeySetJSON(t, keys...)}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.Release()
		s.Close()
	})
	return s
}

func (s *JWKSServer) serve(w http.ResponseWriter, r *http.Request) {
	s.fetches.Add(1)

	s.mu.Lock()
	gate, status, body := s.gate, s.status, s.body
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Fetches returns the number of requests served so far.
func (s *JWKSServer) Fetches() int64 {
	return s.fetches.Load()
}

// KeySetURL returns the key-set endpoint URL.
func (s *JWKSServer) KeySetURL() string {
	return s.Server.URL + "/.well-known/jwks.json"
}

// SetKeys replaces the published key set.
func (s *JWKSServer) SetKeys(t testing.TB, keys ...*KeyPair) {
	t.Helper()
	body := KeySetJSON(t, keys...)
	s.mu.Lock()
	s.status, s.body = http.StatusOK, body
	s.mu.Unlock()
}

// SetResponse replaces the raw status and body served.
func (s *JWKSServer) SetResponse(status int, body string) {
	s.mu.Lock()
	s.status, s.body = status, []byte(body)
	s.mu.Unlock()
}

// Hold makes subsequent requests block until [JWKSServer.Release] is
// called or the client goes away.
func (s *JWKSServer) Hold() {
	s.mu.Lock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
	s.mu.Unlock()
}

// Release unblocks held requests. It is safe to call more than once.
func (s *JWKSServer) Release() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}
