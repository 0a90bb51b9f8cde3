package auth

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// maxKeySetSize caps the key-set response body (1 MB).
const maxKeySetSize = 1 << 20

// maxMissingKeys caps the negative cache. Once full, further unknown kids
// are not remembered until expired entries are pruned.
const maxMissingKeys = 4096

// Detail keys attached to key resolution errors.
const (
	detailKeyID        = "kid"
	detailFetchFailure = "fetch_failure"
	detailStatus       = "status"
)

// Fetch failure classes recorded under the fetch_failure detail. They are
// never surfaced to callers; every class is a KeyFetchError externally.
const (
	fetchFailureTimeout    = "timeout"
	fetchFailureCanceled   = "canceled"
	fetchFailureDNS        = "dns"
	fetchFailureTLS        = "tls"
	fetchFailureHTTPStatus = "http_status"
	fetchFailureTransport  = "transport"
)

// SigningKey is a verification key taken from the key set.
type SigningKey struct {
	// KeyID is the kid the key is published under.
	KeyID string

	// Algorithm is the JWK alg member, or "" if the key set omits it.
	Algorithm string

	// Key is the public key: *rsa.PublicKey, *ecdsa.PublicKey or
	// ed25519.PublicKey.
	Key crypto.PublicKey

	// FetchedAt is when the key set containing the key was retrieved.
	FetchedAt time.Time
}

// missingKey records a kid that the last fetch could not serve, either
// because it was absent or because its JWK could not be converted.
type missingKey struct {
	until time.Time
	err   *sserr.Error
}

// KeyResolver returns verification keys by kid, fetching the key set from
// a single HTTPS endpoint on cache misses. Concurrent misses for the same
// kid share one fetch.
//
// KeyResolver is safe for concurrent use by multiple goroutines. Create
// one per process and share it.
type KeyResolver struct {
	url        string
	client     HTTPClient
	ttl        time.Duration
	missingTTL time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer

	mu      sync.RWMutex
	keys    map[string]SigningKey
	missing map[string]missingKey

	flight singleflight.Group
}

// NewKeyResolver creates a resolver for cfg.JWKSURL. cfg must already be
// valid; zero-valued timing fields take their defaults.
func NewKeyResolver(cfg Config, opts ...Option) *KeyResolver {
	cfg = cfg.withDefaults()
	o := buildOptions(cfg, opts)
	return &KeyResolver{
		url:        cfg.JWKSURL,
		client:     o.httpClient,
		ttl:        cfg.KeyCacheTTL,
		missingTTL: cfg.MissingKeyTTL,
		timeout:    cfg.FetchTimeout,
		now:        o.now,
		logger:     o.logger,
		tracer:     o.tracer,
		keys:       make(map[string]SigningKey),
		missing:    make(map[string]missingKey),
	}
}

// Resolve returns the key for kid. A live cache entry is returned without
// I/O. Otherwise the key set is fetched, at most once across all
// concurrent callers asking for the same kid.
//
// If ctx ends while a fetch is in flight, Resolve stops waiting and
// returns a KeyFetchError; the fetch itself runs to completion for the
// remaining waiters.
//
// Errors carry [sserr.CodeKeyNotFound], [sserr.CodeKeyFetch] or
// [sserr.CodeKeyParse].
func (r *KeyResolver) Resolve(ctx context.Context, kid string) (SigningKey, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.ResolveKey")
	defer span.End()
	span.SetAttributes(attribute.String("auth.kid", kid))

	if key, ok := r.cached(kid); ok {
		span.SetAttributes(attribute.Bool("auth.key_cache_hit", true))
		return key, nil
	}
	span.SetAttributes(attribute.Bool("auth.key_cache_hit", false))

	if err := r.knownMissing(kid); err != nil {
		finishSpan(span, err)
		return SigningKey{}, err
	}

	ch := r.flight.DoChan(kid, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), kid)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			finishSpan(span, res.Err)
			return SigningKey{}, res.Err
		}
		span.SetAttributes(attribute.Bool("auth.fetch_shared", res.Shared))
		return res.Val.(SigningKey), nil
	case <-ctx.Done():
		err := sserr.Wrap(ctx.Err(), sserr.CodeKeyFetch, "auth: abandoned waiting for key set").
			WithDetails(map[string]any{detailKeyID: kid, detailFetchFailure: fetchFailureCanceled})
		finishSpan(span, err)
		return SigningKey{}, err
	}
}

// Invalidate drops the cached key and any missing-key record for kid.
func (r *KeyResolver) Invalidate(kid string) {
	r.mu.Lock()
	delete(r.keys, kid)
	delete(r.missing, kid)
	r.mu.Unlock()
}

// Len returns the number of unexpired cached keys.
func (r *KeyResolver) Len() int {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, k := range r.keys {
		if now.Sub(k.FetchedAt) < r.ttl {
			n++
		}
	}
	return n
}

func (r *KeyResolver) cached(kid string) (SigningKey, bool) {
	r.mu.RLock()
	key, ok := r.keys[kid]
	r.mu.RUnlock()
	if !ok || r.now().Sub(key.FetchedAt) >= r.ttl {
		return SigningKey{}, false
	}
	return key, true
}

// knownMissing returns the remembered failure for kid, or nil when kid has
// no live negative cache entry.
func (r *KeyResolver) knownMissing(kid string) *sserr.Error {
	if r.missingTTL <= 0 {
		return nil
	}
	r.mu.RLock()
	m, ok := r.missing[kid]
	r.mu.RUnlock()
	if !ok || !r.now().Before(m.until) {
		return nil
	}
	return m.err
}

// load runs inside the single flight for kid. It rechecks the cache first,
// because a flight for kid that completed just before this one started may
// already have stored the key.
func (r *KeyResolver) load(ctx context.Context, kid string) (SigningKey, error) {
	if key, ok := r.cached(kid); ok {
		return key, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	set, err := r.fetch(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "auth: key set fetch failed",
			"url", r.url,
			"kid", kid,
			"error", err,
		)
		return SigningKey{}, err.WithDetail(detailKeyID, kid)
	}

	fetchedAt := r.now()
	keys, skipped := convertKeySet(set, fetchedAt)

	r.logger.DebugContext(ctx, "auth: key set refreshed",
		"url", r.url,
		"keys", len(keys),
		"skipped", len(skipped),
	)
	return r.store(kid, keys, skipped, fetchedAt)
}

// store caches every converted key of a fetch and returns the one for kid.
// A kid that is absent or failed conversion is remembered for missingTTL
// with its error. Expired negative entries are pruned on every store.
func (r *KeyResolver) store(kid string, keys map[string]SigningKey, skipped map[string]error, fetchedAt time.Time) (SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.missing {
		if !fetchedAt.Before(m.until) {
			delete(r.missing, id)
		}
	}
	for id, k := range keys {
		r.keys[id] = k
		delete(r.missing, id)
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}

	var err *sserr.Error
	if parseErr, bad := skipped[kid]; bad {
		err = sserr.Wrapf(parseErr, sserr.CodeKeyParse, "auth: key %q could not be converted", kid)
	} else {
		err = sserr.Newf(sserr.CodeKeyNotFound, "auth: key %q not present in key set", kid)
	}
	err = err.WithDetail(detailKeyID, kid)

	if r.missingTTL > 0 && len(r.missing) < maxMissingKeys {
		r.missing[kid] = missingKey{until: fetchedAt.Add(r.missingTTL), err: err}
	}
	return SigningKey{}, err
}

// fetch retrieves and parses the key-set document.
func (r *KeyResolver) fetch(ctx context.Context) (jwk.Set, *sserr.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "auth: failed to create key set request").
			WithDetail(detailFetchFailure, fetchFailureTransport)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "auth: key set request failed").
			WithDetail(detailFetchFailure, classifyFetchFailure(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, sserr.Newf(sserr.CodeKeyFetch, "auth: key set endpoint returned status %d", resp.StatusCode).
			WithDetails(map[string]any{detailFetchFailure: fetchFailureHTTPStatus, detailStatus: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize+1))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "auth: failed to read key set response").
			WithDetail(detailFetchFailure, classifyFetchFailure(err))
	}
	if len(body) > maxKeySetSize {
		return nil, sserr.Newf(sserr.CodeKeyParse, "auth: key set response exceeds %d bytes", maxKeySetSize)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyParse, "auth: key set is not a valid JWKS document")
	}
	return set, nil
}

// convertKeySet turns every signature key in set into a SigningKey.
// Symmetric keys and keys published for encryption are ignored; keys that
// fail conversion are returned in skipped so the caller can tell a bad
// entry for the requested kid from an absent one.
func convertKeySet(set jwk.Set, fetchedAt time.Time) (keys map[string]SigningKey, skipped map[string]error) {
	keys = make(map[string]SigningKey, set.Len())
	skipped = make(map[string]error)
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok || k.KeyID() == "" {
			continue
		}
		if k.KeyType() == jwa.OctetSeq {
			continue
		}
		if use := k.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
			continue
		}

		raw, err := jwk.PublicRawKeyOf(k)
		if err != nil {
			skipped[k.KeyID()] = err
			continue
		}

		var alg string
		if a := k.Algorithm(); a != nil {
			alg = a.String()
		}
		keys[k.KeyID()] = SigningKey{
			KeyID:     k.KeyID(),
			Algorithm: alg,
			Key:       raw,
			FetchedAt: fetchedAt,
		}
	}
	return keys, skipped
}

// classifyFetchFailure names the network failure class for diagnostics.
func classifyFetchFailure(err error) string {
	var (
		dnsErr      *net.DNSError
		netErr      net.Error
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return fetchFailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return fetchFailureTimeout
	case errors.As(err, &dnsErr):
		return fetchFailureDNS
	case errors.As(err, &certErr), errors.As(err, &recordErr),
		errors.As(err, &unknownAuth), errors.As(err, &hostErr):
		return fetchFailureTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return fetchFailureTimeout
	default:
		return fetchFailureTransport
	}
}

// String implements fmt.Stringer for log output.
func (k SigningKey) String() string {
	return fmt.Sprintf("SigningKey{kid=%s alg=%s type=%T fetched=%s}",
		k.KeyID, k.Algorithm, k.Key, k.FetchedAt.Format(time.RFC3339))
}
