// Package auth implements bearer-token authorization for API requests.
//
// An [Authorizer] turns a compact JWT into an [AuthorizationContext] by
// running four stages, each of which denies on failure:
//
//  1. [Decode] splits the token and parses its header without trusting it.
//  2. [KeyResolver] returns the signing key for the header kid, fetching
//     the configured JWKS document on cache misses. Concurrent misses for
//     one kid share a single fetch.
//  3. [Verifier] checks the signature and then the exp, nbf, iss and aud
//     claims.
//  4. [BuildContext] projects the verified tenant and permissions into the
//     flat context handed to request handlers.
//
// Every failure is an *errors.Error whose code names the stage's error
// kind; callers that only need allow/deny can treat any non-nil error as a
// deny. Transport adapters ([HTTPMiddleware], [UnaryServerInterceptor],
// [StreamServerInterceptor]) never reveal the code or message to clients.
//
// # Usage
//
//	authz, err := auth.NewAuthorizer(auth.Config{
//	    Issuer:   "https://idp.example/",
//	    Audience: "api://app",
//	    JWKSURL:  "https://idp.example/.well-known/jwks.json",
//	})
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/api/", auth.HTTPMiddleware(authz)(apiHandler))
//
// # Thread Safety
//
// An Authorizer is safe for concurrent use. Create one per process and
// share it; its key cache is the only mutable state.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/authorizer/pkg/auth"

// Pipeline stages, reported in deny logs and on the auth.Authorize span.
const (
	StageDecode  = "decode"
	StageResolve = "resolve"
	StageVerify  = "verify"
	StageBuild   = "build"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures an [Authorizer] or [KeyResolver].
type Option func(*options)

type options struct {
	logger     *slog.Logger
	now        func() time.Time
	httpClient HTTPClient
	tracer     trace.Tracer
}

// WithLogger sets the logger used for deny and key-fetch logs. Defaults to
// [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source used for claim validation and cache
// expiry. Defaults to [time.Now].
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHTTPClient sets the client used to fetch the key set. It overrides
// Config.HTTPClient.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func buildOptions(cfg Config, opts []Option) options {
	o := options{
		logger:     slog.Default(),
		now:        time.Now,
		httpClient: cfg.HTTPClient,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return o
}

// ---------------------------------------------------------------------------
// Authorizer
// ---------------------------------------------------------------------------

// Authorizer runs the decode, resolve, verify and build pipeline.
type Authorizer struct {
	resolver *KeyResolver
	verifier *Verifier
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// NewAuthorizer validates cfg and returns a ready Authorizer. Zero-valued
// optional fields take their defaults; see [DefaultConfig].
func NewAuthorizer(cfg Config, opts ...Option) (*Authorizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(cfg, opts)
	return &Authorizer{
		resolver: NewKeyResolver(cfg, opts...),
		verifier: NewVerifier(cfg),
		logger:   o.logger,
		now:      o.now,
		tracer:   o.tracer,
	}, nil
}

// Resolver returns the key resolver backing a.
func (a *Authorizer) Resolver() *KeyResolver {
	return a.resolver
}

// Authorize verifies token and returns the authorization context it grants.
// Any returned error means the request must be denied; it is an
// *errors.Error carrying the failing stage's code.
func (a *Authorizer) Authorize(ctx context.Context, token string) (AuthorizationContext, error) {
	ctx, span := startSpan(ctx, a.tracer, "auth.Authorize")
	defer span.End()

	authz, stage, kid, err := a.authorize(ctx, token)
	if err != nil {
		coded := sserr.FromError(err)
		span.SetAttributes(attribute.String("auth.stage", stage))
		finishSpan(span, coded)
		a.logDenial(ctx, coded, stage, kid)
		return AuthorizationContext{}, coded
	}

	span.SetAttributes(attribute.String("auth.tenant", authz.AuthorizedTenant))
	return authz, nil
}

func (a *Authorizer) authorize(ctx context.Context, token string) (authz AuthorizationContext, stage, kid string, err error) {
	tok, err := Decode(token)
	if err != nil {
		return authz, StageDecode, "", err
	}
	kid = tok.KeyID()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("auth.kid", kid),
		attribute.String("auth.alg", tok.Algorithm()),
	)

	key, err := a.resolver.Resolve(ctx, kid)
	if err != nil {
		return authz, StageResolve, kid, err
	}

	claims, err := a.verifier.Verify(tok, key, a.now())
	if err != nil {
		return authz, StageVerify, kid, err
	}

	authz, err = BuildContext(claims)
	if err != nil {
		return authz, StageBuild, kid, err
	}
	return authz, "", kid, nil
}

func (a *Authorizer) logDenial(ctx context.Context, err *sserr.Error, stage, kid string) {
	attrs := []any{
		"code", err.Code,
		"kind", err.Kind(),
		"stage", stage,
		"error", err.Error(),
	}
	if kid != "" {
		attrs = append(attrs, "kid", kid)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	if failure, ok := err.Detail(detailFetchFailure); ok {
		attrs = append(attrs, "fetch_failure", failure)
	}
	a.logger.WarnContext(ctx, "auth: request denied", attrs...)
}

// ---------------------------------------------------------------------------
// Tracing helpers
// ---------------------------------------------------------------------------

// startSpan starts a new OpenTelemetry span with the given name.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on the span and marks it failed. A nil err is a
// no-op; the caller still ends the span.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
