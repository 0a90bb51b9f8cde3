package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataAuthorization is the gRPC metadata key for the bearer token.
// Metadata keys are lower-cased by grpc-go.
const metadataAuthorization = "authorization"

// metadataRequestID carries a caller-supplied request ID.
const metadataRequestID = "x-request-id"

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authorizes the bearer token in the incoming "authorization" metadata.
//
// On allow, the handler's context carries the [AuthorizationContext]. On
// deny, the interceptor returns codes.Unauthenticated with a fixed message.
func UnaryServerInterceptor(a *Authorizer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authorizeGRPC(ctx, a)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor with the
// same behavior as [UnaryServerInterceptor]. The stream is wrapped so the
// handler sees the enriched context.
func StreamServerInterceptor(a *Authorizer) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authorizeGRPC(ss.Context(), a)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// authorizeGRPC reads the bearer token from incoming metadata and runs it
// through a. Missing metadata is treated as an empty token.
func authorizeGRPC(ctx context.Context, a *Authorizer) (context.Context, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataAuthorization); len(vals) > 0 {
			token = ExtractBearerToken(vals[0])
		}
		if ids := md.Get(metadataRequestID); len(ids) > 0 && ids[0] != "" && RequestIDFromContext(ctx) == "" {
			ctx = ContextWithRequestID(ctx, ids[0])
		}
	}

	authz, err := a.Authorize(ctx, token)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, msgUnauthorized)
	}
	return ContextWithAuthorization(ctx, authz), nil
}

// wrappedServerStream overrides Context so stream handlers see the
// authorization added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
