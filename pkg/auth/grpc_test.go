package auth

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/StricklySoft/authorizer/internal/testutil"
	"github.com/StricklySoft/authorizer/internal/testutil/fixtures"
)

// ---------------------------------------------------------------------------
// Interceptors called directly
// ---------------------------------------------------------------------------

func TestUnaryServerInterceptor_StoresAuthorization(t *testing.T) {
	t.Parallel()
	k1 := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	srv := testutil.NewJWKSServer(t, k1)
	a := newTestAuthorizer(t, srv, nil)
	interceptor := UnaryServerInterceptor(a)

	token := k1.Sign(t, testutil.ValidClaims(time.Now()))
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"authorization", "Bearer "+token,
		"x-request-id", "req-7",
	))

	var got AuthorizationContext
	var reqID string
	resp, err := interceptor(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/svc/Method"},
		func(ctx context.Context, req any) (any, error) {
			got, _ = AuthorizationFromContext(ctx)
			reqID = RequestIDFromContext(ctx)
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, AuthorizationContext{AuthorizedTenant: "acme", AuthorizedPermissions: "read,write"}, got)
	assert.Equal(t, "req-7", reqID)
}

func TestUnaryServerInterceptor_Denies(t *testing.T) {
	t.Parallel()
	k1 := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	srv := testutil.NewJWKSServer(t, k1)
	a := newTestAuthorizer(t, srv, nil)
	interceptor := UnaryServerInterceptor(a)
	expired := testutil.ValidClaims(time.Now())
	expired["exp"] = time.Now().Unix() - 1

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "no metadata", ctx: context.Background()},
		{name: "no authorization", ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs("x", "y"))},
		{name: "expired", ctx: metadata.NewIncomingContext(context.Background(),
			metadata.Pairs("authorization", "Bearer "+k1.Sign(t, expired)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			called := false
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{},
				func(context.Context, any) (any, error) {
					called = true
					return nil, nil
				})
			require.Error(t, err)
			assert.False(t, called)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, codes.Unauthenticated, st.Code())
			assert.Equal(t, "unauthorized", st.Message())
		})
	}
}

// fakeServerStream is a grpc.ServerStream with a fixed context.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	t.Parallel()
	k1 := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	srv := testutil.NewJWKSServer(t, k1)
	a := newTestAuthorizer(t, srv, nil)
	interceptor := StreamServerInterceptor(a)
	token := k1.Sign(t, testutil.ValidClaims(time.Now()))

	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+token))}
	var got AuthorizationContext
	err := interceptor(nil, ss, &grpc.StreamServerInfo{}, func(_ any, stream grpc.ServerStream) error {
		got, _ = AuthorizationFromContext(stream.Context())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, fixtures.Tenant, got.AuthorizedTenant)

	denied := &fakeServerStream{ctx: context.Background()}
	err = interceptor(nil, denied, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error {
		t.Fatal("handler must not run on deny")
		return nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

// ---------------------------------------------------------------------------
// End to end over bufconn
// ---------------------------------------------------------------------------

func TestInterceptors_OverBufconn(t *testing.T) {
	t.Parallel()
	k1 := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	jwks := testutil.NewJWKSServer(t, k1)
	a := newTestAuthorizer(t, jwks, nil)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryServerInterceptor(a)),
		grpc.StreamInterceptor(StreamServerInterceptor(a)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, "authorization",
		"Bearer "+k1.Sign(t, testutil.ValidClaims(time.Now())))
	resp, err := client.Check(authed, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	stream, err = client.Watch(authed, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	update, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, update.GetStatus())
}
