package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const serviceName = "streamin-analytics"

func startHealthServer(t *testing.T) (*HealthServer, grpc_health_v1.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewHealthServer(serviceName, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return srv, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	return checkService(t, client, serviceName)
}

func checkService(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServerServing(t *testing.T) {
	srv, client := startHealthServer(t)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client))

	srv.SetServing(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client))
}

func TestHealthServerOverallStatusFollows(t *testing.T) {
	srv, client := startHealthServer(t)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, checkService(t, client, ""))

	srv.SetServing(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, checkService(t, client, ""))

	srv.SetServing(true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, checkService(t, client, ""))
}

type flakyStore struct {
	down atomic.Bool
}

func (f *flakyStore) Ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHealthServerWatchFollowsStore(t *testing.T) {
	srv, client := startHealthServer(t)
	store := &flakyStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watch(ctx, store, 5*time.Millisecond)

	store.down.Store(true)
	assert.Eventually(t, func() bool {
		return check(t, client) == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)

	store.down.Store(false)
	assert.Eventually(t, func() bool {
		return check(t, client) == grpc_health_v1.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := recoveryInterceptor(zap.NewNop())

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Panic"},
		func(context.Context, any) (any, error) { panic("boom") })

	assert.EqualError(t, err, "internal server error")
}
