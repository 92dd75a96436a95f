package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("MAID_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("MAID_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 2*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reg.Close()
	ctx := context.Background()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Codec: "proto", Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Codec: "proto", Version: "1.0"}
	require.NoError(t, reg.Register(ctx, "Arith", inst1, 10))
	require.NoError(t, reg.Register(ctx, "Arith", inst2, 10))

	instances, err := reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "Arith", inst1.Addr))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)

	reg.Deregister(ctx, "Arith", inst2.Addr)
}

func TestTrackLeaseReturnsSuperseded(t *testing.T) {
	r := &EtcdRegistry{leases: make(map[string]clientv3.LeaseID)}
	key := serviceKey("Echo", "127.0.0.1:9000")

	_, ok := r.trackLease(key, 1)
	assert.False(t, ok)

	old, ok := r.trackLease(key, 2)
	require.True(t, ok)
	assert.Equal(t, clientv3.LeaseID(1), old)
	assert.Equal(t, clientv3.LeaseID(2), r.leases[key])
	assert.Len(t, r.leases, 1)
}

func TestEtcdReRegisterRevokesOldLease(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 2*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reg.Close()
	ctx := context.Background()

	inst := ServiceInstance{Addr: "127.0.0.1:8003", Codec: "proto"}
	require.NoError(t, reg.Register(ctx, "Echo", inst, 10))
	first := reg.leases[serviceKey("Echo", inst.Addr)]
	require.NoError(t, reg.Register(ctx, "Echo", inst, 10))

	ttl, err := reg.client.TimeToLive(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl.TTL, "superseded lease must be revoked")

	instances, err := reg.Discover(ctx, "Echo")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
	require.NoError(t, reg.Deregister(ctx, "Echo", inst.Addr))
}

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, "Echo")
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: "127.0.0.1:9002"}, 10))
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: "127.0.0.1:9001"}, 10))

	instances, err := reg.Discover(ctx, "Echo")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "127.0.0.1:9001", instances[0].Addr)

	// Only the latest list is kept for a slow watcher.
	select {
	case got := <-updates:
		assert.Len(t, got, 2)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	require.NoError(t, reg.Deregister(ctx, "Echo", "127.0.0.1:9001"))
	assert.Len(t, <-updates, 1)

	empty, err := reg.Discover(ctx, "Nope")
	require.NoError(t, err)
	assert.Empty(t, empty)

	cancel()
	_, open := <-updates
	assert.False(t, open)
}
