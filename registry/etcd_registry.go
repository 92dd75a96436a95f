package registry

// etcd works as a distributed phonebook for channels:
//
//	Key:   /maid/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Every entry is bound to a TTL lease kept alive in the background. If the
// process dies the lease expires and the entry disappears with it.

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix is the root of every key the registry writes.
const KeyPrefix = "/maid/"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, so Deregister can revoke it
}

// NewEtcdRegistry connects to the given etcd endpoints. The etcd client logs
// through logger.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]clientv3.LeaseID)}, nil
}

func serviceKey(serviceName, addr string) string {
	return KeyPrefix + serviceName + "/" + addr
}

// Register puts the instance under a fresh lease of ttl seconds and keeps the
// lease alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive the registration call, so it gets its own context.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keep-alive stopped", zap.String("key", key))
	}()

	// Re-registering the same key supersedes the earlier lease; revoking it
	// also ends its keep-alive.
	if old, ok := r.trackLease(key, lease.ID); ok {
		if _, err := r.client.Revoke(ctx, old); err != nil {
			r.logger.Warn("stale lease revoke failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// trackLease records id as the lease of key and returns the lease it
// replaced, if any.
func (r *EtcdRegistry) trackLease(key string, id clientv3.LeaseID) (clientv3.LeaseID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.leases[key]
	r.leases[key] = id
	return old, ok && old != id
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			r.logger.Warn("lease revoke failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Watch re-reads the instance list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := KeyPrefix + serviceName + "/"

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, prefix, clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.Warn("discover after watch event failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Discover returns every registered instance of serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, KeyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Debug("skipping malformed entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops every keep-alive and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
