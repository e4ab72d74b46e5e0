package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

// KV is the durable key-value port the queue persists through. Load
// returns nil, nil for a missing key.
type KV interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// FileKV stores each key as a file under Dir.
type FileKV struct {
	Dir string
}

func (f FileKV) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, key)
	return filepath.Join(f.Dir, safe+".json")
}

func (f FileKV) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load %s: %w", key, err)
	}
	return data, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// half-written queue.
func (f FileKV) Save(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return fmt.Errorf("queue: save %s: %w", key, err)
	}
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return fmt.Errorf("queue: save %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("queue: save %s: %w", key, err)
	}
	return nil
}

// redisClient is the subset of *redis.Client used by RedisKV.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisKV stores keys in Redis.
type RedisKV struct {
	client redisClient
}

// NewRedisKV connects to a Redis server.
func NewRedisKV(addr string) *RedisKV {
	return &RedisKV{client: redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 10 * time.Second,
	})}
}

func (r *RedisKV) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Save(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("queue: redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisKV) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}

// natsBucket is the subset of jetstream.KeyValue used by NATSKV.
type natsBucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// NATSKV stores keys in a JetStream key-value bucket.
type NATSKV struct {
	bucket natsBucket
	conn   *nats.Conn
}

// NewNATSKV connects to NATS and opens (or creates) the bucket.
func NewNATSKV(ctx context.Context, url, bucket string) (*NATSKV, error) {
	nc, err := nats.Connect(url, nats.Name("cohost-queue"))
	if err != nil {
		return nil, fmt.Errorf("queue: nats connect %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: jetstream: %w", err)
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if errors.Is(err, jetstream.ErrBucketExists) {
		kv, err = js.KeyValue(ctx, bucket)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: open bucket %s: %w", bucket, err)
	}
	return &NATSKV{bucket: kv, conn: nc}, nil
}

func (n *NATSKV) Load(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.bucket.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: nats get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (n *NATSKV) Save(ctx context.Context, key string, value []byte) error {
	if _, err := n.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("queue: nats put %s: %w", key, err)
	}
	return nil
}

// Close drains the NATS connection.
func (n *NATSKV) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
