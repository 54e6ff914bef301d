// Package redis provides a Redis-backed document store. Each domain document is
// a hash holding its version and encoded payload; compare-and-swap runs under
// WATCH/MULTI so concurrent writers to the same key fail optimistically.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"specsync/pkg/domain"
)

var (
	casDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "specsync_redis_cas_duration_ms",
		Help:    "Latency of document compare-and-swap against Redis in milliseconds",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
	})
)

const (
	defaultKeyPrefix = "specsync:doc:"
	fieldVersion     = "version"
	fieldPayload     = "payload"
)

var _ domain.DocumentStore = (*Store)(nil)

// Store keeps documents in Redis hashes.
type Store struct {
	client *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key prefix (default "specsync:doc:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New parses url, connects and pings the server.
func New(ctx context.Context, url string, opts ...Option) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url required")
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client. The caller keeps ownership unless Close is called.
func NewWithClient(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Key returns the hash key for d.
func (s *Store) Key(d domain.Domain) string { return s.prefix + string(d) }

// Close closes the Redis connection.
func (s *Store) Close() error { return s.client.Close() }

// Load returns the stored document for d.
func (s *Store) Load(ctx context.Context, d domain.Domain) (domain.StoredDocument, error) {
	vals, err := s.client.HMGet(ctx, s.Key(d), fieldVersion, fieldPayload).Result()
	if err != nil {
		return domain.StoredDocument{}, fmt.Errorf("load %s: %w", d, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return domain.StoredDocument{}, domain.ErrNotFound
	}
	payload, _ := vals[1].(string)
	version, err := domain.PeekVersion([]byte(payload))
	if err != nil {
		return domain.StoredDocument{}, fmt.Errorf("load %s: %w", d, err)
	}
	return domain.StoredDocument{Data: []byte(payload), Version: version}, nil
}

func (s *Store) currentVersion(ctx context.Context, cmd redis.Cmdable, key string) (int64, error) {
	v, err := cmd.HGet(ctx, key, fieldVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// CompareAndSwap writes data if the stored version equals expected.
func (s *Store) CompareAndSwap(ctx context.Context, d domain.Domain, expected int64, data []byte) error {
	start := time.Now()
	defer func() {
		casDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	next, err := domain.PeekVersion(data)
	if err != nil {
		return fmt.Errorf("cas %s: %w", d, err)
	}
	key := s.Key(d)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expected {
			return &domain.ConflictError{Domain: d, Expected: expected, Current: current}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVersion, next, fieldPayload, data)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		current, _ := s.currentVersion(ctx, s.client, key)
		return &domain.ConflictError{Domain: d, Expected: expected, Current: current}
	default:
		return fmt.Errorf("cas %s: %w", d, err)
	}
}
