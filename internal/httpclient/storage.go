package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileStorage keeps one file per cache key under a directory.
type FileStorage struct {
	dir string
	// Now is injected for testability.
	Now func() time.Time
}

type fileEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewFileStorage creates dir if needed and returns a storage rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStorage{dir: dir, Now: time.Now}, nil
}

// Get returns the value for key unless it is missing or expired.
func (s *FileStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if !entry.ExpiresAt.IsZero() && !s.Now().Before(entry.ExpiresAt) {
		_ = os.Remove(s.path(key))
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Set writes the value atomically. A ttl of zero never expires.
func (s *FileStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.Now().Add(ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// RedisStorage keeps cache entries in Redis so several runners can share them.
type RedisStorage struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStorage wraps client. Keys are prefixed with namespace.
func NewRedisStorage(client redis.UniversalClient, namespace string) *RedisStorage {
	if namespace == "" {
		namespace = "pr-metrics"
	}
	return &RedisStorage{client: client, namespace: namespace}
}

// Get returns the value for key, reporting a miss for absent or expired keys.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set stores the value with ttl; zero means no expiry.
func (s *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) key(key string) string {
	return s.namespace + ":http-cache:" + key
}
