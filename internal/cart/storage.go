package cart

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNoData is returned by Storage.Read when nothing is stored under a key.
var ErrNoData = errors.New("no data stored")

// Storage is the durable client-side store the cart is persisted to.
type Storage interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
}

type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string][]byte)}
}

func (s *MemoryStorage) Read(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[key]
	if !ok {
		return nil, ErrNoData
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStorage) Write(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// FileStorage keeps one JSON file per key inside Dir.
type FileStorage struct {
	Dir string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{Dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.Dir, strings.ReplaceAll(key, string(os.PathSeparator), "_")+".json")
}

func (s *FileStorage) Read(key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoData
	}
	return b, err
}

// Write replaces the file atomically through a rename.
func (s *FileStorage) Write(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.Dir, ".cart-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

func (s *FileStorage) Delete(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RedisStorage stores carts in Redis under Namespace, so a cart can follow
// a user across devices sharing the same Redis.
type RedisStorage struct {
	Client    *redis.Client
	Namespace string
	Timeout   time.Duration
}

func NewRedisStorage(client *redis.Client, namespace string) *RedisStorage {
	if namespace == "" {
		namespace = "hyperlocal:cart"
	}
	return &RedisStorage{Client: client, Namespace: namespace, Timeout: 2 * time.Second}
}

func (s *RedisStorage) key(k string) string { return s.Namespace + ":" + k }

func (s *RedisStorage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.Timeout)
}

func (s *RedisStorage) Read(key string) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	b, err := s.Client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoData
	}
	return b, err
}

func (s *RedisStorage) Write(key string, data []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Set(ctx, s.key(key), data, 0).Err()
}

func (s *RedisStorage) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Del(ctx, s.key(key)).Err()
}
