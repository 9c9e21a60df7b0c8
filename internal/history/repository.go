package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository persists history entries by scope key.
type Repository interface {
	Load(ctx context.Context, scope Scope) (*Entry, error)
	Save(ctx context.Context, scope Scope, entry *Entry) error
}

// RedisRepository stores each entry as a JSON blob under its scope key and
// refreshes the TTL on read.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Load(ctx context.Context, scope Scope) (*Entry, error) {
	data, err := r.client.Get(ctx, scope.Key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Entry{}, nil
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	r.client.Expire(ctx, scope.Key(), r.ttl)
	return &entry, nil
}

func (r *RedisRepository) Save(ctx context.Context, scope Scope, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, scope.Key(), data, r.ttl).Err()
}

// MemoryRepository keeps entries in a map. Used by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*Entry)}
}

func (r *MemoryRepository) Load(ctx context.Context, scope Scope) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[scope.Key()]
	if !ok {
		return &Entry{}, nil
	}
	cp := Entry{Turns: append([]Turn(nil), entry.Turns...)}
	return &cp, nil
}

func (r *MemoryRepository) Save(ctx context.Context, scope Scope, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := Entry{Turns: append([]Turn(nil), entry.Turns...)}
	r.entries[scope.Key()] = &cp
	return nil
}
