package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredSession is what survives between app launches: the identity a
// one-time link supplied, persisted under three fixed keys. Role is not
// stored; it comes out of the token when the session is re-opened.
type StoredSession struct {
	RestaurantID uint
	UserID       uint
	Token        string
}

// SessionStore is the persistence capability the coordinator consumes.
// Get returns ErrNoSession when nothing is persisted.
type SessionStore interface {
	Get(ctx context.Context) (StoredSession, error)
	Set(ctx context.Context, s StoredSession) error
	Clear(ctx context.Context) error
}

// ErrNoSession means the store holds no persisted session.
var ErrNoSession = errors.New("no persisted session")

// The three fixed key names a session is stored under.
const (
	keyRestaurantID = "restaurant_id"
	keyUserID       = "user_id"
	keyToken        = "token"
)

// RedisStore persists sessions in Redis, namespaced per device/session
// name so several terminals can share one instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store writing under "session:<name>:*".
func NewRedisStore(client *redis.Client, name string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "session:" + name + ":", ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context) (StoredSession, error) {
	vals, err := s.client.MGet(ctx,
		s.prefix+keyRestaurantID,
		s.prefix+keyUserID,
		s.prefix+keyToken,
	).Result()
	if err != nil {
		return StoredSession{}, fmt.Errorf("session store get: %w", err)
	}
	strs := make([]string, 3)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok || str == "" {
			return StoredSession{}, ErrNoSession
		}
		strs[i] = str
	}
	rid, err := strconv.ParseUint(strs[0], 10, 32)
	if err != nil {
		return StoredSession{}, fmt.Errorf("session store: bad restaurant id %q", strs[0])
	}
	uid, err := strconv.ParseUint(strs[1], 10, 32)
	if err != nil {
		return StoredSession{}, fmt.Errorf("session store: bad user id %q", strs[1])
	}
	return StoredSession{
		RestaurantID: uint(rid),
		UserID:       uint(uid),
		Token:        strs[2],
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, sess StoredSession) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+keyRestaurantID, strconv.FormatUint(uint64(sess.RestaurantID), 10), s.ttl)
	pipe.Set(ctx, s.prefix+keyUserID, strconv.FormatUint(uint64(sess.UserID), 10), s.ttl)
	pipe.Set(ctx, s.prefix+keyToken, sess.Token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session store set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	err := s.client.Del(ctx,
		s.prefix+keyRestaurantID,
		s.prefix+keyUserID,
		s.prefix+keyToken,
	).Err()
	if err != nil {
		return fmt.Errorf("session store clear: %w", err)
	}
	return nil
}

// MemoryStore is an in-process SessionStore for tests and for clients
// run without a Redis instance.
type MemoryStore struct {
	mu   sync.Mutex
	sess *StoredSession
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get(ctx context.Context) (StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return StoredSession{}, ErrNoSession
	}
	return *m.sess, nil
}

func (m *MemoryStore) Set(ctx context.Context, s StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = &s
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}
