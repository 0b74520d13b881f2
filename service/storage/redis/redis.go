package redis

import (
	"context"
	"strings"
	"time"

	"ticketchat/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// getter is the slice of the redis client the credential store needs.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// CredentialStore reads the session token the login flow keeps in redis.
type CredentialStore struct {
	rdb   getter
	key   string
	close func() error
}

// Dial connects and pings redis, then returns a store reading key.
func Dial(ctx context.Context, c Config, key string) (*CredentialStore, error) {
	if c.Addr == "" {
		return nil, errs.ErrInvalidConfig.WrapMsg("redis addr is empty")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}

	s := NewCredentialStore(rdb, key)
	s.close = rdb.Close
	return s, nil
}

func NewCredentialStore(rdb getter, key string) *CredentialStore {
	return &CredentialStore{rdb: rdb, key: key}
}

// Token returns the stored token; a missing key is ErrCredentialMissing.
func (s *CredentialStore) Token(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errs.ErrCredentialMissing.WrapMsg("redis key not found", "key", s.key)
	}
	if err != nil {
		return "", errs.WrapMsg(err, "redis get", "key", s.key)
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", errs.ErrCredentialMissing.WrapMsg("redis key is empty", "key", s.key)
	}
	return val, nil
}

// Close 关闭连接
func (s *CredentialStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
