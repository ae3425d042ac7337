package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/soyeahso/daogate/internal/domain"
)

// Default key prefixes.
const (
	DefaultRedisSessionPrefix = "daogate:session:"
	DefaultRedisLockPrefix    = "daogate:lock:"
)

// RedisSessionStore keeps each session as one JSON document.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps sessions forever
}

// NewRedisSessionStore creates a store. An empty prefix uses DefaultRedisSessionPrefix.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultRedisSessionPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}
	return client, nil
}

func (s *RedisSessionStore) key(id string) string { return s.prefix + id }

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "failed to get session")
	}
	return decodeSession(data)
}

// Save writes the session under WATCH so a concurrent writer that shortened
// the stored transcript aborts the transaction.
func (s *RedisSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}
	key := s.key(sess.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			stored, err := decodeSession(current)
			if err != nil {
				return err
			}
			if len(stored.Messages) > len(sess.Messages) {
				return errors.Errorf("session %s: transcript has %d messages but %d are stored",
					sess.ID, len(sess.Messages), len(stored.Messages))
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	return nil
}

func (s *RedisSessionStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan sessions")
	}
	return ids, nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session")
	}
	if sess.ConnectedAccounts == nil {
		sess.ConnectedAccounts = make(map[domain.AccountKind]bool)
	}
	return &sess, nil
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a distributed per-session lock built on SET NX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisLocker creates a locker. ttl bounds how long a crashed holder can
// block a session.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisLockPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, poll: 50 * time.Millisecond}
}

// Lock polls SETNX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, id string) (func(), error) {
	key := l.prefix + id
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "failed to acquire lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	return func() {
		// detached so a cancelled request still releases its lock
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, nil
}
