package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("session snapshot not found")
	ErrStaleSnapshot  = errors.New("session snapshot is older than stored copy")
	ErrNotInitialized = errors.New("store not initialized")
)

const defaultTTL = 24 * time.Hour

// RedisStore mirrors session snapshots as JSON under arena:game:<id>.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Save writes snap atomically with its indexes. A write that would move a stored
// session backwards (fewer moves, or terminal back to active) is refused.
func (s *RedisStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if s == nil || s.rdb == nil {
		return ErrNotInitialized
	}
	key := gameKey(snap.ID)
	raw, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var cur domain.Snapshot
			if jerr := json.Unmarshal(prev, &cur); jerr == nil {
				if len(cur.MovesUCI) > len(snap.MovesUCI) || (cur.Status.Terminal() && !snap.Status.Terminal()) {
					return ErrStaleSnapshot
				}
			}
		}

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, raw, s.ttl)
		for _, p := range []domain.Participant{snap.White, snap.Black} {
			if p.IsBot() || strings.TrimSpace(p.ID) == "" {
				continue
			}
			pipe.SAdd(ctx, idxUserKey(p.ID), snap.ID)
			pipe.Expire(ctx, idxUserKey(p.ID), s.ttl)
		}
		if snap.Status == domain.StatusActive {
			pipe.SAdd(ctx, activeKey(), snap.ID)
		} else {
			pipe.SRem(ctx, activeKey(), snap.ID)
		}
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("concurrent snapshot write for %s: %w", snap.ID, err)
		}
		return err
	}
	obslog.L().Debug("store_save",
		zap.String("session_id", snap.ID),
		zap.Int("moves", len(snap.MovesUCI)),
		zap.String("status", string(snap.Status)),
	)
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*domain.Snapshot, error) {
	if s == nil || s.rdb == nil {
		return nil, ErrNotInitialized
	}
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// GamesByUser lists stored session ids the user has played in.
func (s *RedisStore) GamesByUser(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return sortedIDs(ids), nil
}

// ActiveIDs lists sessions whose last saved status was Active.
func (s *RedisStore) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeKey()).Result()
	if err != nil {
		return nil, err
	}
	return sortedIDs(ids), nil
}

func gameKey(id string) string        { return "arena:game:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "arena:index:user:" + strings.TrimSpace(userID) }
func activeKey() string               { return "arena:active" }

func parseRedisURL(raw string) (*redis.Options, error) {
	u := strings.TrimSpace(raw)
	if !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
		return nil, fmt.Errorf("unsupported redis url scheme: %s", u)
	}
	return redis.ParseURL(u)
}
