package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"math-battle/internal/domain"
)

// LeaderboardLoader computes the leaderboard from the stats store.
type LeaderboardLoader interface {
	LoadLeaderboard(ctx context.Context, limit int) (domain.Leaderboard, error)
}

// LeaderboardCache caches leaderboards in Redis (one hash field per size) and
// falls back to a loader on a miss:
//
//	HSET leaderboard {limit} {JSON Leaderboard}
//
// Invalidation drops the whole hash.
type LeaderboardCache struct {
	client *redis.Client
	loader LeaderboardLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

const leaderboardKey = "leaderboard"

func NewLeaderboardCache(client *redis.Client, loader LeaderboardLoader, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	field := strconv.Itoa(limit)
	if board, ok := c.cached(ctx, field); ok {
		return board, nil
	}

	result, err, _ := c.sf.Do(field, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if board, ok := c.cached(ctx, field); ok {
			return board, nil
		}

		board, err := c.loader.LoadLeaderboard(ctx, limit)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		data, err := json.Marshal(board)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, leaderboardKey, field, data)
		if ttl > 0 {
			pipe.Expire(ctx, leaderboardKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, leaderboardKey).Err()
}

func (c *LeaderboardCache) cached(ctx context.Context, field string) (domain.Leaderboard, bool) {
	// Any error, redis.Nil included, degrades to loading from the store.
	raw, err := c.client.HGet(ctx, leaderboardKey, field).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return domain.Leaderboard{}, false
	}
	return board, true
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
