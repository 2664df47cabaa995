package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"math-battle/internal/domain"
)

// LeaderboardLoader computes the leaderboard from the stats store.
type LeaderboardLoader interface {
	LoadLeaderboard(ctx context.Context, limit int) (domain.Leaderboard, error)
}

// LeaderboardCache caches leaderboards per size with TTL to avoid repeated
// scans of the stats store.
type LeaderboardCache struct {
	loader LeaderboardLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[int]cachedBoard
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewLeaderboardCache(loader LeaderboardLoader, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedBoard),
	}
}

func (c *LeaderboardCache) Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	if board, ok := c.lookup(limit); ok {
		return board, nil
	}

	result, err, _ := c.sf.Do(strconv.Itoa(limit), func() (interface{}, error) {
		if board, ok := c.lookup(limit); ok {
			return board, nil
		}
		board, err := c.loader.LoadLeaderboard(ctx, limit)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		expiresAt := c.clock().Add(c.ttlWithJitter())
		c.mu.Lock()
		c.cache[limit] = cachedBoard{board: board, expiresAt: expiresAt}
		c.mu.Unlock()
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

// Invalidate forgets every cached leaderboard.
func (c *LeaderboardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[int]cachedBoard)
	return nil
}

func (c *LeaderboardCache) lookup(limit int) (domain.Leaderboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[limit]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Leaderboard{}, false
	}
	return entry.board, true
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
