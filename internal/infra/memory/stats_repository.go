package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"math-battle/internal/app"
	"math-battle/internal/domain"
)

// StatsRepository keeps player statistics in memory. It also serves as the
// leaderboard loader behind a cache.
type StatsRepository struct {
	mu    sync.RWMutex
	stats map[string]domain.PlayerStats
	now   func() time.Time
}

func NewStatsRepository() *StatsRepository {
	return &StatsRepository{
		stats: make(map[string]domain.PlayerStats),
		now:   time.Now,
	}
}

func (r *StatsRepository) Get(_ context.Context, userID string) (domain.PlayerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stats[userID]
	if !ok {
		return domain.PlayerStats{}, domain.ErrPlayerNotFound
	}
	return st, nil
}

func (r *StatsRepository) Update(_ context.Context, userID string, fn func(domain.PlayerStats) domain.PlayerStats) (domain.PlayerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := fn(r.stats[userID])
	st.UserID = userID
	r.stats[userID] = st
	return st, nil
}

func (r *StatsRepository) LoadLeaderboard(_ context.Context, limit int) (domain.Leaderboard, error) {
	r.mu.RLock()
	entries := make([]domain.PlayerStats, 0, len(r.stats))
	for _, st := range r.stats {
		entries = append(entries, st)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return app.LessForLeaderboard(entries[i], entries[j])
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return domain.Leaderboard{Entries: entries, UpdatedAt: r.now()}, nil
}
