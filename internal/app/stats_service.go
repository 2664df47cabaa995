package app

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// StatsRepository stores per-player aggregates (in-memory, Postgres).
type StatsRepository interface {
	// Get yields domain.ErrPlayerNotFound for players without games.
	Get(ctx context.Context, userID string) (domain.PlayerStats, error)
	// Update applies fn to the stored stats (zero value for new players)
	// atomically and returns what was saved.
	Update(ctx context.Context, userID string, fn func(domain.PlayerStats) domain.PlayerStats) (domain.PlayerStats, error)
}

// LeaderboardRepository serves the top of the player statistics, usually
// from a cache in front of the stats store.
type LeaderboardRepository interface {
	Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error)
	Invalidate(ctx context.Context) error
}

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// StatsService contains the player statistics use cases.
type StatsService struct {
	stats StatsRepository
	board LeaderboardRepository
	clock clockwork.Clock
}

func NewStatsService(stats StatsRepository, board LeaderboardRepository, clock clockwork.Clock) *StatsService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatsService{stats: stats, board: board, clock: clock}
}

// RecordResult folds a finished round into the player's statistics. Results
// are self-reported and taken as given. Guests have nothing to record into.
func (s *StatsService) RecordResult(ctx context.Context, userID, displayName string, res domain.RoundResult, won bool) (domain.PlayerStats, error) {
	if userID == "" || IsGuestID(userID) {
		return domain.PlayerStats{}, domain.ErrUnauthenticated
	}
	now := s.clock.Now()
	stats, err := s.stats.Update(ctx, userID, func(st domain.PlayerStats) domain.PlayerStats {
		st.UserID = userID
		return Fold(st, displayName, res, won, now)
	})
	if err != nil {
		return domain.PlayerStats{}, err
	}
	if err := s.board.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("invalidate leaderboard")
	}
	return stats, nil
}

// Stats returns one player's statistics.
func (s *StatsService) Stats(ctx context.Context, userID string) (domain.PlayerStats, error) {
	return s.stats.Get(ctx, userID)
}

// Leaderboard returns the top players, clamping limit to a sane range.
func (s *StatsService) Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardSize
	case limit > MaxLeaderboardSize:
		limit = MaxLeaderboardSize
	}
	return s.board.Leaderboard(ctx, limit)
}

// DisplayName resolves the name a signed-in player last played under.
func (s *StatsService) DisplayName(ctx context.Context, userID string) (string, error) {
	st, err := s.stats.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return st.DisplayName, nil
}

// Fold adds one game to st. Accuracy is a running mean over games; the
// streak counts consecutive wins.
func Fold(st domain.PlayerStats, displayName string, res domain.RoundResult, won bool, now time.Time) domain.PlayerStats {
	if displayName != "" {
		st.DisplayName = displayName
	}
	st.AverageAccuracy = (st.AverageAccuracy*float64(st.TotalGames) + res.Accuracy) / float64(st.TotalGames+1)
	st.TotalGames++
	if res.Score > st.HighestScore {
		st.HighestScore = res.Score
	}
	if res.FastestAnswer > 0 && (st.FastestAnswer == 0 || res.FastestAnswer < st.FastestAnswer) {
		st.FastestAnswer = res.FastestAnswer
	}
	if won {
		st.GamesWon++
		st.CurrentStreak++
		if st.CurrentStreak > st.LongestStreak {
			st.LongestStreak = st.CurrentStreak
		}
	} else {
		st.CurrentStreak = 0
	}
	st.UpdatedAt = now
	return st
}

// LessForLeaderboard orders players by highest score, then games won, then name.
func LessForLeaderboard(a, b domain.PlayerStats) bool {
	if a.HighestScore != b.HighestScore {
		return a.HighestScore > b.HighestScore
	}
	if a.GamesWon != b.GamesWon {
		return a.GamesWon > b.GamesWon
	}
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.UserID < b.UserID
}

// IsGuestID reports whether id was minted for a guest.
func IsGuestID(id string) bool {
	return strings.HasPrefix(id, domain.GuestIDPrefix)
}
