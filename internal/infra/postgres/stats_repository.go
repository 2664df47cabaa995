package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"math-battle/internal/domain"
)

// StatsRepository keeps player statistics in the player_stats table and
// computes the leaderboard for the cache in front of it.
type StatsRepository struct {
	pool *pgxpool.Pool
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

const statsColumns = `user_id, display_name, total_games, games_won, highest_score,
	average_accuracy, fastest_answer, current_streak, longest_streak, updated_at`

func (r *StatsRepository) Get(ctx context.Context, userID string) (domain.PlayerStats, error) {
	st, err := scanStats(r.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM player_stats WHERE user_id=$1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlayerStats{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}

// Update locks the player's row for the duration of fn so concurrent results
// for the same player fold one after another.
func (r *StatsRepository) Update(ctx context.Context, userID string, fn func(domain.PlayerStats) domain.PlayerStats) (domain.PlayerStats, error) {
	var saved domain.PlayerStats
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO player_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		current, err := scanStats(tx.QueryRow(ctx, `SELECT `+statsColumns+` FROM player_stats WHERE user_id=$1 FOR UPDATE`, userID))
		if err != nil {
			return err
		}
		if current.TotalGames == 0 {
			// Freshly inserted rows carry the column defaults, not a real timestamp.
			current.UpdatedAt = time.Time{}
		}
		next := fn(current)
		next.UserID = userID
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now()
		}
		_, err = tx.Exec(ctx, `
			UPDATE player_stats SET display_name=$2, total_games=$3, games_won=$4, highest_score=$5,
				average_accuracy=$6, fastest_answer=$7, current_streak=$8, longest_streak=$9, updated_at=$10
			WHERE user_id=$1`,
			userID, next.DisplayName, next.TotalGames, next.GamesWon, next.HighestScore,
			next.AverageAccuracy, next.FastestAnswer, next.CurrentStreak, next.LongestStreak, next.UpdatedAt)
		saved = next
		return err
	})
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("update stats: %w", err)
	}
	return saved, nil
}

func (r *StatsRepository) LoadLeaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+statsColumns+` FROM player_stats
		WHERE total_games > 0
		ORDER BY highest_score DESC, games_won DESC, display_name, user_id
		LIMIT $1`, limit)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	board := domain.Leaderboard{Entries: []domain.PlayerStats{}, UpdatedAt: time.Now()}
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		board.Entries = append(board.Entries, st)
	}
	return board, rows.Err()
}

func scanStats(row pgx.Row) (domain.PlayerStats, error) {
	var st domain.PlayerStats
	err := row.Scan(&st.UserID, &st.DisplayName, &st.TotalGames, &st.GamesWon, &st.HighestScore,
		&st.AverageAccuracy, &st.FastestAnswer, &st.CurrentStreak, &st.LongestStreak, &st.UpdatedAt)
	return st, err
}
