package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"math-battle/internal/domain"
)

// LobbyRepository persists authenticated lobbies in the lobbies and
// lobby_participants tables.
type LobbyRepository struct {
	pool *pgxpool.Pool
}

func NewLobbyRepository(pool *pgxpool.Pool) *LobbyRepository {
	return &LobbyRepository{pool: pool}
}

func (r *LobbyRepository) Create(ctx context.Context, rec domain.LobbyRecord) (domain.LobbyRecord, error) {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return domain.LobbyRecord{}, fmt.Errorf("marshal settings: %w", err)
	}
	if rec.Status == "" {
		rec.Status = domain.LobbyWaiting
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO lobbies (id, code, owner_user_id, status, settings)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (code) DO NOTHING
		RETURNING created_at`,
		rec.ID, rec.Code, rec.OwnerID, string(rec.Status), string(settings),
	).Scan(&rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LobbyRecord{}, domain.ErrRoomExists
	}
	if err != nil {
		return domain.LobbyRecord{}, fmt.Errorf("create lobby: %w", err)
	}
	return rec, nil
}

func (r *LobbyRepository) GetByCode(ctx context.Context, code string) (domain.LobbyRecord, error) {
	var (
		rec      domain.LobbyRecord
		status   string
		settings []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, owner_user_id, status, settings, seed, start_time, created_at
		FROM lobbies WHERE code=$1`, code,
	).Scan(&rec.ID, &rec.Code, &rec.OwnerID, &status, &settings, &rec.Seed, &rec.StartTime, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LobbyRecord{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.LobbyRecord{}, fmt.Errorf("load lobby: %w", err)
	}
	rec.Status = domain.LobbyStatus(status)
	if err := json.Unmarshal(settings, &rec.Settings); err != nil {
		return domain.LobbyRecord{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return rec, nil
}

func (r *LobbyRepository) AddParticipant(ctx context.Context, lobbyID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO lobby_participants (lobby_id, user_id)
		SELECT id, $2 FROM lobbies WHERE id=$1
		ON CONFLICT (lobby_id, user_id) DO NOTHING`, lobbyID, userID)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either a repeat join or a missing lobby; only the latter is an error.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lobbies WHERE id=$1)`, lobbyID).Scan(&exists); err != nil {
			return fmt.Errorf("check lobby: %w", err)
		}
		if !exists {
			return domain.ErrLobbyNotFound
		}
	}
	return nil
}

func (r *LobbyRepository) RemoveParticipant(ctx context.Context, lobbyID, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM lobby_participants WHERE lobby_id=$1 AND user_id=$2`, lobbyID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (r *LobbyRepository) MarkStarting(ctx context.Context, lobbyID, seed string, startTime int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lobbies SET status=$2, seed=$3, start_time=$4 WHERE id=$1`,
		lobbyID, string(domain.LobbyStarting), seed, startTime)
	if err != nil {
		return fmt.Errorf("mark lobby starting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLobbyNotFound
	}
	return nil
}

// Delete removes the lobby; participants go with it through the foreign key.
func (r *LobbyRepository) Delete(ctx context.Context, lobbyID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM lobbies WHERE id=$1`, lobbyID); err != nil {
		return fmt.Errorf("delete lobby: %w", err)
	}
	return nil
}

// Participants lists the user ids recorded for a lobby in join order.
func (r *LobbyRepository) Participants(ctx context.Context, lobbyID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM lobby_participants
		WHERE lobby_id=$1 ORDER BY joined_at, user_id`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
