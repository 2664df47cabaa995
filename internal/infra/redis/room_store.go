package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"math-battle/internal/domain"
)

// RoomStore keeps rooms in Redis so every server instance sees the same
// presence. Layout:
//
//	room:{name}          JSON RoomInfo
//	room:{name}:members  HSET {participantID} {JSON Participant}
//
// Both keys expire after ttl so abandoned rooms clean themselves up.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{client: client, ttl: ttl}
}

func (s *RoomStore) Create(ctx context.Context, info domain.RoomInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.infoKey(info.Name), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, room string) (domain.RoomInfo, error) {
	raw, err := s.client.Get(ctx, s.infoKey(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RoomInfo{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomInfo{}, fmt.Errorf("get room: %w", err)
	}
	var info domain.RoomInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.RoomInfo{}, fmt.Errorf("decode room: %w", err)
	}
	return info, nil
}

// SetStatus rewrites the room record under WATCH so concurrent writers
// cannot lose each other's update.
func (s *RoomStore) SetStatus(ctx context.Context, room string, status domain.RoomStatus) error {
	key := s.infoKey(room)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		var info domain.RoomInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("decode room: %w", err)
		}
		info.Status = status
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

func (s *RoomStore) AddMember(ctx context.Context, room string, p domain.Participant) error {
	exists, err := s.client.Exists(ctx, s.infoKey(room)).Result()
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if exists == 0 {
		return domain.ErrRoomNotFound
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	added, err := s.client.HSetNX(ctx, s.membersKey(room), p.ID, data).Result()
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if !added {
		return domain.ErrAlreadyInRoom
	}
	if s.ttl > 0 {
		pipe := s.client.Pipeline()
		pipe.Expire(ctx, s.membersKey(room), s.ttl)
		pipe.Expire(ctx, s.infoKey(room), s.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, room, id string) (bool, error) {
	n, err := s.client.HDel(ctx, s.membersKey(room), id).Result()
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return n > 0, nil
}

func (s *RoomStore) Members(ctx context.Context, room string) ([]domain.Participant, error) {
	raw, err := s.client.HGetAll(ctx, s.membersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members := make([]domain.Participant, 0, len(raw))
	for _, v := range raw {
		var p domain.Participant
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode member: %w", err)
		}
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinOrder != members[j].JoinOrder {
			return members[i].JoinOrder < members[j].JoinOrder
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

func (s *RoomStore) Delete(ctx context.Context, room string) error {
	return s.client.Del(ctx, s.infoKey(room), s.membersKey(room)).Err()
}

func (s *RoomStore) infoKey(room string) string {
	return "room:" + room
}

func (s *RoomStore) membersKey(room string) string {
	return "room:" + room + ":members"
}
