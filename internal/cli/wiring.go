package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"math-battle/internal/app"
	"math-battle/internal/config"
	"math-battle/internal/infra/memory"
	natsbus "math-battle/internal/infra/nats"
	pgstore "math-battle/internal/infra/postgres"
	redisstore "math-battle/internal/infra/redis"
	"math-battle/internal/lobby"
)

// services is the server side of the game, built from config: Redis when an
// address is set, Postgres when a URL is set, memory for the rest.
type services struct {
	rooms *app.RoomService
	stats *app.StatsService
	pool  *pgxpool.Pool

	closers []func()
}

// lobbyStore backs authenticated lobbies. Lobby records are written by the
// lobby clients themselves, so only in-process clients (simulate) need one;
// the room server never touches them.
func (s *services) lobbyStore() lobby.LobbyStore {
	if s.pool != nil {
		return pgstore.NewLobbyRepository(s.pool)
	}
	return memory.NewLobbyRepository()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	svc := &services{}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		svc.closers = append(svc.closers, pool.Close)
		svc.pool = pool
	}

	var rooms app.RoomStore = memory.NewRoomStore()
	if redisClient != nil {
		rooms = redisstore.NewRoomStore(redisClient, redisTTL)
	}

	var bus app.Bus
	switch driver := cfg.BusDriver(); driver {
	case config.BusMemory:
		b := memory.NewBus(cfg.Bus.Buffer)
		svc.closers = append(svc.closers, func() { _ = b.Close() })
		bus = b
	case config.BusRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bus driver %q needs redis.addr", driver)
		}
		bus = redisstore.NewBus(redisClient, cfg.Bus.Buffer)
	case config.BusNATS:
		natsCfg := natsbus.DefaultConfig()
		if cfg.NATS.URL != "" {
			natsCfg.URL = cfg.NATS.URL
		}
		if cfg.NATS.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = config.TTLDuration(cfg.NATS.ReconnectWait, natsCfg.ReconnectWait)
		natsCfg.Buffer = cfg.Bus.Buffer
		b, err := natsbus.Connect(natsCfg)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { _ = b.Close() })
		bus = b
	default:
		return nil, fmt.Errorf("unknown bus driver %q", driver)
	}
	svc.rooms = app.NewRoomService(rooms, bus, nil)

	boardTTL := config.TTLDuration(cfg.Stats.LeaderboardTTL, 30*time.Second)
	var (
		stats app.StatsRepository
		board app.LeaderboardRepository
	)
	if pool != nil {
		pgStats := pgstore.NewStatsRepository(pool)
		stats = pgStats
		board = memory.NewLeaderboardCache(pgStats, boardTTL)
		if redisClient != nil {
			board = redisstore.NewLeaderboardCache(redisClient, pgStats, boardTTL)
		}
	} else {
		memStats := memory.NewStatsRepository()
		stats = memStats
		board = memory.NewLeaderboardCache(memStats, boardTTL)
		if redisClient != nil {
			board = redisstore.NewLeaderboardCache(redisClient, memStats, boardTTL)
		}
	}
	svc.stats = app.NewStatsService(stats, board, nil)

	log.Info().
		Bool("redis", redisClient != nil).
		Bool("postgres", pool != nil).
		Str("bus", cfg.BusDriver()).
		Msg("services ready")
	ok = true
	return svc, nil
}
