package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"math-battle/internal/app"
	"math-battle/internal/domain"
	natsbus "math-battle/internal/infra/nats"
	pgstore "math-battle/internal/infra/postgres"
	pgmigrations "math-battle/internal/infra/postgres/migrations"
	infraredis "math-battle/internal/infra/redis"
	"math-battle/internal/lobby"
	"math-battle/internal/transport/local"
)

func TestLobbyAndStatsOnPostgresAndRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateUp(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	lobbies := pgstore.NewLobbyRepository(pool)
	statsRepo := pgstore.NewStatsRepository(pool)
	stats := app.NewStatsService(statsRepo, infraredis.NewLeaderboardCache(redisClient, statsRepo, time.Minute), nil)
	rooms := app.NewRoomService(
		infraredis.NewRoomStore(redisClient, 5*time.Minute),
		infraredis.NewBus(redisClient, 32),
		nil,
	)

	newClient := func(userID string) *lobby.Client {
		c, err := lobby.NewClient(lobby.Options{
			Transport: local.New(rooms),
			Identity:  lobby.StaticIdentity{UserID: userID},
			Lobbies:   lobbies,
			Profiles:  stats,
			Countdown: time.Second,
		})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		t.Cleanup(func() { _ = c.Close(context.Background()) })
		return c
	}

	owner := newClient("u1")
	code, err := owner.CreateLobby(ctx)
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if err := newClient("u2").JoinLobby(ctx, code); err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	rec, err := lobbies.GetByCode(ctx, code)
	if err != nil {
		t.Fatalf("get lobby: %v", err)
	}
	if err := lobbies.AddParticipant(ctx, rec.ID, "u2"); err != nil {
		t.Fatalf("repeat add should be idempotent: %v", err)
	}
	ids, err := lobbies.Participants(ctx, rec.ID)
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected 2 participants, got %v %v", ids, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(owner.State().Participants) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("owner never saw the second player")
		}
		time.Sleep(20 * time.Millisecond)
	}
	sig, err := owner.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, _ = lobbies.GetByCode(ctx, code)
	if rec.Status != domain.LobbyStarting || rec.Seed != sig.Seed {
		t.Fatalf("lobby not marked starting: %+v", rec)
	}

	for _, r := range []struct {
		user  string
		name  string
		score int
		won   bool
	}{{"u1", "Ada", 14, true}, {"u2", "Bo", 9, false}, {"u2", "Bo", 17, true}} {
		if _, err := stats.RecordResult(ctx, r.user, r.name, domain.RoundResult{Score: r.score, Accuracy: 75}, r.won); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	board, err := stats.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 2 || board.Entries[0].UserID != "u2" || board.Entries[0].TotalGames != 2 {
		t.Fatalf("expected Bo leading with 2 games, got %+v", board.Entries)
	}
	if name, _ := stats.DisplayName(ctx, "u1"); name != "Ada" {
		t.Fatalf("expected profile name Ada, got %q", name)
	}

	if err := owner.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := lobbies.GetByCode(ctx, code); !errors.Is(err, domain.ErrLobbyNotFound) {
		t.Fatalf("expected lobby deleted, got %v", err)
	}
}

func TestNATSBusRoundTrip(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	natsURL, cleanup := startNATS(t, ctx)
	defer cleanup()

	cfg := natsbus.DefaultConfig()
	cfg.URL = natsURL
	bus, err := natsbus.Connect(cfg)
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(ctx, "party:ABCDEF")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sent := domain.Envelope{Kind: domain.KindBroadcast, Room: "party:ABCDEF", Event: domain.EventResult, From: "g", Payload: json.RawMessage(`{"playerId":"g"}`)}
	if err := bus.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Event != sent.Event || got.From != "g" {
			t.Fatalf("unexpected envelope %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for envelope")
	}
	cancel()
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "battle", "POSTGRES_PASSWORD": "battlepass", "POSTGRES_DB": "mathbattle"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req, "postgres")
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://battle:battlepass@%s:%s/mathbattle?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req, "redis")
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func startNATS(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "nats:2-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req, "nats")
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("nats host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("nats port: %v", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, name string) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", name, err)
	}
	return container
}

func migrateUp(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
