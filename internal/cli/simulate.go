package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"math-battle/internal/app"
	"math-battle/internal/domain"
	"math-battle/internal/game"
	"math-battle/internal/lobby"
	transport "math-battle/internal/transport/http"
	"math-battle/internal/transport/local"
	"math-battle/internal/transport/wsclient"
)

type simOptions struct {
	players   int
	rounds    int
	mode      string
	duration  int
	questions int
	accuracy  float64
	think     time.Duration
	countdown time.Duration
	server    string
	lobby     bool
	users     bool
}

// NewSimulateCmd plays a match between bots, against the configured stores
// in-process or against a running server.
func NewSimulateCmd(configPath *string) *cobra.Command {
	opts := simOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a bot match through the room protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), *configPath, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.players, "players", 4, "number of bots")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 3, "rounds to play: 1, 3, 5 or 10")
	cmd.Flags().StringVar(&opts.mode, "mode", string(domain.ModeClassic), "classic or survival-30s")
	cmd.Flags().IntVar(&opts.duration, "duration", 10, "round length in seconds")
	cmd.Flags().IntVar(&opts.questions, "questions", 20, "questions per round")
	cmd.Flags().Float64Var(&opts.accuracy, "accuracy", 0.8, "chance a bot answers correctly")
	cmd.Flags().DurationVar(&opts.think, "think", 600*time.Millisecond, "mean time a bot takes per answer")
	cmd.Flags().DurationVar(&opts.countdown, "countdown", 2*time.Second, "delay between start and the first question")
	cmd.Flags().StringVar(&opts.server, "server", "", "server URL; empty runs the server in-process")
	cmd.Flags().BoolVar(&opts.lobby, "lobby", false, "play in an authenticated lobby (in-process only)")
	cmd.Flags().BoolVar(&opts.users, "users", false, "bots sign in and record their statistics")
	return cmd
}

func formatFor(rounds int) (domain.MatchFormat, error) {
	switch rounds {
	case 1:
		return domain.FormatSingle, nil
	case 3:
		return domain.FormatBestOf3, nil
	case 5:
		return domain.FormatBestOf5, nil
	case 10:
		return domain.FormatBestOf10, nil
	}
	return "", fmt.Errorf("unsupported round count %d", rounds)
}

// recorder stores a bot's finished round.
type recorder interface {
	Record(ctx context.Context, userID, displayName string, res domain.RoundResult, won bool) error
}

type statsRecorder struct{ stats *app.StatsService }

func (r statsRecorder) Record(ctx context.Context, userID, displayName string, res domain.RoundResult, won bool) error {
	_, err := r.stats.RecordResult(ctx, userID, displayName, res, won)
	return err
}

// httpRecorder posts results to a running server.
type httpRecorder struct {
	url    string
	client *http.Client
}

func (r httpRecorder) Record(ctx context.Context, userID, displayName string, res domain.RoundResult, won bool) error {
	body, err := json.Marshal(transport.ResultRequest{DisplayName: displayName, Result: res, Won: won})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(transport.UserHeader, userID)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("record result: %s", resp.Status)
	}
	return nil
}

// botProfiles names bots after their number unless the stats know better.
type botProfiles struct{ stats lobby.Profiles }

func (p botProfiles) DisplayName(ctx context.Context, userID string) (string, error) {
	if p.stats != nil {
		if name, err := p.stats.DisplayName(ctx, userID); err == nil && name != "" {
			return name, nil
		}
	}
	return "Bot " + strings.TrimPrefix(userID, "bot-"), nil
}

type bot struct {
	id       string
	name     string
	client   *lobby.Client
	match    game.Match
	accuracy float64
	think    time.Duration
}

func runSimulation(ctx context.Context, configPath string, opts simOptions, out io.Writer) error {
	format, err := formatFor(opts.rounds)
	if err != nil {
		return err
	}
	settings := domain.Settings{
		DurationSeconds: opts.duration,
		QuestionCount:   opts.questions,
		GameMode:        domain.GameMode(opts.mode),
		Format:          format,
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	if opts.players < 2 {
		return domain.ErrNotEnoughPlayers
	}
	if opts.lobby {
		opts.users = true
	}

	var (
		newTransport func() (lobby.Transport, error)
		lobbies      lobby.LobbyStore
		rec          recorder
		profiles     = botProfiles{}
		stats        *app.StatsService
	)
	if opts.server == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		svc, err := buildServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		newTransport = func() (lobby.Transport, error) { return local.New(svc.rooms), nil }
		lobbies = svc.lobbyStore()
		stats = svc.stats
		rec = statsRecorder{stats: svc.stats}
		profiles = botProfiles{stats: svc.stats}
	} else {
		if opts.lobby {
			return errors.New("lobby mode needs the in-process server")
		}
		newTransport = func() (lobby.Transport, error) { return wsclient.New(opts.server) }
		rec = httpRecorder{url: strings.TrimRight(opts.server, "/") + "/api/results", client: &http.Client{Timeout: 10 * time.Second}}
	}

	g, gctx := errgroup.WithContext(ctx)
	botCtx, stopBots := context.WithCancel(gctx)
	defer stopBots()

	bots := make([]*bot, opts.players)
	for i := range bots {
		tr, err := newTransport()
		if err != nil {
			return err
		}
		id := fmt.Sprintf("bot-%d", i+1)
		var identity lobby.Identity = lobby.Guest
		if opts.users {
			identity = lobby.StaticIdentity{UserID: id}
		}
		client, err := lobby.NewClient(lobby.Options{
			Transport: tr,
			Identity:  identity,
			Lobbies:   lobbies,
			Profiles:  profiles,
			Countdown: opts.countdown,
		})
		if err != nil {
			return err
		}
		defer client.Close(context.Background())
		b := &bot{
			id:       id,
			name:     fmt.Sprintf("Bot %d", i+1),
			client:   client,
			match:    game.NewMatch(format),
			accuracy: opts.accuracy,
			think:    opts.think,
		}
		bots[i] = b
		g.Go(func() error { return b.run(botCtx) })
	}

	host := bots[0]
	result := func() error {
		code, err := openRoom(gctx, host, opts)
		if err != nil {
			return fmt.Errorf("open room: %w", err)
		}
		log.Info().Str("code", code).Int("players", opts.players).Msg("room open")
		for _, b := range bots[1:] {
			if err := joinRoom(gctx, b, code, opts); err != nil {
				return fmt.Errorf("%s join: %w", b.name, err)
			}
		}
		if err := waitUntil(gctx, 10*time.Second, func(st lobby.State) bool {
			return len(st.Participants) == opts.players
		}, host); err != nil {
			return fmt.Errorf("waiting for players: %w", err)
		}

		if err := host.client.UpdateSettings(gctx, settings); err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		if err := waitUntil(gctx, 5*time.Second, func(st lobby.State) bool {
			return st.Settings == settings
		}, host); err != nil {
			return fmt.Errorf("waiting for settings: %w", err)
		}

		roundLimit := opts.countdown + time.Duration(opts.duration)*time.Second + 10*time.Second
		for r := 0; r < format.Rounds(); r++ {
			sig, err := host.client.Start(gctx)
			if err != nil {
				return fmt.Errorf("start round %d: %w", r+1, err)
			}
			if err := waitUntil(gctx, roundLimit, func(st lobby.State) bool {
				return countRound(st.Results, sig.Round) == opts.players
			}, host); err != nil {
				return fmt.Errorf("waiting for round %d results: %w", r+1, err)
			}
			log.Info().Int("round", r+1).Msg("round complete")
		}
		return nil
	}()

	reports := host.client.State().Results
	if err := host.client.Leave(context.Background()); err != nil {
		log.Warn().Err(err).Msg("host leave")
	}
	stopBots()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if result != nil {
		return result
	}

	if opts.users {
		recordMatch(ctx, rec, reports)
	}
	printStandings(out, bots, reports)
	if stats != nil && opts.users {
		board, err := stats.Leaderboard(ctx, opts.players)
		if err == nil {
			printLeaderboard(out, board)
		}
	}
	return nil
}

func openRoom(ctx context.Context, host *bot, opts simOptions) (string, error) {
	if opts.lobby {
		return host.client.CreateLobby(ctx)
	}
	return host.client.CreateParty(ctx, host.name)
}

func joinRoom(ctx context.Context, b *bot, code string, opts simOptions) error {
	switch {
	case opts.lobby:
		return b.client.JoinLobby(ctx, code)
	case opts.users:
		return b.client.JoinAsUser(ctx, code)
	}
	return b.client.JoinAsGuest(ctx, code, b.name)
}

// waitUntil polls the bot's view until cond holds.
func waitUntil(ctx context.Context, limit time.Duration, cond func(lobby.State) bool, b *bot) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := b.client.State()
		if cond(st) {
			return nil
		}
		if st.Phase == lobby.PhaseClosed {
			return fmt.Errorf("room closed: %s", st.Reason)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func countRound(reports []domain.ResultReport, round int) int {
	n := 0
	for _, rep := range reports {
		if rep.Round == round {
			n++
		}
	}
	return n
}

func (b *bot) run(ctx context.Context) error {
	notices := b.client.Notices()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			switch n.Kind {
			case lobby.NoticeStarted:
				res, err := b.play(ctx, n.Signal)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("%s play: %w", b.name, err)
				}
				if next, err := b.match.Record(res); err == nil {
					b.match = next
				}
				if err := b.client.ReportResult(ctx, n.Signal.Round, res); err != nil {
					return fmt.Errorf("%s report: %w", b.name, err)
				}
			case lobby.NoticeClosed:
				return nil
			}
		}
	}
}

func (b *bot) play(ctx context.Context, sig domain.StartSignal) (domain.RoundResult, error) {
	cfg := game.ConfigFromSignal(sig)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	answers := make(chan bool)
	go b.answer(ctx, cfg.Problems, answers)
	return game.PlayRound(ctx, clockwork.NewRealClock(), cfg, answers, nil)
}

// answer works through the problems in order, sometimes wrong on purpose.
func (b *bot) answer(ctx context.Context, problems []domain.Problem, answers chan<- bool) {
	for _, p := range problems {
		delay := b.think/2 + time.Duration(rand.Int64N(int64(b.think)+1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		ans := p.CorrectAnswer
		if rand.Float64() >= b.accuracy {
			ans = !ans
		}
		select {
		case answers <- ans:
		case <-ctx.Done():
			return
		}
	}
}

// recordMatch stores every round of every bot; a round is won by whoever
// tops that round alone.
func recordMatch(ctx context.Context, rec recorder, reports []domain.ResultReport) {
	byRound := make(map[int][]domain.ResultReport)
	for _, rep := range reports {
		byRound[rep.Round] = append(byRound[rep.Round], rep)
	}
	for _, round := range byRound {
		winner := ""
		if table := game.Standings(round); len(table) > 0 && table[0].RoundsWon == 1 {
			winner = table[0].PlayerID
		}
		for _, rep := range round {
			if err := rec.Record(ctx, rep.PlayerID, rep.DisplayName, rep.Result, rep.PlayerID == winner); err != nil {
				log.Warn().Err(err).Str("participant", rep.PlayerID).Msg("record result")
			}
		}
	}
}

func printStandings(out io.Writer, bots []*bot, reports []domain.ResultReport) {
	outcomes := make(map[string]domain.MatchOutcome, len(bots))
	for _, b := range bots {
		outcomes[b.name] = b.match.Outcome()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tROUNDS WON\tTOTAL\tAVG ACCURACY\tBEST ROUND")
	for _, st := range game.Standings(reports) {
		o := outcomes[st.DisplayName]
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.1f%%\t%d\n", st.Rank, st.DisplayName, st.RoundsWon, st.TotalScore, o.AverageAccuracy, o.BestRound)
	}
	_ = w.Flush()
}

func printLeaderboard(out io.Writer, board domain.Leaderboard) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nLEADERBOARD\tHIGHEST\tWON\tGAMES\tACCURACY")
	for _, st := range board.Entries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\n", st.DisplayName, st.HighestScore, st.GamesWon, st.TotalGames, st.AverageAccuracy)
	}
	_ = w.Flush()
}
