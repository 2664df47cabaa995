package game

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"math-battle/internal/domain"
)

// playScripted plays a signal-driven round on its own fake clock, moving the
// clock forward one second after every accepted answer.
func playScripted(t *testing.T, sig domain.StartSignal, answers []bool) domain.RoundResult {
	t.Helper()
	fc := clockwork.NewFakeClockAt(epoch)
	in := make(chan bool, len(answers))
	for _, a := range answers {
		in <- a
	}

	answered := 0
	observe := func(r Round, _ Reading) {
		if n := len(r.Responses()); n > answered {
			answered = n
			fc.Advance(time.Second)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := PlayRound(ctx, fc, ConfigFromSignal(sig), in, observe)
	if err != nil {
		t.Fatalf("play round: %v", err)
	}
	return res
}

func TestPeersWithSameSignalAgree(t *testing.T) {
	sig := domain.StartSignal{
		Seed:      "ABCD1234",
		StartTime: epoch.UnixMilli(),
		Settings: domain.Settings{
			DurationSeconds: 30,
			QuestionCount:   5,
			GameMode:        domain.ModeClassic,
		},
	}
	answers := []bool{true, true, true, true, true}

	a := playScripted(t, sig, answers)
	b := playScripted(t, sig, answers)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("peers disagree:\n%+v\n%+v", a, b)
	}
	// Golden problems 2 and 4 are true statements.
	if a.Score != 2 || a.TotalQuestions != 5 || a.Accuracy != 40.0 {
		t.Fatalf("unexpected result %+v", a)
	}
}

func TestPlayRoundHoldsAnswersDuringCountdown(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	cfg := PlayConfig{
		Problems:        fixture(true, false, true),
		Mode:            domain.ModeClassic,
		DurationSeconds: 30,
		StartAt:         epoch.Add(3 * time.Second),
	}
	in := make(chan bool, 3)
	in <- true
	in <- false
	in <- true

	readings := make(chan Reading, 64)
	observe := func(_ Round, r Reading) {
		select {
		case readings <- r:
		default:
		}
	}

	type outcome struct {
		res domain.RoundResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := PlayRound(context.Background(), fc, cfg, in, observe)
		done <- outcome{res, err}
	}()

	select {
	case r := <-readings:
		if r.Phase != PhaseCountdown {
			t.Fatalf("expected countdown first, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no countdown reading")
	}
	if len(in) != 3 {
		t.Fatalf("answers consumed before the round started: %d left", len(in))
	}

	fc.Advance(3 * time.Second)

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("play round: %v", out.err)
		}
		if out.res.Score != 3 || out.res.TotalQuestions != 3 {
			t.Fatalf("unexpected result %+v", out.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("round did not finish")
	}
}

func TestPlayRoundSurvivalWaitsForClock(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	cfg := PlayConfig{
		Problems:        fixture(true, false, true),
		Mode:            domain.ModeSurvival,
		DurationSeconds: 2,
	}
	in := make(chan bool, 2)
	in <- true
	in <- true

	eliminated := make(chan struct{})
	observe := func(r Round, _ Reading) {
		if r.Status() == RoundEliminated {
			select {
			case <-eliminated:
			default:
				close(eliminated)
			}
		}
	}

	type outcome struct {
		res domain.RoundResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := PlayRound(context.Background(), fc, cfg, in, observe)
		done <- outcome{res, err}
	}()

	select {
	case <-eliminated:
	case <-time.After(2 * time.Second):
		t.Fatalf("player was not eliminated")
	}
	select {
	case <-done:
		t.Fatalf("round ended before the clock ran out")
	case <-time.After(50 * time.Millisecond):
	}

	fc.Advance(2 * time.Second)

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("play round: %v", out.err)
		}
		if !out.res.Eliminated || *out.res.EliminatedAtIndex != 1 || out.res.Score != 1 {
			t.Fatalf("unexpected result %+v", out.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("round did not finish on expiry")
	}
}

func TestPlayRoundCancelled(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := PlayConfig{Problems: fixture(true), Mode: domain.ModeClassic, DurationSeconds: 30}

	done := make(chan error, 1)
	go func() {
		_, err := PlayRound(ctx, fc, cfg, make(chan bool), nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("round ignored cancellation")
	}
}

func TestSoloConfigUsesUnseededProblems(t *testing.T) {
	cfg := SoloConfig(domain.DefaultPartySettings())
	if len(cfg.Problems) != 1000 || !cfg.StartAt.IsZero() {
		t.Fatalf("unexpected solo config: %d problems, start %v", len(cfg.Problems), cfg.StartAt)
	}
	if cfg.Problems[0].ID != "problem-1" {
		t.Fatalf("unexpected first id %q", cfg.Problems[0].ID)
	}
}
