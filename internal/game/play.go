package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"math-battle/internal/domain"
)

// PlayConfig is everything one player's round is derived from.
type PlayConfig struct {
	Problems        []domain.Problem
	Mode            domain.GameMode
	DurationSeconds int
	// StartAt anchors the round clock. Zero means "start now".
	StartAt time.Time
	Tick    time.Duration
}

// ConfigFromSignal derives the round inputs every peer shares from a start
// broadcast.
func ConfigFromSignal(sig domain.StartSignal) PlayConfig {
	return PlayConfig{
		Problems:        GenerateSeeded(sig.Seed, sig.Settings.QuestionCount),
		Mode:            sig.Settings.GameMode,
		DurationSeconds: sig.Settings.DurationSeconds,
		StartAt:         sig.StartAt(),
	}
}

// SoloConfig builds an unsynchronized practice round.
func SoloConfig(settings domain.Settings) PlayConfig {
	return PlayConfig{
		Problems:        GenerateRandom(settings.QuestionCount),
		Mode:            settings.GameMode,
		DurationSeconds: settings.DurationSeconds,
	}
}

// Observer is told about every state change of a round being played.
type Observer func(Round, Reading)

// PlayRound runs a round to completion. Timer readings and answers are
// handled on one goroutine, so no two transitions can interleave. Answers are
// only read while the round accepts them; anything sent before the start
// stays queued on the channel.
func PlayRound(ctx context.Context, clock clockwork.Clock, cfg PlayConfig, answers <-chan bool, observe Observer) (domain.RoundResult, error) {
	opts := []TimerOption{WithTick(cfg.Tick)}
	if !cfg.StartAt.IsZero() {
		opts = append(opts, WithStartTime(cfg.StartAt))
	}
	timer := NewTimer(clock, cfg.DurationSeconds, opts...)
	timer.Start(ctx)
	defer timer.Stop()

	round := NewRound(cfg.Problems, cfg.Mode)
	var reading Reading
	notify := func() {
		if observe != nil {
			observe(round, reading)
		}
	}

	readings := timer.C()
	for {
		var input <-chan bool
		if round.Accepting() {
			input = answers
		}

		select {
		case <-ctx.Done():
			return domain.RoundResult{}, ctx.Err()

		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			reading = r
			if r.Phase != PhaseCountdown && round.Status() == RoundNotStarted {
				round = round.Begin(timer.Anchor())
			}
			if r.Phase == PhaseExpired {
				round = round.Expire()
			}
			notify()

		case answer, ok := <-input:
			if !ok {
				answers = nil
				continue
			}
			next, applied := round.Submit(answer, clock.Now())
			if !applied {
				continue
			}
			round = next
			notify()
		}

		if res, done := round.Result(); done {
			return res, nil
		}
	}
}
