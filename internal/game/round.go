package game

import (
	"slices"
	"time"

	"math-battle/internal/domain"
)

// RoundStatus is the lifecycle of one player's round.
type RoundStatus int

const (
	RoundNotStarted RoundStatus = iota
	RoundActive
	RoundEliminated
	RoundFinished
)

func (s RoundStatus) String() string {
	switch s {
	case RoundNotStarted:
		return "not_started"
	case RoundActive:
		return "active"
	case RoundEliminated:
		return "eliminated"
	case RoundFinished:
		return "finished"
	}
	return "unknown"
}

// Response is a player's answer to one problem. Responses overlay the shared
// problems by index; the problems themselves are never touched.
type Response struct {
	Index   int
	Answer  bool
	Correct bool
	Latency time.Duration
}

// Round is an immutable snapshot of a player's round. Every transition
// returns a new Round and leaves the receiver unchanged.
type Round struct {
	mode         domain.GameMode
	problems     []domain.Problem
	status       RoundStatus
	index        int
	score        int
	responses    []Response
	eliminatedAt int
	startedAt    time.Time
	shownAt      time.Time
}

// NewRound prepares a round over problems. The slice is shared, not copied.
func NewRound(problems []domain.Problem, mode domain.GameMode) Round {
	if !mode.Valid() {
		mode = domain.ModeClassic
	}
	return Round{mode: mode, problems: problems, eliminatedAt: -1}
}

func (r Round) Status() RoundStatus        { return r.status }
func (r Round) Mode() domain.GameMode      { return r.mode }
func (r Round) Index() int                 { return r.index }
func (r Round) Score() int                 { return r.score }
func (r Round) StartedAt() time.Time       { return r.startedAt }
func (r Round) Problems() []domain.Problem { return r.problems }
func (r Round) Responses() []Response      { return slices.Clone(r.responses) }
func (r Round) Finished() bool             { return r.status == RoundFinished }
func (r Round) Accepting() bool            { return r.status == RoundActive }

// Current returns the problem awaiting an answer.
func (r Round) Current() (domain.Problem, bool) {
	if r.status != RoundActive || r.index >= len(r.problems) {
		return domain.Problem{}, false
	}
	return r.problems[r.index], true
}

// Begin moves a not-started round to active, showing the first problem at now.
func (r Round) Begin(now time.Time) Round {
	if r.status != RoundNotStarted {
		return r
	}
	r.startedAt = now
	r.shownAt = now
	if len(r.problems) == 0 {
		r.status = RoundFinished
		return r
	}
	r.status = RoundActive
	return r
}

// Submit answers the current problem. The second return is false when the
// answer was ignored.
func (r Round) Submit(answer bool, now time.Time) (Round, bool) {
	return r.Answer(r.index, answer, now)
}

// Answer answers the problem at index. Answers for any index other than the
// current one, or outside the active state, are ignored so duplicate or late
// input cannot count twice.
func (r Round) Answer(index int, answer bool, now time.Time) (Round, bool) {
	if r.status != RoundActive || index != r.index || index >= len(r.problems) {
		return r, false
	}
	correct := r.problems[index].CorrectAnswer == answer
	latency := now.Sub(r.shownAt)
	if latency < 0 {
		latency = 0
	}
	r.responses = append(slices.Clip(r.responses), Response{
		Index:   index,
		Answer:  answer,
		Correct: correct,
		Latency: latency,
	})
	r.index++
	r.shownAt = now

	if correct {
		r.score++
	} else if r.mode == domain.ModeSurvival {
		r.status = RoundEliminated
		r.eliminatedAt = index
		return r, true
	}

	if r.index >= len(r.problems) {
		r.status = RoundFinished
	}
	return r, true
}

// Expire closes the round when the clock runs out. An eliminated survival
// player reaches Finished only here.
func (r Round) Expire() Round {
	switch r.status {
	case RoundNotStarted, RoundActive, RoundEliminated:
		r.status = RoundFinished
	}
	return r
}

// Result summarizes a finished round. It is false until the round is finished.
func (r Round) Result() (domain.RoundResult, bool) {
	if r.status != RoundFinished {
		return domain.RoundResult{}, false
	}
	return Summarize(r.responses, r.eliminatedAt), true
}

// Summarize computes the result record for a list of responses. eliminatedAt
// is negative when the player was not eliminated.
func Summarize(responses []Response, eliminatedAt int) domain.RoundResult {
	res := domain.RoundResult{TotalQuestions: len(responses)}
	var total time.Duration
	for i, resp := range responses {
		if resp.Correct {
			res.CorrectAnswers++
		}
		total += resp.Latency
		secs := resp.Latency.Seconds()
		if i == 0 || secs < res.FastestAnswer {
			res.FastestAnswer = secs
		}
	}
	res.Score = res.CorrectAnswers
	if res.TotalQuestions > 0 {
		res.Accuracy = float64(res.CorrectAnswers*100) / float64(res.TotalQuestions)
		res.AverageResponseTime = total.Seconds() / float64(res.TotalQuestions)
	}
	if eliminatedAt >= 0 {
		idx := eliminatedAt
		res.Eliminated = true
		res.EliminatedAtIndex = &idx
	}
	return res
}
