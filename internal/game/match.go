package game

import (
	"slices"
	"sort"

	"math-battle/internal/domain"
)

// Match accumulates one player's round results over a best-of-N series.
// Like Round it is a value: Record returns a new Match.
type Match struct {
	totalRounds int
	results     []domain.RoundResult
}

// NewMatch starts a match of the given format.
func NewMatch(format domain.MatchFormat) Match {
	return Match{totalRounds: format.Rounds()}
}

// NewMatchOf starts a match of n rounds; n below one plays a single round.
func NewMatchOf(n int) Match {
	if n < 1 {
		n = 1
	}
	return Match{totalRounds: n}
}

func (m Match) TotalRounds() int              { return m.totalRounds }
func (m Match) CurrentRound() int             { return len(m.results) }
func (m Match) Done() bool                    { return len(m.results) >= m.totalRounds }
func (m Match) Results() []domain.RoundResult { return slices.Clone(m.results) }

// Record appends the next round's result.
func (m Match) Record(res domain.RoundResult) (Match, error) {
	if m.Done() {
		return m, domain.ErrMatchComplete
	}
	m.results = append(slices.Clip(m.results), res)
	return m, nil
}

// Outcome totals the rounds played so far.
func (m Match) Outcome() domain.MatchOutcome {
	out := domain.MatchOutcome{
		Rounds:   make([]int, 0, len(m.results)),
		Complete: m.Done(),
	}
	var accuracy float64
	for i, r := range m.results {
		out.Rounds = append(out.Rounds, r.Score)
		out.TotalScore += r.Score
		accuracy += r.Accuracy
		if r.Score > m.results[out.BestRound].Score {
			out.BestRound = i
		}
	}
	if len(m.results) > 0 {
		out.AverageAccuracy = accuracy / float64(len(m.results))
	}
	return out
}

// Standings ranks players from self-reported round results. Each round is won
// by the highest score, then accuracy, then the lower average response time;
// exact ties award nobody. Players are ranked by rounds won, then total
// score, then name. A player's repeated report for a round is ignored.
func Standings(reports []domain.ResultReport) []domain.Standing {
	type key struct {
		player string
		round  int
	}
	seen := make(map[key]struct{})
	byPlayer := make(map[string]*domain.Standing)
	byRound := make(map[int][]domain.ResultReport)
	for _, rep := range reports {
		k := key{rep.PlayerID, rep.Round}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		st, ok := byPlayer[rep.PlayerID]
		if !ok {
			st = &domain.Standing{PlayerID: rep.PlayerID, DisplayName: rep.DisplayName}
			byPlayer[rep.PlayerID] = st
		}
		st.TotalScore += rep.Result.Score
		byRound[rep.Round] = append(byRound[rep.Round], rep)
	}

	for _, round := range byRound {
		if winner, ok := roundWinner(round); ok {
			byPlayer[winner].RoundsWon++
		}
	}

	out := make([]domain.Standing, 0, len(byPlayer))
	for _, st := range byPlayer {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundsWon != out[j].RoundsWon {
			return out[i].RoundsWon > out[j].RoundsWon
		}
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func roundWinner(reports []domain.ResultReport) (string, bool) {
	if len(reports) == 0 {
		return "", false
	}
	best := reports[0]
	tied := false
	for _, rep := range reports[1:] {
		switch c := compareResults(rep.Result, best.Result); {
		case c > 0:
			best, tied = rep, false
		case c == 0:
			tied = true
		}
	}
	if tied {
		return "", false
	}
	return best.PlayerID, true
}

func compareResults(a, b domain.RoundResult) int {
	switch {
	case a.Score != b.Score:
		return cmpInt(a.Score, b.Score)
	case a.Accuracy != b.Accuracy:
		return cmpFloat(a.Accuracy, b.Accuracy)
	case a.AverageResponseTime != b.AverageResponseTime:
		return -cmpFloat(a.AverageResponseTime, b.AverageResponseTime)
	}
	return 0
}

func cmpInt(a, b int) int {
	if a > b {
		return 1
	}
	return -1
}

func cmpFloat(a, b float64) int {
	if a > b {
		return 1
	}
	return -1
}
