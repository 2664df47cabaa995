package game

import (
	"errors"
	"testing"

	"math-battle/internal/domain"
)

func TestMatchRecordsUntilDone(t *testing.T) {
	m := NewMatch(domain.FormatBestOf3)
	if m.TotalRounds() != 3 || m.Done() {
		t.Fatalf("unexpected fresh match: total=%d done=%v", m.TotalRounds(), m.Done())
	}

	scores := []domain.RoundResult{
		{Score: 12, Accuracy: 80},
		{Score: 18, Accuracy: 90},
		{Score: 9, Accuracy: 70},
	}
	for i, r := range scores {
		var err error
		if m, err = m.Record(r); err != nil {
			t.Fatalf("record round %d: %v", i, err)
		}
	}
	if !m.Done() || m.CurrentRound() != 3 {
		t.Fatalf("expected finished match after 3 rounds")
	}
	if _, err := m.Record(domain.RoundResult{Score: 1}); !errors.Is(err, domain.ErrMatchComplete) {
		t.Fatalf("expected ErrMatchComplete, got %v", err)
	}

	out := m.Outcome()
	if out.TotalScore != 39 || out.BestRound != 1 || !out.Complete {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.AverageAccuracy != 80 {
		t.Fatalf("expected 80%% average accuracy, got %v", out.AverageAccuracy)
	}
}

func TestMatchRecordLeavesOriginal(t *testing.T) {
	m := NewMatchOf(2)
	next, _ := m.Record(domain.RoundResult{Score: 5})
	if m.CurrentRound() != 0 || next.CurrentRound() != 1 {
		t.Fatalf("record mutated the receiver")
	}
	if NewMatchOf(0).TotalRounds() != 1 {
		t.Fatalf("expected at least one round")
	}
}

func report(id, name string, round, score int, accuracy, avg float64) domain.ResultReport {
	return domain.ResultReport{
		PlayerID:    id,
		DisplayName: name,
		Round:       round,
		Result:      domain.RoundResult{Score: score, Accuracy: accuracy, AverageResponseTime: avg},
	}
}

func TestStandings(t *testing.T) {
	reports := []domain.ResultReport{
		report("p1", "Ada", 0, 10, 90, 1.2),
		report("p2", "Bo", 0, 12, 80, 1.0),
		report("p1", "Ada", 1, 15, 100, 0.8),
		report("p2", "Bo", 1, 15, 100, 0.9),
		report("p1", "Ada", 2, 7, 70, 2.0),
		report("p2", "Bo", 2, 7, 70, 2.0),
		// repeated report for round 0 is ignored
		report("p1", "Ada", 0, 30, 100, 0.1),
	}
	got := Standings(reports)
	if len(got) != 2 {
		t.Fatalf("expected 2 standings, got %d", len(got))
	}
	// Round 0 to Bo on score, round 1 to Ada on speed, round 2 tied.
	for _, s := range got {
		if s.RoundsWon != 1 {
			t.Fatalf("expected one round each, got %+v", s)
		}
	}
	// Equal rounds won: total score decides (Ada 32, Bo 34).
	if got[0].PlayerID != "p2" || got[0].TotalScore != 34 || got[0].Rank != 1 {
		t.Fatalf("expected Bo first, got %+v", got[0])
	}
	if got[1].PlayerID != "p1" || got[1].TotalScore != 32 || got[1].Rank != 2 {
		t.Fatalf("expected Ada second, got %+v", got[1])
	}
}

func TestStandingsTieBreaksByName(t *testing.T) {
	got := Standings([]domain.ResultReport{
		report("z", "Zed", 0, 5, 50, 1),
		report("a", "Amy", 0, 5, 50, 1),
	})
	if got[0].DisplayName != "Amy" || got[0].RoundsWon != 0 || got[1].Rank != 2 {
		t.Fatalf("unexpected order %+v", got)
	}
}
