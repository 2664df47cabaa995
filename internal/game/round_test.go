package game

import (
	"testing"
	"time"

	"math-battle/internal/domain"
)

func fixture(correct ...bool) []domain.Problem {
	problems := make([]domain.Problem, len(correct))
	for i, c := range correct {
		problems[i] = domain.Problem{ID: "p" + string(rune('a'+i)), Index: i, CorrectAnswer: c}
	}
	return problems
}

func TestClassicRoundScoring(t *testing.T) {
	round := NewRound(fixture(true, true, false, true, false), domain.ModeClassic).Begin(epoch)

	for i, answer := range []bool{true, false, true, true, false} {
		var ok bool
		round, ok = round.Submit(answer, epoch.Add(time.Duration(i+1)*time.Second))
		if !ok {
			t.Fatalf("answer %d ignored", i)
		}
	}
	if round.Status() != RoundFinished {
		t.Fatalf("expected finished on exhaustion, got %s", round.Status())
	}
	res, ok := round.Result()
	if !ok {
		t.Fatalf("expected result")
	}
	if res.Score != 3 || res.CorrectAnswers != 3 || res.TotalQuestions != 5 || res.Accuracy != 60.0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AverageResponseTime != 1.0 || res.FastestAnswer != 1.0 {
		t.Fatalf("expected 1s per answer, got avg=%v fastest=%v", res.AverageResponseTime, res.FastestAnswer)
	}
	if res.Eliminated || res.EliminatedAtIndex != nil {
		t.Fatalf("classic round reported elimination")
	}
}

func TestScoreAndAccuracyMath(t *testing.T) {
	correct := make([]bool, 20)
	for i := range correct {
		correct[i] = true
	}
	round := NewRound(fixture(correct...), domain.ModeClassic).Begin(epoch)
	for i := 0; i < 20; i++ {
		round, _ = round.Submit(i < 15, epoch)
	}
	res, _ := round.Result()
	if res.Score != 15 || res.Accuracy != 75.0 || res.TotalQuestions != 20 {
		t.Fatalf("expected 15/20 = 75%%, got %+v", res)
	}
}

func TestSurvivalEliminationIsTerminal(t *testing.T) {
	round := NewRound(fixture(true, false, true, true), domain.ModeSurvival).Begin(epoch)

	round, _ = round.Submit(true, epoch.Add(time.Second))  // right
	round, _ = round.Submit(true, epoch.Add(2*time.Second)) // wrong
	if round.Status() != RoundEliminated {
		t.Fatalf("expected elimination, got %s", round.Status())
	}
	if _, ok := round.Current(); ok {
		t.Fatalf("eliminated player still sees a problem")
	}

	after, ok := round.Submit(true, epoch.Add(3*time.Second))
	if ok || after.Index() != round.Index() || after.Score() != round.Score() {
		t.Fatalf("submit after elimination was applied")
	}
	if _, done := round.Result(); done {
		t.Fatalf("eliminated round must wait for the clock")
	}

	round = round.Expire()
	res, ok := round.Result()
	if !ok {
		t.Fatalf("expected result after expiry")
	}
	if !res.Eliminated || res.EliminatedAtIndex == nil || *res.EliminatedAtIndex != 1 {
		t.Fatalf("expected elimination at index 1, got %+v", res)
	}
	if res.Score != 1 || res.TotalQuestions != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSurvivalCorrectAnswersAdvanceLikeClassic(t *testing.T) {
	round := NewRound(fixture(true, false, true), domain.ModeSurvival).Begin(epoch)
	round, _ = round.Submit(true, epoch)
	round, _ = round.Submit(false, epoch)
	round, _ = round.Submit(true, epoch)
	res, ok := round.Result()
	if !ok || res.Score != 3 || res.Eliminated {
		t.Fatalf("expected perfect survival run, got %+v ok=%v", res, ok)
	}
}

func TestDuplicateAndEarlyAnswersIgnored(t *testing.T) {
	round := NewRound(fixture(true, true, true), domain.ModeClassic)

	if _, ok := round.Submit(true, epoch); ok {
		t.Fatalf("answer accepted before the round began")
	}

	round = round.Begin(epoch)
	round, _ = round.Answer(0, true, epoch)
	if _, ok := round.Answer(0, true, epoch); ok {
		t.Fatalf("second answer to question 0 accepted")
	}
	if _, ok := round.Answer(2, true, epoch); ok {
		t.Fatalf("answer to an unseen question accepted")
	}
	if round.Index() != 1 || round.Score() != 1 {
		t.Fatalf("unexpected state index=%d score=%d", round.Index(), round.Score())
	}
}

func TestTransitionsDoNotMutateSnapshots(t *testing.T) {
	start := NewRound(fixture(true, false), domain.ModeClassic).Begin(epoch)
	first, _ := start.Submit(true, epoch.Add(time.Second))
	branchA, _ := first.Submit(false, epoch.Add(2*time.Second))
	branchB, _ := first.Submit(true, epoch.Add(3*time.Second))

	if start.Index() != 0 || len(start.Responses()) != 0 {
		t.Fatalf("initial snapshot changed")
	}
	if first.Index() != 1 || len(first.Responses()) != 1 {
		t.Fatalf("intermediate snapshot changed")
	}
	if a, b := branchA.Responses()[1], branchB.Responses()[1]; a.Answer == b.Answer {
		t.Fatalf("branches share response storage")
	}
	if branchA.Score() != 2 || branchB.Score() != 1 {
		t.Fatalf("unexpected branch scores %d/%d", branchA.Score(), branchB.Score())
	}
}

func TestExpireWithoutAnswers(t *testing.T) {
	round := NewRound(fixture(true, true), domain.ModeClassic).Begin(epoch).Expire()
	res, ok := round.Result()
	if !ok {
		t.Fatalf("expected finished round")
	}
	if res.TotalQuestions != 0 || res.Accuracy != 0 || res.AverageResponseTime != 0 {
		t.Fatalf("expected zeroed result, got %+v", res)
	}

	finished := round.Expire()
	if finished.Status() != RoundFinished {
		t.Fatalf("expire changed a finished round")
	}
	if _, ok := finished.Submit(true, epoch); ok {
		t.Fatalf("finished round accepted an answer")
	}
}

func TestEmptyProblemListFinishesImmediately(t *testing.T) {
	round := NewRound(nil, domain.ModeClassic).Begin(epoch)
	if !round.Finished() {
		t.Fatalf("expected finished round, got %s", round.Status())
	}
}
