package game

import (
	"fmt"
	"strconv"

	"math-battle/internal/domain"
)

// GenerateSeeded returns the problem sequence for seed. Generating fewer
// problems yields a prefix of generating more: every problem consumes its
// draws from one continuous stream.
func GenerateSeeded(seed string, count int) []domain.Problem {
	return generate(NewRand(seed), func(i int) string {
		return seed + "-" + strconv.Itoa(i)
	}, count)
}

// GenerateRandom returns problems for solo practice.
func GenerateRandom(count int) []domain.Problem {
	return Generate(NewUnseeded(), count)
}

// Generate draws count problems from src with ids "problem-1".."problem-N".
func Generate(src Source, count int) []domain.Problem {
	return generate(src, func(i int) string {
		return "problem-" + strconv.Itoa(i+1)
	}, count)
}

func generate(src Source, id func(int) string, count int) []domain.Problem {
	if count <= 0 {
		return []domain.Problem{}
	}
	problems := make([]domain.Problem, 0, count)
	for i := 0; i < count; i++ {
		p := nextProblem(src)
		p.ID = id(i)
		p.Index = i
		problems = append(problems, p)
	}
	return problems
}

// maxOffset bounds how far a false statement strays from the true result.
var maxOffset = [...]int{
	domain.OpAdd: 5,
	domain.OpSub: 5,
	domain.OpMul: 10,
	domain.OpDiv: 3,
}

// nextProblem consumes draws in a fixed order: operation, operands, truth
// coin, then the offset only when the statement is false.
func nextProblem(src Source) domain.Problem {
	op := domain.Operation(src.NextInt(0, 3))

	var left, right, result int
	switch op {
	case domain.OpAdd:
		left = src.NextInt(1, 50)
		right = src.NextInt(1, 50)
		result = left + right
	case domain.OpSub:
		left = src.NextInt(10, 100)
		right = src.NextInt(1, left)
		result = left - right
	case domain.OpMul:
		left = src.NextInt(2, 12)
		right = src.NextInt(2, 12)
		result = left * right
	case domain.OpDiv:
		right = src.NextInt(2, 12)
		result = src.NextInt(1, 12)
		left = right * result
	}

	shown := result
	if src.Next() <= 0.5 {
		k := maxOffset[op]
		offset := src.NextInt(-k, k-1)
		if offset >= 0 {
			offset++
		}
		shown = result + offset
		if shown < 0 {
			shown = result - offset
		}
	}

	return domain.Problem{
		Question:      fmt.Sprintf("%d %s %d = %d", left, op.Symbol(), right, shown),
		CorrectAnswer: shown == result,
		Op:            op,
		Left:          left,
		Right:         right,
		Shown:         shown,
		Result:        result,
	}
}
