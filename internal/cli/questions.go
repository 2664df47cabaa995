package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"math-battle/internal/domain"
	"math-battle/internal/game"
)

// NewQuestionsCmd prints the deterministic question sequence for a seed.
func NewQuestionsCmd() *cobra.Command {
	var (
		seed   string
		count  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Print the question sequence a seed produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			var problems []domain.Problem
			if seed == "" {
				problems = game.GenerateRandom(count)
			} else {
				problems = game.GenerateSeeded(seed, count)
			}
			return printProblems(cmd.OutOrStdout(), problems, asJSON)
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "round seed (random questions when empty)")
	cmd.Flags().IntVar(&count, "count", 10, "number of questions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printProblems(w io.Writer, problems []domain.Problem, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(problems)
	}
	for _, p := range problems {
		if _, err := fmt.Fprintf(w, "%4d  %-18s %v\n", p.Index+1, p.Question, p.CorrectAnswer); err != nil {
			return err
		}
	}
	return nil
}
