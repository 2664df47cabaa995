package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"math-battle/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("math-battle failed")
		os.Exit(1)
	}
}
