package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"voting-client/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		logger.NewLogger().Fatal().Err(err).Msg("Error occured while executing the program")
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "ballot",
		Usage:                 "Vote in elections recorded on the vote ledger",
		Description:           "Sign in, list your elections, follow results and cast your vote",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			electionsCommand(),
			resultsCommand(),
			watchCommand(),
			statusCommand(),
			voteCommand(),
			devLedgerCommand(),
		},
	}
}
