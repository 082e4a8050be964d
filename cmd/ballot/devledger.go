package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"voting-client/api"
	"voting-client/docstore"
	"voting-client/logger"
	"voting-client/service"
)

func devLedgerCommand() *cli.Command {
	var (
		addr       string
		maxPending int
		sealEvery  time.Duration
		seedFile   string
	)

	return &cli.Command{
		Name:  "devledger",
		Usage: "Run an in-memory vote ledger for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Aliases:     []string{"a"},
				Value:       "127.0.0.1:8080",
				Usage:       "Address to listen on",
				Destination: &addr,
			},
			&cli.IntFlag{
				Name:        "max-pending",
				Usage:       "Votes per block",
				Value:       5,
				Destination: &maxPending,
			},
			&cli.DurationFlag{
				Name:        "seal-every",
				Usage:       "Seal pending votes into a block on this interval, 0 disables",
				Destination: &sealEvery,
			},
			&cli.StringFlag{
				Name:        "seed",
				Usage:       "Seed file whose voters are registered with the ledger",
				Destination: &seedFile,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.NewLogger()
			srv := api.NewServer(maxPending, log)

			if seedFile != "" {
				memory := docstore.NewMemory(log)
				if err := memory.LoadFile(seedFile); err != nil {
					return err
				}
				voters, err := service.NewDirectory(memory).Voters(ctx)
				if err != nil {
					return err
				}
				for _, v := range voters {
					if err := srv.RegisterVoter(v.VoterID, v.Name, v.Email); err != nil {
						log.Warn().Err(err).Str("voter_id", v.VoterID.String()).Msg("Voter not registered")
					}
				}
			}

			if sealEvery > 0 {
				go srv.SealEvery(ctx, sealEvery)
			}

			errs := make(chan error, 1)
			go func() { errs <- srv.Start(addr) }()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
