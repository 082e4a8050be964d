package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"voting-client/models"
	"voting-client/service"
)

// alertError carries the voter facing text of an error while keeping the
// original for errors.Is.
type alertError struct {
	err error
}

func (e alertError) Error() string { return service.Describe(e.err) }
func (e alertError) Unwrap() error { return e.err }

func userError(err error) error {
	if err == nil {
		return nil
	}
	return alertError{err: err}
}

// stdin is read for passwords not given as flags.
var stdin io.Reader = os.Stdin

func readPassword(prompt string) (string, error) {
	fmt.Fprint(stdout, prompt)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func electionFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "election",
		Aliases:  []string{"e"},
		Usage:    "Election identifier",
		Required: true,
	}
}

func jsonFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Print JSON instead of a table",
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and remember the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "Voter email", Required: true},
			&cli.StringFlag{Name: "password", Usage: "Password, prompted when omitted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				password := cmd.String("password")
				if password == "" {
					var err error
					if password, err = readPassword("Password: "); err != nil {
						return err
					}
				}
				s, err := a.sessions.Login(ctx, cmd.String("email"), password)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Logged in as %s\n", s.Email)
				return nil
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				if err := a.sessions.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(stdout, "Logged out")
				return nil
			})
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed in voter and their ledger record",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				email, err := a.currentEmail()
				if err != nil {
					return err
				}
				profile, err := service.NewProfiles(a.directory, a.ledger).Get(ctx, email)
				if err != nil {
					return err
				}
				if cmd.Bool("json") {
					return printJSON(profile)
				}

				w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "Name\t%s\n", profile.Voter.Name)
				fmt.Fprintf(w, "Email\t%s\n", profile.Voter.Email)
				fmt.Fprintf(w, "Voter ID\t%s\n", profile.Voter.VoterID)
				fmt.Fprintf(w, "Has voted\t%t\n", profile.Ledger.HasVoted)
				if profile.Ledger.TxHash != "" {
					fmt.Fprintf(w, "Last transaction\t%s\n", profile.Ledger.TxHash)
				}
				if !profile.Ledger.LastUpdated.IsZero() {
					fmt.Fprintf(w, "Last updated\t%s\n", profile.Ledger.LastUpdated.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func electionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "elections",
		Usage: "List the elections you take part in",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				email, err := a.currentEmail()
				if err != nil {
					return err
				}
				elections, err := service.NewElections(a.store, a.directory).ForVoter(ctx, email)
				if err != nil {
					return err
				}
				if cmd.Bool("json") {
					return printJSON(elections)
				}

				w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tDATE\tSTATUS")
				for _, e := range elections {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ElectionID, e.Name, e.Date, e.Status)
				}
				return w.Flush()
			})
		},
	}
}

func printTally(tally models.Tally) error {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCANDIDATE\tVOTES\tSHARE")
	for i, c := range tally.Candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\n", c.CandidateID, c.Name, c.VoteCount, tally.Chart[i].Percentage)
	}
	fmt.Fprintf(w, "\tTotal\t%s\t\n", tally.TotalVotes)
	return w.Flush()
}

// showTally prints one update of a watched election. Write failures are
// logged so the watch keeps running.
func (a *app) showTally(tally models.Tally, asJSON bool) {
	var err error
	if asJSON {
		err = printJSON(tally)
	} else {
		fmt.Fprintf(stdout, "\n%s\n", tally.ComputedAt.Format(time.RFC3339))
		err = printTally(tally)
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to print results")
	}
}

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "Show the current results of an election",
		Flags: []cli.Flag{electionFlag(), jsonFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				tally, err := a.aggregator().Tally(ctx, models.ID(cmd.String("election")))
				if err != nil {
					return err
				}
				if cmd.Bool("json") {
					return printJSON(tally)
				}
				return printTally(tally)
			})
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the results of an election as candidates change",
		Flags: []cli.Flag{
			electionFlag(),
			jsonFlag(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve prometheus metrics on this address, e.g. :9100",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				if addr := cmd.String("metrics-addr"); addr != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
					srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.log.Error().Err(err).Str("address", addr).Msg("Metrics server stopped")
						}
					}()
					defer srv.Close()
				}

				sub, err := a.aggregator().Watch(ctx, models.ID(cmd.String("election")), func(tally models.Tally, err error) {
					if err != nil {
						fmt.Fprintf(stdout, "%s\n", service.Describe(err))
						return
					}
					a.showTally(tally, cmd.Bool("json"))
				})
				if err != nil {
					return err
				}
				<-ctx.Done()
				return sub.Close()
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Tell whether you already voted in an election",
		Flags: []cli.Flag{electionFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				email, err := a.currentEmail()
				if err != nil {
					return err
				}
				flow := a.voting().Begin(models.ID(cmd.String("election")), email)
				voted, err := flow.Eligibility(ctx)
				if err != nil {
					return err
				}
				if voted {
					fmt.Fprintln(stdout, "You have already voted in this election")
				} else {
					fmt.Fprintln(stdout, "You have not voted in this election yet")
				}
				return nil
			})
		},
	}
}

func voteCommand() *cli.Command {
	return &cli.Command{
		Name:  "vote",
		Usage: "Cast your vote for a candidate",
		Flags: []cli.Flag{
			electionFlag(),
			&cli.StringFlag{
				Name:     "candidate",
				Aliases:  []string{"c"},
				Usage:    "Candidate identifier",
				Required: true,
			},
			&cli.StringFlag{Name: "password", Usage: "Password, prompted when omitted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(func(a *app) error {
				email, err := a.currentEmail()
				if err != nil {
					return err
				}

				flow := a.voting().Begin(models.ID(cmd.String("election")), email)
				if _, err := flow.Eligibility(ctx); err != nil {
					return err
				}
				if err := flow.Select(models.ID(cmd.String("candidate"))); err != nil {
					return err
				}
				if err := flow.PromptPassword(); err != nil {
					return err
				}

				password := cmd.String("password")
				if password == "" {
					if password, err = readPassword("Confirm with your password: "); err != nil {
						_ = flow.Cancel()
						return err
					}
				}

				message, err := flow.Submit(ctx, password)
				if err != nil {
					return err
				}
				if message == "" {
					message = "Vote recorded"
				}
				fmt.Fprintln(stdout, message)
				return nil
			})
		},
	}
}
