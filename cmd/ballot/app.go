package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"voting-client/auth"
	"voting-client/config"
	"voting-client/docstore"
	"voting-client/ledger"
	"voting-client/logger"
	"voting-client/service"
	"voting-client/session"
	"voting-client/storage"
)

// stdout receives command output; logs go to stderr.
var stdout io.Writer = os.Stdout

// app wires the client components from the loaded configuration.
type app struct {
	cfg      config.Config
	log      *zerolog.Logger
	registry *prometheus.Registry

	store        docstore.Store
	ledger       *ledger.Client
	sessionStore storage.SessionStore
	sessions     *session.Manager

	directory *service.Directory
	gate      *service.Gate
	metrics   *service.Metrics
}

func newApp() (*app, error) {
	a := &app{
		log:      logger.NewLogger(),
		registry: prometheus.NewRegistry(),
	}
	if err := a.cfg.Load(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	timeout, err := a.cfg.GetTimeout()
	if err != nil {
		return nil, err
	}
	backoff, err := a.cfg.GetRetryBackoff()
	if err != nil {
		return nil, err
	}

	// 1. Document store
	if a.cfg.FirebaseURL != "" {
		a.store, err = docstore.NewFirebase(a.cfg.FirebaseURL, docstore.FirebaseOptions{
			Auth:       a.cfg.FirebaseAuth,
			Timeout:    timeout,
			MaxRetries: a.cfg.MaxRetries,
			Backoff:    backoff,
			Logger:     a.log,
		})
		if err != nil {
			return nil, err
		}
	} else {
		memory := docstore.NewMemory(a.log)
		if err := memory.LoadFile(a.cfg.SeedFile); err != nil {
			return nil, err
		}
		a.store = memory
	}

	// 2. Ledger
	a.ledger, err = ledger.NewClient(a.cfg.ApiURL, ledger.Options{
		Timeout:    timeout,
		MaxRetries: a.cfg.MaxRetries,
		Backoff:    backoff,
		Registerer: a.registry,
		Logger:     a.log,
	})
	if err != nil {
		return nil, err
	}

	// 3. Session
	path, err := a.cfg.GetSessionPath()
	if err != nil {
		return nil, err
	}
	switch a.cfg.SessionStore {
	case config.SessionStoreBolt:
		a.sessionStore, err = storage.NewBoltStore(path)
	default:
		a.sessionStore, err = storage.NewJSONStore(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	a.directory = service.NewDirectory(a.store)
	var authenticator auth.Authenticator = auth.DirectoryAuthenticator{Voters: a.directory}
	if a.cfg.FirebaseAPIKey != "" {
		authenticator = auth.NewIdentityToolkit(a.cfg.FirebaseAPIKey, "", timeout, a.log)
	}
	a.sessions = session.NewManager(authenticator, a.sessionStore, a.log)

	a.gate = service.NewGate(a.ledger, a.log)
	a.metrics = service.NewMetrics(a.registry)
	return a, nil
}

func (a *app) Close() error {
	if a.sessionStore != nil {
		return a.sessionStore.Close()
	}
	return nil
}

// currentEmail returns the email of the resumed session.
func (a *app) currentEmail() (string, error) {
	s, err := a.sessions.Resume()
	if err != nil {
		return "", err
	}
	return s.Email, nil
}

func (a *app) aggregator() *service.Aggregator {
	return service.NewAggregator(a.store, a.ledger, a.cfg.FetchConcurrency, a.metrics, a.log)
}

func (a *app) voting() *service.VotingService {
	return service.NewVotingService(a.directory, a.ledger, a.gate, a.metrics, a.log)
}

// withApp runs fn with a wired app and closes it afterwards. Errors are
// turned into the alert text shown to the voter.
func withApp(fn func(*app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(a); err != nil {
		a.log.Debug().Err(err).Msg("Command failed")
		return userError(err)
	}
	return nil
}
