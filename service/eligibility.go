package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"voting-client/models"
)

type gateKey struct {
	election models.ID
	voter    models.ID
}

// Gate answers whether a voter has already voted in an election. It keeps
// the last value read from the ledger per (election, voter). The check is
// advisory: two clients can pass it at once and only the ledger's own
// uniqueness constraint decides.
type Gate struct {
	ledger Ledger
	known  map[gateKey]bool
	mu     sync.RWMutex
	log    *zerolog.Logger
}

func NewGate(ledger Ledger, log *zerolog.Logger) *Gate {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Gate{
		ledger: ledger,
		known:  make(map[gateKey]bool),
		log:    log,
	}
}

// Check reads the voting status from the ledger. On failure the last known
// value is returned together with the error.
func (g *Gate) Check(ctx context.Context, election, voter models.ID) (bool, error) {
	key := gateKey{election: election, voter: voter}

	voted, err := g.ledger.HasVoted(ctx, election, voter)
	if err != nil {
		g.mu.RLock()
		last := g.known[key]
		g.mu.RUnlock()
		g.log.Warn().Err(err).Str("election", election.String()).Str("voter", voter.String()).Msg("Eligibility check failed")
		return last, err
	}

	g.mu.Lock()
	g.known[key] = voted
	g.mu.Unlock()
	return voted, nil
}

// Known returns the last value read for the pair. known is false when the
// pair was never read successfully.
func (g *Gate) Known(election, voter models.ID) (voted bool, known bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	voted, known = g.known[gateKey{election: election, voter: voter}]
	return voted, known
}

// Allow reports whether a selection may start: the status must be known
// and the voter must not have voted.
func (g *Gate) Allow(election, voter models.ID) error {
	voted, known := g.Known(election, voter)
	switch {
	case !known:
		return ErrEligibilityUnknown
	case voted:
		return ErrAlreadyVoted
	}
	return nil
}

// MarkVoted records a confirmed vote without asking the ledger.
func (g *Gate) MarkVoted(election, voter models.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.known[gateKey{election: election, voter: voter}] = true
}
