package service

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"voting-client/docstore"
	"voting-client/models"
)

// DefaultFetchConcurrency bounds the parallel vote count lookups of one tally.
const DefaultFetchConcurrency = 8

var chartPalette = []string{"#96c31f", "#f5a623", "#f05656", "#50e3c2", "#4a90e2"}

// Aggregator computes election results from the candidates collection and
// the ledger's per-candidate counts.
type Aggregator struct {
	store   docstore.Store
	ledger  Ledger
	limit   int
	metrics *Metrics
	log     *zerolog.Logger
	now     func() time.Time
}

func NewAggregator(store docstore.Store, ledger Ledger, concurrency int, metrics *Metrics, log *zerolog.Logger) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Aggregator{
		store:   store,
		ledger:  ledger,
		limit:   concurrency,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Tally reads the candidates once and aggregates their counts for election.
func (a *Aggregator) Tally(ctx context.Context, election models.ID) (models.Tally, error) {
	snap, err := a.store.Get(ctx, docstore.Candidates)
	if err != nil {
		return models.Tally{}, fmt.Errorf("failed to read candidates: %w", err)
	}
	return a.aggregate(ctx, election, snap)
}

func (a *Aggregator) aggregate(ctx context.Context, election models.ID, snap docstore.Snapshot) (tally models.Tally, err error) {
	start := time.Now()
	defer func() {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeFailure
			a.log.Error().Err(err).Str("election", election.String()).Msg("Aggregation failed")
		}
		a.metrics.record(FlowTally, outcome, start)
	}()

	// 1. Keep the candidates standing in this election
	candidates, err := standing(snap, election)
	if err != nil {
		return models.Tally{}, err
	}
	tallies := make([]models.CandidateTally, 0, len(candidates))
	for _, c := range candidates {
		tallies = append(tallies, models.CandidateTally{Candidate: c})
	}

	// 2. Fetch every count, one failure fails the tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i := range tallies {
		g.Go(func() error {
			count, err := a.ledger.CandidateVoteCount(gctx, election, tallies[i].CandidateID)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", tallies[i].CandidateID, err)
			}
			tallies[i].VoteCount = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Tally{}, err
	}

	// 3. Order by candidate id and derive the chart from the same counts
	slices.SortStableFunc(tallies, func(x, y models.CandidateTally) int {
		return x.CandidateID.Compare(y.CandidateID)
	})

	total := new(big.Int)
	for _, t := range tallies {
		total.Add(total, t.VoteCount)
	}

	chart := make([]models.ChartEntry, len(tallies))
	for i, t := range tallies {
		chart[i] = models.ChartEntry{
			CandidateID: t.CandidateID,
			Label:       "% " + t.Name,
			Percentage:  percentage(t.VoteCount, total),
			Color:       chartPalette[i%len(chartPalette)],
		}
	}

	return models.Tally{
		ElectionID: election,
		Candidates: tallies,
		Chart:      chart,
		TotalVotes: total,
		ComputedAt: a.now().UTC(),
	}, nil
}

func percentage(count, total *big.Int) float64 {
	if total.Sign() == 0 {
		return 0
	}
	p := new(big.Float).SetInt(count)
	p.Mul(p, big.NewFloat(100))
	p.Quo(p, new(big.Float).SetInt(total))
	f, _ := p.Float64()
	return f
}

// Watch aggregates election again on every change of the candidates
// collection. A change cancels the aggregation still running for the
// previous one, and fn is never called concurrently. fn must not call
// Close on the returned subscription.
func (a *Aggregator) Watch(ctx context.Context, election models.ID, fn func(models.Tally, error)) (docstore.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &tallyWatch{fn: fn, cancel: cancel}

	sub, err := a.store.Subscribe(ctx, docstore.Candidates, func(snap docstore.Snapshot, err error) {
		runCtx, gen, ok := w.next(ctx)
		if !ok {
			return
		}
		if err != nil {
			w.emit(gen, models.Tally{}, err)
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			tally, err := a.aggregate(runCtx, election, snap)
			if runCtx.Err() != nil {
				return
			}
			w.emit(gen, tally, err)
		}()
	})
	if err != nil {
		cancel()
		return nil, err
	}
	w.sub = sub
	return w, nil
}

type tallyWatch struct {
	fn     func(models.Tally, error)
	sub    docstore.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // guards gen, stop, closed
	gen    uint64
	stop   context.CancelFunc
	closed bool

	deliver sync.Mutex // held while fn runs
}

// next cancels the running aggregation and starts a new generation.
func (w *tallyWatch) next(parent context.Context) (context.Context, uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, 0, false
	}
	if w.stop != nil {
		w.stop()
	}
	ctx, stop := context.WithCancel(parent)
	w.gen++
	w.stop = stop
	return ctx, w.gen, true
}

func (w *tallyWatch) emit(gen uint64, tally models.Tally, err error) {
	w.deliver.Lock()
	defer w.deliver.Unlock()

	w.mu.Lock()
	stale := w.closed || gen != w.gen
	w.mu.Unlock()
	if stale {
		return
	}
	w.fn(tally, err)
}

func (w *tallyWatch) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.stop != nil {
		w.stop()
	}
	w.mu.Unlock()

	err := w.sub.Close()
	w.cancel()
	w.wg.Wait()
	return err
}
