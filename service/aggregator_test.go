package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-client/api"
	"voting-client/docstore"
	"voting-client/ledger"
	"voting-client/models"
)

func candidateIDs(tally models.Tally) []models.ID {
	ids := make([]models.ID, len(tally.Candidates))
	for i, c := range tally.Candidates {
		ids[i] = c.CandidateID
	}
	return ids
}

func TestTally(t *testing.T) {
	f := newFixture(t)
	f.castVotes(t, "3", "1", 3, 100)
	f.castVotes(t, "3", "2", 2, 200)
	f.castVotes(t, "3", "10", 7, 300)

	metrics := NewMetrics(prometheus.NewRegistry())
	agg := NewAggregator(f.store, f.ledger, 2, metrics, nil)

	tally, err := agg.Tally(context.Background(), "3")
	require.NoError(t, err)

	assert.Equal(t, []models.ID{"1", "2", "10"}, candidateIDs(tally))
	assert.Equal(t, int64(12), tally.TotalVotes.Int64())
	assert.Equal(t, int64(3), tally.Candidates[0].VoteCount.Int64())
	assert.Equal(t, int64(2), tally.Candidates[1].VoteCount.Int64())
	assert.Equal(t, int64(7), tally.Candidates[2].VoteCount.Int64())

	require.Len(t, tally.Chart, 3)
	assert.Equal(t, models.ChartEntry{CandidateID: "1", Label: "% Alpha", Percentage: 25, Color: "#96c31f"}, tally.Chart[0])
	assert.InDelta(t, 16.667, tally.Chart[1].Percentage, 0.001)
	assert.InDelta(t, 58.333, tally.Chart[2].Percentage, 0.001)
	assert.Equal(t, "#f05656", tally.Chart[2].Color)

	sum := 0.0
	for _, e := range tally.Chart {
		sum += e.Percentage
	}
	assert.InDelta(t, 100, sum, 1e-9)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.outcomes.WithLabelValues(FlowTally, OutcomeSuccess)))
}

func TestTallyWithoutVotes(t *testing.T) {
	f := newFixture(t)
	agg := NewAggregator(f.store, f.ledger, 0, nil, nil)

	tally, err := agg.Tally(context.Background(), "4")
	require.NoError(t, err)
	assert.Equal(t, []models.ID{"2", "3"}, candidateIDs(tally))
	assert.Zero(t, tally.TotalVotes.Sign())
	for _, e := range tally.Chart {
		assert.Zero(t, e.Percentage)
	}

	tally, err = agg.Tally(context.Background(), "9")
	require.NoError(t, err)
	assert.Empty(t, tally.Candidates)
	assert.Empty(t, tally.Chart)
}

func TestTallyMembershipIsExact(t *testing.T) {
	f := newFixture(t)
	agg := NewAggregator(f.store, f.ledger, 0, nil, nil)

	tally, err := agg.Tally(context.Background(), "33")
	require.NoError(t, err)
	assert.Equal(t, []models.ID{"4"}, candidateIDs(tally))
}

func TestTallyIsAllOrNothing(t *testing.T) {
	tests := []struct {
		name  string
		fault api.Fault
		want  error
	}{
		{
			name:  "ledger down",
			fault: api.Fault{Status: http.StatusServiceUnavailable},
			want:  ledger.ErrConnectivity,
		},
		{
			name:  "malformed count",
			fault: api.Fault{Status: http.StatusOK, Body: map[string]any{"voteCount": map[string]string{"hex": ""}}},
			want:  models.ErrMalformedNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.castVotes(t, "3", "1", 1, 100)
			metrics := NewMetrics(prometheus.NewRegistry())
			agg := NewAggregator(f.store, f.ledger, 0, metrics, nil)

			f.server.InjectFault(ledger.EndpointCandidateVoteCount, tt.fault)
			tally, err := agg.Tally(context.Background(), "3")
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, tally.Candidates)
			assert.Nil(t, tally.TotalVotes)
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.outcomes.WithLabelValues(FlowTally, OutcomeFailure)))
		})
	}
}

func TestTallyStoreOffline(t *testing.T) {
	f := newFixture(t)
	f.store.SetOffline(true)
	agg := NewAggregator(f.store, f.ledger, 0, nil, nil)

	_, err := agg.Tally(context.Background(), "3")
	assert.ErrorIs(t, err, docstore.ErrConnectivity)
}

type tallyResult struct {
	tally models.Tally
	err   error
}

func nextTally(t *testing.T, ch <-chan tallyResult) tallyResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no tally delivered")
		return tallyResult{}
	}
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	f.castVotes(t, "3", "2", 1, 100)
	agg := NewAggregator(f.store, f.ledger, 0, nil, nil)

	results := make(chan tallyResult, 8)
	sub, err := agg.Watch(context.Background(), "3", func(tally models.Tally, err error) {
		results <- tallyResult{tally, err}
	})
	require.NoError(t, err)

	first := nextTally(t, results)
	require.NoError(t, first.err)
	assert.Equal(t, []models.ID{"1", "2", "10"}, candidateIDs(first.tally))
	assert.Equal(t, int64(1), first.tally.TotalVotes.Int64())

	require.NoError(t, f.store.Set("candidates/c6", map[string]any{"candidate_id": 11, "name": "Zeta", "elections": []string{"3"}}))
	second := nextTally(t, results)
	require.NoError(t, second.err)
	assert.Equal(t, []models.ID{"1", "2", "10", "11"}, candidateIDs(second.tally))

	f.store.SetOffline(true)
	offline := nextTally(t, results)
	assert.ErrorIs(t, offline.err, docstore.ErrConnectivity)

	require.NoError(t, sub.Close())
	f.store.SetOffline(false)
	select {
	case r := <-results:
		t.Fatalf("tally delivered after close: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, sub.Close())
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		count, total int64
		want         float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 4, 25},
		{4, 4, 100},
		{1, 3, 100.0 / 3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, percentage(bigInt(tt.count), bigInt(tt.total)), 1e-9)
	}
}
