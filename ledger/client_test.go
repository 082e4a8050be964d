package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-client/api"
	"voting-client/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLedger(t *testing.T) (*api.Server, *Client) {
	t.Helper()
	srv := api.NewServer(0, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := NewClient(ts.URL, Options{MaxRetries: 2, Backoff: time.Millisecond})
	require.NoError(t, err)
	return srv, client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://ledger", Options{})
	assert.Error(t, err)
	_, err = NewClient("://", Options{})
	assert.Error(t, err)
}

func TestVoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, client := newLedger(t)
	require.NoError(t, srv.RegisterVoter("7", "Ana", "ana@example.com"))

	voted, err := client.HasVoted(ctx, "3", "7")
	require.NoError(t, err)
	assert.False(t, voted)

	msg, err := client.AddVote(ctx, models.VoteRequest{ElectionID: "3", CandidateID: "2", VoterID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "Vote added successfully", msg)

	voted, err = client.HasVoted(ctx, "3", "7")
	require.NoError(t, err)
	assert.True(t, voted)

	count, err := client.CandidateVoteCount(ctx, "3", "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Int64())

	votes, err := client.AllVotes(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].Matches(models.VoteRequest{ElectionID: "3", CandidateID: "2", VoterID: "7"}))

	profile, err := client.VoterProfile(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), profile.ID.Int64())
	assert.Equal(t, "Ana", profile.Name)
	assert.True(t, profile.HasVoted)
	assert.Equal(t, votes[0].TransactionHash.Hex(), profile.TxHash)
	assert.False(t, profile.LastUpdated.IsZero())
}

func TestAddVoteRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate surfaces ledger message", func(t *testing.T) {
		_, client := newLedger(t)
		_, err := client.AddVote(ctx, models.VoteRequest{ElectionID: "1", CandidateID: "1", VoterID: "1"})
		require.NoError(t, err)

		_, err = client.AddVote(ctx, models.VoteRequest{ElectionID: "1", CandidateID: "2", VoterID: "1"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusConflict, apiErr.Status)
		assert.Equal(t, "Voter has already voted in this election", apiErr.Message)
		assert.True(t, IsRejection(err))
	})

	t.Run("error without message", func(t *testing.T) {
		srv, client := newLedger(t)
		srv.InjectFault(EndpointAddVote, api.Fault{Status: http.StatusBadRequest, Body: "bad"})

		_, err := client.AddVote(ctx, models.VoteRequest{ElectionID: "1", CandidateID: "1", VoterID: "1"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Empty(t, apiErr.Message)
	})

	t.Run("success with malformed body", func(t *testing.T) {
		srv, client := newLedger(t)
		srv.InjectFault(EndpointAddVote, api.Fault{Status: http.StatusOK, Body: "<html>"})

		_, err := client.AddVote(ctx, models.VoteRequest{ElectionID: "1", CandidateID: "1", VoterID: "1"})
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("server error is not retried", func(t *testing.T) {
		var calls int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream node down"}`))
		}))
		defer ts.Close()

		client, err := NewClient(ts.URL, Options{MaxRetries: 3, Backoff: time.Millisecond})
		require.NoError(t, err)

		_, err = client.AddVote(ctx, models.VoteRequest{ElectionID: "1", CandidateID: "1", VoterID: "1"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "upstream node down", apiErr.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestReadsRetryWithBackoff(t *testing.T) {
	srv := api.NewServer(0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	reg := prometheus.NewRegistry()
	client, err := NewClient(ts.URL, Options{MaxRetries: 3, Backoff: 10 * time.Millisecond, Registerer: reg})
	require.NoError(t, err)

	var waits []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	srv.InjectFault(EndpointCandidateVoteCount, api.Fault{Status: http.StatusServiceUnavailable, Remaining: 2})
	count, err := client.CandidateVoteCount(context.Background(), "1", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Int64())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)

	assert.Equal(t, float64(2), testutil.ToFloat64(client.metrics.requests.WithLabelValues(EndpointCandidateVoteCount, "5xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(client.metrics.requests.WithLabelValues(EndpointCandidateVoteCount, "2xx")))
	assert.Equal(t, float64(2), testutil.ToFloat64(client.metrics.retries.WithLabelValues(EndpointCandidateVoteCount)))
}

func TestReadsGiveUpAsConnectivityFailure(t *testing.T) {
	srv, client := newLedger(t)
	client.sleep = func(context.Context, time.Duration) error { return nil }

	srv.InjectFault(EndpointHasVoted, api.Fault{Status: http.StatusServiceUnavailable, Body: map[string]string{"message": "maintenance"}})
	_, err := client.HasVoted(context.Background(), "1", "1")
	assert.ErrorIs(t, err, ErrConnectivity)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "maintenance", apiErr.Message)
	assert.False(t, IsRejection(err))

	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	unreachable, err := NewClient(url, Options{MaxRetries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	_, err = unreachable.AllVotes(context.Background())
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestReadsStopOnContextCancel(t *testing.T) {
	srv, client := newLedger(t)
	srv.InjectFault(EndpointAllVotes, api.Fault{Status: http.StatusServiceUnavailable})

	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.AllVotes(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMalformedPayloads(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		body     any
		call     func(*Client) error
		want     error
	}{
		{
			name:     "empty vote count hex",
			endpoint: EndpointCandidateVoteCount,
			body:     map[string]any{"voteCount": map[string]string{"hex": ""}},
			call: func(c *Client) error {
				_, err := c.CandidateVoteCount(context.Background(), "1", "1")
				return err
			},
			want: models.ErrMalformedNumber,
		},
		{
			name:     "missing vote count",
			endpoint: EndpointCandidateVoteCount,
			body:     map[string]any{},
			call: func(c *Client) error {
				_, err := c.CandidateVoteCount(context.Background(), "1", "1")
				return err
			},
			want: ErrMalformedResponse,
		},
		{
			name:     "missing hasVoted",
			endpoint: EndpointHasVoted,
			body:     map[string]any{"voted": true},
			call: func(c *Client) error {
				_, err := c.HasVoted(context.Background(), "1", "1")
				return err
			},
			want: ErrMalformedResponse,
		},
		{
			name:     "short vote tuple",
			endpoint: EndpointAllVotes,
			body:     [][]map[string]string{{{"hex": "0x1"}}},
			call: func(c *Client) error {
				_, err := c.AllVotes(context.Background())
				return err
			},
			want: models.ErrMalformedNumber,
		},
		{
			name:     "vote is not a tuple",
			endpoint: EndpointAllVotes,
			body:     []string{"vote"},
			call: func(c *Client) error {
				_, err := c.AllVotes(context.Background())
				return err
			},
			want: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, client := newLedger(t)
			srv.InjectFault(tt.endpoint, api.Fault{Status: http.StatusOK, Body: tt.body})
			assert.ErrorIs(t, tt.call(client), tt.want)
		})
	}
}

func TestAllVotesKeyedForm(t *testing.T) {
	srv, client := newLedger(t)
	hex := func(h string) map[string]string { return map[string]string{"type": "BigNumber", "hex": h} }
	srv.InjectFault(EndpointAllVotes, api.Fault{Status: http.StatusOK, Body: []map[string]any{{
		"idElection":      hex("0x03"),
		"idCandidate":     hex("0x2"),
		"idVoter":         hex("0x7"),
		"voteCount":       hex("0x1"),
		"timestamp":       hex("0x6553f100"),
		"transactionHash": hex("0xabc"),
		"blockNumber":     hex("0x4"),
	}}})

	votes, err := client.AllVotes(context.Background())
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].Matches(models.VoteRequest{ElectionID: "3", CandidateID: "2", VoterID: "7"}))
	assert.Equal(t, uint64(4), votes[0].BlockNumber)
}

func TestVoterProfileTupleForm(t *testing.T) {
	srv, client := newLedger(t)
	srv.InjectFault(EndpointVoter, api.Fault{Status: http.StatusOK, Body: []any{
		map[string]string{"hex": "0x07"}, "Ana", "ana@example.com", true, "0xfeed", map[string]string{"hex": "0x6553f100"},
	}})

	profile, err := client.VoterProfile(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), profile.ID.Int64())
	assert.Equal(t, "0xfeed", profile.TxHash)
	assert.Equal(t, int64(0x6553f100), profile.LastUpdated.Unix())

	srv.ClearFaults()
	_, err = client.VoterProfile(context.Background(), "8")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
