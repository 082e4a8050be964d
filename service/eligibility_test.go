package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-client/api"
	"voting-client/ledger"
	"voting-client/models"
)

func TestGateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, known := f.gate.Known("3", "7")
	assert.False(t, known)
	assert.ErrorIs(t, f.gate.Allow("3", "7"), ErrEligibilityUnknown)

	first, err := f.gate.Check(ctx, "3", "7")
	require.NoError(t, err)
	second, err := f.gate.Check(ctx, "3", "7")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.False(t, second)
	assert.NoError(t, f.gate.Allow("3", "7"))

	_, err = f.ledger.AddVote(ctx, models.VoteRequest{ElectionID: "3", CandidateID: "2", VoterID: "7"})
	require.NoError(t, err)

	voted, err := f.gate.Check(ctx, "3", "7")
	require.NoError(t, err)
	assert.True(t, voted)
	assert.ErrorIs(t, f.gate.Allow("3", "7"), ErrAlreadyVoted)

	// other elections are unaffected
	voted, err = f.gate.Check(ctx, "4", "7")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestGateKeepsLastKnownOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.server.InjectFault(ledger.EndpointHasVoted, api.Fault{Status: http.StatusServiceUnavailable})
	voted, err := f.gate.Check(ctx, "3", "7")
	assert.ErrorIs(t, err, ledger.ErrConnectivity)
	assert.False(t, voted)
	_, known := f.gate.Known("3", "7")
	assert.False(t, known)

	f.server.ClearFaults()
	f.gate.MarkVoted("3", "7")

	f.server.InjectFault(ledger.EndpointHasVoted, api.Fault{Status: http.StatusOK, Body: map[string]any{}})
	voted, err = f.gate.Check(ctx, "3", "7")
	assert.ErrorIs(t, err, ledger.ErrMalformedResponse)
	assert.True(t, voted)
}
