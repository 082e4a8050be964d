package service

import (
	"context"
	"fmt"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"voting-client/api"
	"voting-client/docstore"
	"voting-client/ledger"
	"voting-client/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	emailV1 = "v1@example.com"
	emailV2 = "v2@example.com"
)

type fixture struct {
	store     *docstore.Memory
	server    *api.Server
	ledger    *ledger.Client
	directory *Directory
	gate      *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	store := docstore.NewMemory(nil)
	require.NoError(t, store.Set(docstore.Voters, []map[string]any{
		{"voter_id": 7, "email": emailV1, "name": "Vera One", "password": "pw", "elections": []string{"3"}},
		{"voter_id": "8", "email": emailV2, "name": "Vic Two", "password": string(hash), "elections": "3, 4"},
	}))
	require.NoError(t, store.Set(docstore.Candidates, map[string]any{
		"c1": map[string]any{"candidate_id": 1, "name": "Alpha", "elections": []string{"3"}},
		"c2": map[string]any{"candidate_id": "2", "name": "Beta", "elections": []any{"3", 4}},
		"c3": map[string]any{"candidate_id": 10, "name": "Gamma", "elections": "3"},
		"c4": map[string]any{"candidate_id": 3, "name": "Delta", "elections": []string{"4"}},
		"c5": map[string]any{"candidate_id": 4, "name": "Epsilon", "elections": []string{"33"}},
	}))
	require.NoError(t, store.Set(docstore.Elections, []map[string]any{
		{"election_id": 4, "name": "Board", "status": "open"},
		{"election_id": 3, "name": "Council", "status": "open"},
		{"election_id": 5, "name": "Archive", "status": "closed"},
	}))

	server := api.NewServer(0, nil)
	require.NoError(t, server.RegisterVoter("7", "Vera One", emailV1))
	require.NoError(t, server.RegisterVoter("8", "Vic Two", emailV2))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	client, err := ledger.NewClient(ts.URL, ledger.Options{MaxRetries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)

	directory := NewDirectory(store)
	return &fixture{
		store:     store,
		server:    server,
		ledger:    client,
		directory: directory,
		gate:      NewGate(client, nil),
	}
}

// castVotes records n votes for candidate from fresh voter ids starting at
// firstVoter.
func (f *fixture) castVotes(t *testing.T, election, candidate models.ID, n, firstVoter int) {
	t.Helper()
	for i := 0; i < n; i++ {
		voter := models.ID(fmt.Sprint(firstVoter + i))
		_, err := f.ledger.AddVote(context.Background(), models.VoteRequest{ElectionID: election, CandidateID: candidate, VoterID: voter})
		require.NoError(t, err)
	}
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
