package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-client/api"
	"voting-client/models"
	"voting-client/service"
)

const seed = `{
  "voters": {
    "v1": {"voter_id": 7, "email": "v1@example.com", "name": "Vera One", "password": "pw", "elections": ["3"]}
  },
  "candidates": [
    {"candidate_id": 1, "name": "Alpha", "elections": ["3"]},
    {"candidate_id": 2, "name": "Beta", "elections": "3"}
  ],
  "elections": [
    {"election_id": 3, "name": "Council", "date": "2024-05-01", "status": "open"}
  ]
}`

// setup points the client at a fresh development ledger and seed file, and
// captures its output.
func setup(t *testing.T) (*api.Server, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0600))

	srv := api.NewServer(0, nil)
	require.NoError(t, srv.RegisterVoter("7", "Vera One", "v1@example.com"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("HOME", dir)
	t.Setenv("BALLOT_API_URL", ts.URL)
	t.Setenv("BALLOT_SEED_FILE", seedPath)
	t.Setenv("BALLOT_SESSION_PATH", filepath.Join(dir, "session.json"))
	t.Setenv("BALLOT_RETRY_BACKOFF", "1ms")
	t.Setenv("BALLOT_LOG_LEVEL", "error")

	out := new(bytes.Buffer)
	previous := stdout
	stdout = out
	t.Cleanup(func() { stdout = previous })
	return srv, out
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return newCommand().Run(context.Background(), append([]string{"ballot"}, args...))
}

func TestVoteEndToEnd(t *testing.T) {
	srv, out := setup(t)

	err := run(t, "elections")
	assert.ErrorContains(t, err, "Please log in first")

	require.NoError(t, run(t, "login", "--email", "v1@example.com", "--password", "pw"))
	assert.Contains(t, out.String(), "Logged in as v1@example.com")

	out.Reset()
	require.NoError(t, run(t, "elections"))
	assert.Contains(t, out.String(), "Council")

	out.Reset()
	require.NoError(t, run(t, "status", "--election", "3"))
	assert.Contains(t, out.String(), "not voted")

	err = run(t, "vote", "--election", "3", "--candidate", "999", "--password", "pw")
	assert.ErrorIs(t, err, service.ErrUnknownCandidate)
	assert.EqualError(t, err, "This candidate is not standing in this election")
	assert.Empty(t, srv.Votes())

	err = run(t, "vote", "--election", "3", "--candidate", "2", "--password", "wrong")
	assert.ErrorIs(t, err, service.ErrIncorrectPassword)
	assert.EqualError(t, err, "Incorrect password")
	assert.Empty(t, srv.Votes())

	out.Reset()
	require.NoError(t, run(t, "vote", "--election", "3", "--candidate", "2", "--password", "pw"))
	assert.Contains(t, out.String(), "Vote added successfully")
	assert.Len(t, srv.Votes(), 1)

	err = run(t, "vote", "--election", "3", "--candidate", "1", "--password", "pw")
	assert.ErrorIs(t, err, service.ErrAlreadyVoted)

	out.Reset()
	require.NoError(t, run(t, "results", "--election", "3"))
	assert.Contains(t, out.String(), "Beta")
	assert.Contains(t, out.String(), "100.00%")

	out.Reset()
	require.NoError(t, run(t, "whoami"))
	assert.Contains(t, out.String(), "Vera One")

	require.NoError(t, run(t, "logout"))
	err = run(t, "whoami")
	assert.ErrorContains(t, err, "Please log in first")
}

func TestLoginPromptsForPassword(t *testing.T) {
	_, out := setup(t)

	previous := stdin
	stdin = bytes.NewBufferString("pw\n")
	t.Cleanup(func() { stdin = previous })

	require.NoError(t, run(t, "login", "--email", "v1@example.com"))
	assert.Contains(t, out.String(), "Password: ")
	assert.Contains(t, out.String(), "Logged in as v1@example.com")
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestShowTallyLogsWriteFailure(t *testing.T) {
	previous := stdout
	stdout = brokenWriter{}
	t.Cleanup(func() { stdout = previous })

	for _, asJSON := range []bool{true, false} {
		var logs bytes.Buffer
		logger := zerolog.New(&logs)
		a := &app{log: &logger}

		a.showTally(models.Tally{}, asJSON)
		assert.Contains(t, logs.String(), "Failed to print results", "json=%v", asJSON)
		assert.Contains(t, logs.String(), "pipe closed", "json=%v", asJSON)
	}
}
