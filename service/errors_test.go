package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"voting-client/auth"
	"voting-client/docstore"
	"voting-client/ledger"
	"voting-client/models"
	"voting-client/session"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"password", ErrIncorrectPassword, "Incorrect password"},
		{"wrapped already voted", fmt.Errorf("select: %w", ErrAlreadyVoted), "You have already voted in this election"},
		{"unconfirmed", fmt.Errorf("%w: %w", ErrUnconfirmed, ledger.ErrConnectivity), "Vote accepted but not yet confirmed"},
		{"ledger message", &ledger.APIError{Status: http.StatusConflict, Message: "Election closed"}, "Election closed"},
		{"ledger without message", &ledger.APIError{Status: http.StatusBadRequest}, FailedToVote},
		{"ledger down", fmt.Errorf("%w: %w", ledger.ErrConnectivity, &ledger.APIError{Status: 503, Message: "maintenance"}), "Network error, please try again"},
		{"store down", docstore.ErrConnectivity, "Network error, please try again"},
		{"malformed", fmt.Errorf("vote 0: %w", models.ErrMalformedNumber), "Received invalid data from the server"},
		{"credentials", auth.ErrInvalidCredentials, "Invalid email or password"},
		{"logged out", session.ErrNotLoggedIn, "Please log in first"},
		{"duplicate voter", ErrDuplicateVoter, "More than one voter is registered with this email"},
		{"unknown candidate", fmt.Errorf("%w: 999 in election 3", ErrUnknownCandidate), "This candidate is not standing in this election"},
		{"other", errors.New("boom"), "Unexpected error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}
