package service

import (
	"errors"

	"voting-client/auth"
	"voting-client/docstore"
	"voting-client/ledger"
	"voting-client/models"
	"voting-client/session"
)

var (
	ErrVoterNotFound      = errors.New("voter not found")
	ErrDuplicateVoter     = errors.New("more than one voter registered with this email")
	ErrUnknownCandidate   = errors.New("candidate is not standing in this election")
	ErrIncorrectPassword  = errors.New("incorrect password")
	ErrAlreadyVoted       = errors.New("voter has already voted in this election")
	ErrEligibilityUnknown = errors.New("voting eligibility is not known")
	ErrUnconfirmed        = errors.New("vote accepted but not yet confirmed")
	ErrInvalidTransition  = errors.New("step not allowed in the current state")
	ErrFlowFinished       = errors.New("vote flow already finished")
)

// FailedToVote is shown when the ledger refuses a vote without saying why.
const FailedToVote = "Failed to vote"

// Describe turns an error from any flow into the single alert shown to the
// voter. Ledger rejections keep the ledger's own wording.
func Describe(err error) string {
	var apiErr *ledger.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIncorrectPassword):
		return "Incorrect password"
	case errors.Is(err, ErrAlreadyVoted):
		return "You have already voted in this election"
	case errors.Is(err, ErrUnconfirmed):
		return "Vote accepted but not yet confirmed"
	case errors.Is(err, ErrEligibilityUnknown):
		return "Could not check whether you have already voted, please try again"
	case errors.Is(err, ErrVoterNotFound):
		return "Voter not found"
	case errors.Is(err, ErrDuplicateVoter):
		return "More than one voter is registered with this email"
	case errors.Is(err, ErrUnknownCandidate):
		return "This candidate is not standing in this election"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, session.ErrNotLoggedIn):
		return "Please log in first"
	case errors.Is(err, ledger.ErrConnectivity),
		errors.Is(err, docstore.ErrConnectivity),
		errors.Is(err, auth.ErrUnavailable):
		return "Network error, please try again"
	case errors.Is(err, models.ErrMalformedNumber),
		errors.Is(err, ledger.ErrMalformedResponse):
		return "Received invalid data from the server"
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return FailedToVote
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrFlowFinished):
		return FailedToVote
	default:
		return "Unexpected error: " + err.Error()
	}
}
