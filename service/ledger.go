package service

import (
	"context"
	"math/big"

	"voting-client/models"
)

// Ledger is the vote ledger as the flows use it. *ledger.Client implements it.
type Ledger interface {
	CandidateVoteCount(ctx context.Context, election, candidate models.ID) (*big.Int, error)
	HasVoted(ctx context.Context, election, voter models.ID) (bool, error)
	AddVote(ctx context.Context, vote models.VoteRequest) (string, error)
	AllVotes(ctx context.Context) ([]models.VoteRecord, error)
	VoterProfile(ctx context.Context, voter models.ID) (models.VoterProfile, error)
}
