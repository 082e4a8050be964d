package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// voteTupleLen is the arity of a ledger vote tuple:
// [election_id, candidate_id, voter_id, voteCount, timestamp, transactionHash, blockNumber]
const voteTupleLen = 7

// VoteRequest is the body of a ledger write.
type VoteRequest struct {
	ElectionID  ID `json:"election_id"`
	CandidateID ID `json:"candidate_id"`
	VoterID     ID `json:"voter_id"`
}

// VoteRecord is one append-only ledger entry.
type VoteRecord struct {
	ElectionID      *big.Int
	CandidateID     *big.Int
	VoterID         *big.Int
	VoteCount       *big.Int
	Timestamp       time.Time
	TransactionHash common.Hash
	BlockNumber     uint64
}

// DecodeVoteTuple decodes the ledger's positional encoding of a vote.
func DecodeVoteTuple(tuple []BigNumber) (VoteRecord, error) {
	if len(tuple) < voteTupleLen {
		return VoteRecord{}, fmt.Errorf("%w: vote tuple has %d fields, want %d", ErrMalformedNumber, len(tuple), voteTupleLen)
	}
	values := make([]*big.Int, voteTupleLen)
	for i := 0; i < voteTupleLen; i++ {
		v, err := tuple[i].Int()
		if err != nil {
			return VoteRecord{}, fmt.Errorf("vote tuple field %d: %w", i, err)
		}
		values[i] = v
	}
	if !values[4].IsInt64() || !values[6].IsUint64() {
		return VoteRecord{}, fmt.Errorf("%w: timestamp or block number out of range", ErrMalformedNumber)
	}
	return VoteRecord{
		ElectionID:      values[0],
		CandidateID:     values[1],
		VoterID:         values[2],
		VoteCount:       values[3],
		Timestamp:       time.Unix(values[4].Int64(), 0).UTC(),
		TransactionHash: common.BigToHash(values[5]),
		BlockNumber:     values[6].Uint64(),
	}, nil
}

// EncodeVoteTuple is the inverse of DecodeVoteTuple.
func EncodeVoteTuple(r VoteRecord) []BigNumber {
	count := r.VoteCount
	if count == nil {
		count = big.NewInt(1)
	}
	return []BigNumber{
		NewBigNumber(r.ElectionID),
		NewBigNumber(r.CandidateID),
		NewBigNumber(r.VoterID),
		NewBigNumber(count),
		NewBigNumber(big.NewInt(r.Timestamp.Unix())),
		NewBigNumber(r.TransactionHash.Big()),
		NewBigNumber(new(big.Int).SetUint64(r.BlockNumber)),
	}
}

// Matches reports whether the record is exactly the given vote.
func (r VoteRecord) Matches(req VoteRequest) bool {
	return req.ElectionID.Matches(r.ElectionID) &&
		req.CandidateID.Matches(r.CandidateID) &&
		req.VoterID.Matches(r.VoterID)
}

// CandidateTally is a candidate annotated with its current vote count.
type CandidateTally struct {
	Candidate
	VoteCount *big.Int `json:"vote_count"`
}

// ChartEntry is one slice of the results chart.
type ChartEntry struct {
	CandidateID ID      `json:"candidate_id"`
	Label       string  `json:"label"`
	Percentage  float64 `json:"percentage"`
	Color       string  `json:"color"`
}

// Tally is the aggregated result of one election. Candidates and Chart are
// always derived from the same set of counts.
type Tally struct {
	ElectionID ID               `json:"election_id"`
	Candidates []CandidateTally `json:"candidates"`
	Chart      []ChartEntry     `json:"chart"`
	TotalVotes *big.Int         `json:"total_votes"`
	ComputedAt time.Time        `json:"computed_at"`
}
