package models

import (
	"math/big"
	"time"
)

type Voter struct {
	VoterID   ID          `json:"voter_id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Password  string      `json:"password"`
	Elections Memberships `json:"elections"`
}

type Candidate struct {
	CandidateID ID          `json:"candidate_id"`
	Name        string      `json:"name"`
	Vision      string      `json:"vision"`
	Mission     string      `json:"mission"`
	Elections   Memberships `json:"elections"`
}

type Election struct {
	ElectionID  ID     `json:"election_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Status      string `json:"status"`
}

// VoterProfile is the ledger's view of a voter.
type VoterProfile struct {
	ID          *big.Int  `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	HasVoted    bool      `json:"has_voted"`
	TxHash      string    `json:"tx_hash,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}
