// Package evb keeps the append-only chain of vote blocks served by the
// development ledger.
package evb

import (
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"voting-client/models"
)

// DefaultMaxPendingVotes is the number of pending votes sealed into one block.
const DefaultMaxPendingVotes = 5

var (
	ErrDuplicateVote  = errors.New("voter has already voted in this election")
	ErrNoPendingVotes = errors.New("no pending votes to create a block")
)

// Block is one sealed group of votes.
type Block struct {
	Number    uint64              `json:"number"`
	Timestamp int64               `json:"timestamp"`
	PrevHash  common.Hash         `json:"prev_hash"`
	Hash      common.Hash         `json:"hash"`
	Votes     []models.VoteRecord `json:"votes"`
}

type blockForHash struct {
	Number    uint64      `json:"number"`
	Timestamp int64       `json:"timestamp"`
	PrevHash  common.Hash `json:"prev_hash"`
	Votes     [][]string  `json:"votes"`
}

// EVB is the election vote chain. Votes are visible as soon as they are
// submitted; they carry the number of the block they will be sealed into.
type EVB struct {
	Chain      []Block
	pending    []models.VoteRecord
	maxPending int
	now        func() time.Time
	log        *zerolog.Logger
	mutex      sync.RWMutex
}

func New(maxPending int, log *zerolog.Logger) *EVB {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingVotes
	}
	genesis := Block{
		Number:    0,
		Timestamp: time.Now().Unix(),
		Votes:     []models.VoteRecord{},
	}
	genesis.Hash = calculateHash(genesis)

	return &EVB{
		Chain:      []Block{genesis},
		pending:    make([]models.VoteRecord, 0),
		maxPending: maxPending,
		now:        time.Now,
		log:        log,
	}
}

func calculateHash(block Block) common.Hash {
	hashBlock := blockForHash{
		Number:    block.Number,
		Timestamp: block.Timestamp,
		PrevHash:  block.PrevHash,
		Votes:     make([][]string, 0, len(block.Votes)),
	}
	for _, v := range block.Votes {
		fields := make([]string, 0, 7)
		for _, n := range models.EncodeVoteTuple(v) {
			fields = append(fields, n.Hex)
		}
		hashBlock.Votes = append(hashBlock.Votes, fields)
	}

	// blockForHash only holds strings and integers
	data, _ := json.Marshal(hashBlock)
	return crypto.Keccak256Hash(data)
}

func (evb *EVB) sealLocked() error {
	if len(evb.pending) == 0 {
		return ErrNoPendingVotes
	}

	last := evb.Chain[len(evb.Chain)-1]
	block := Block{
		Number:    last.Number + 1,
		Timestamp: evb.now().Unix(),
		PrevHash:  last.Hash,
		Votes:     evb.pending,
	}
	block.Hash = calculateHash(block)

	evb.Chain = append(evb.Chain, block)
	evb.pending = make([]models.VoteRecord, 0)
	evb.log.Debug().Uint64("block", block.Number).Int("votes", len(block.Votes)).Str("hash", block.Hash.Hex()).Msg("Sealed block")
	return nil
}

// Seal closes the pending votes into a new block.
func (evb *EVB) Seal() error {
	evb.mutex.Lock()
	defer evb.mutex.Unlock()
	return evb.sealLocked()
}

// SubmitVote appends a vote. At most one vote is accepted per
// (election, voter) pair.
func (evb *EVB) SubmitVote(election, candidate, voter *big.Int) (models.VoteRecord, error) {
	evb.mutex.Lock()
	defer evb.mutex.Unlock()

	if _, ok := evb.findLocked(func(v models.VoteRecord) bool {
		return v.ElectionID.Cmp(election) == 0 && v.VoterID.Cmp(voter) == 0
	}); ok {
		return models.VoteRecord{}, ErrDuplicateVote
	}

	now := evb.now()
	next := evb.Chain[len(evb.Chain)-1].Number + 1
	record := models.VoteRecord{
		ElectionID:  new(big.Int).Set(election),
		CandidateID: new(big.Int).Set(candidate),
		VoterID:     new(big.Int).Set(voter),
		VoteCount:   big.NewInt(1),
		Timestamp:   time.Unix(now.Unix(), 0).UTC(),
		BlockNumber: next,
	}
	seed := []byte(record.ElectionID.String() + "/" + record.CandidateID.String() + "/" + record.VoterID.String())
	record.TransactionHash = crypto.Keccak256Hash(seed, big.NewInt(now.UnixNano()).Bytes())

	evb.pending = append(evb.pending, record)
	evb.log.Debug().Str("tx", record.TransactionHash.Hex()).Int("pending", len(evb.pending)).Msg("Vote submitted")

	if len(evb.pending) >= evb.maxPending {
		if err := evb.sealLocked(); err != nil {
			return models.VoteRecord{}, err
		}
	}
	return record, nil
}

func (evb *EVB) findLocked(match func(models.VoteRecord) bool) (models.VoteRecord, bool) {
	for _, block := range evb.Chain {
		for _, v := range block.Votes {
			if match(v) {
				return v, true
			}
		}
	}
	for _, v := range evb.pending {
		if match(v) {
			return v, true
		}
	}
	return models.VoteRecord{}, false
}

// HasVoted reports whether voter has a vote in election.
func (evb *EVB) HasVoted(election, voter *big.Int) bool {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	_, ok := evb.findLocked(func(v models.VoteRecord) bool {
		return v.ElectionID.Cmp(election) == 0 && v.VoterID.Cmp(voter) == 0
	})
	return ok
}

// LastVote returns the most recent vote cast by voter in any election.
func (evb *EVB) LastVote(voter *big.Int) (models.VoteRecord, bool) {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	var last models.VoteRecord
	found := false
	for _, v := range evb.allLocked() {
		if v.VoterID.Cmp(voter) == 0 {
			last, found = v, true
		}
	}
	return last, found
}

// CandidateVoteCount sums the votes for candidate in election.
func (evb *EVB) CandidateVoteCount(election, candidate *big.Int) *big.Int {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	total := new(big.Int)
	for _, v := range evb.allLocked() {
		if v.ElectionID.Cmp(election) == 0 && v.CandidateID.Cmp(candidate) == 0 {
			total.Add(total, v.VoteCount)
		}
	}
	return total
}

func (evb *EVB) allLocked() []models.VoteRecord {
	var all []models.VoteRecord
	for _, block := range evb.Chain {
		all = append(all, block.Votes...)
	}
	return append(all, evb.pending...)
}

// AllVotes returns every vote, sealed blocks first, in submission order.
func (evb *EVB) AllVotes() []models.VoteRecord {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	return evb.allLocked()
}

// PendingVotes returns the number of votes not yet sealed.
func (evb *EVB) PendingVotes() int {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	return len(evb.pending)
}

// ValidateChain checks hash links and block hashes.
func (evb *EVB) ValidateChain() bool {
	evb.mutex.RLock()
	defer evb.mutex.RUnlock()
	for i := 1; i < len(evb.Chain); i++ {
		current := evb.Chain[i]
		previous := evb.Chain[i-1]

		if current.PrevHash != previous.Hash {
			evb.log.Warn().Int("block", i).Msg("Invalid chain: hash link broken")
			return false
		}
		if calculated := calculateHash(current); calculated != current.Hash {
			evb.log.Warn().Int("block", i).Str("expected", current.Hash.Hex()).Str("calculated", calculated.Hex()).Msg("Invalid chain: hash mismatch")
			return false
		}
	}
	return true
}
