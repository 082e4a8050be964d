package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voting-client/models"
)

// State is a step of the vote submission flow.
type State int

const (
	StateIdle State = iota
	StateCandidateSelected
	StatePasswordPrompt
	StateVerifying
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateRejected
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateCandidateSelected: "candidate_selected",
	StatePasswordPrompt:    "password_prompt",
	StateVerifying:         "verifying",
	StateSubmitting:        "submitting",
	StateConfirming:        "confirming",
	StateSucceeded:         "succeeded",
	StateRejected:          "rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further step is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateRejected
}

// VotingService creates vote submission flows sharing one ledger, voter
// directory and eligibility gate.
type VotingService struct {
	directory *Directory
	ledger    Ledger
	gate      *Gate
	metrics   *Metrics
	log       *zerolog.Logger
}

func NewVotingService(directory *Directory, ledger Ledger, gate *Gate, metrics *Metrics, log *zerolog.Logger) *VotingService {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &VotingService{
		directory: directory,
		ledger:    ledger,
		gate:      gate,
		metrics:   metrics,
		log:       log,
	}
}

// Begin starts a flow for the voter signed in as email.
func (vs *VotingService) Begin(election models.ID, email string) *Submission {
	return &Submission{
		vs:       vs,
		election: election,
		email:    email,
		state:    StateIdle,
	}
}

// Submission walks one voter through casting one vote:
// Idle -> CandidateSelected -> PasswordPrompt -> Verifying -> Submitting ->
// Confirming -> Succeeded or Rejected. Steps run one at a time and a
// finished flow cannot be reused.
type Submission struct {
	vs       *VotingService
	election models.ID
	email    string

	run sync.Mutex // serializes steps

	mu        sync.RWMutex
	state     State
	voterID   models.ID
	standing  map[models.ID]bool
	candidate models.ID
	message   string
	err       error
}

func (s *Submission) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err is the reason a rejected flow ended.
func (s *Submission) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Message is the ledger's confirmation text of a succeeded flow.
func (s *Submission) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

func (s *Submission) Candidate() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candidate
}

func (s *Submission) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Eligibility resolves the voter, loads the candidates standing in this
// election and reads the gate. It may be called again to refresh a stale or
// unknown status.
func (s *Submission) Eligibility(ctx context.Context) (bool, error) {
	s.run.Lock()
	defer s.run.Unlock()
	if s.State().Terminal() {
		return false, ErrFlowFinished
	}

	voter, err := s.vs.directory.ByEmail(ctx, s.email)
	if err != nil {
		return false, err
	}
	candidates, err := s.vs.directory.Candidates(ctx, s.election)
	if err != nil {
		return false, err
	}
	ids := make(map[models.ID]bool, len(candidates))
	for _, c := range candidates {
		ids[c.CandidateID] = true
	}
	s.mu.Lock()
	s.voterID = voter.VoterID
	s.standing = ids
	s.mu.Unlock()

	return s.vs.gate.Check(ctx, s.election, voter.VoterID)
}

// Select picks a candidate standing in the election. It is refused unless
// the gate is known and says the voter has not voted. Selecting again
// replaces the choice.
func (s *Submission) Select(candidate models.ID) error {
	s.run.Lock()
	defer s.run.Unlock()

	state := s.State()
	switch {
	case state.Terminal():
		return ErrFlowFinished
	case state != StateIdle && state != StateCandidateSelected:
		return fmt.Errorf("%w: select in %s", ErrInvalidTransition, state)
	}
	if err := s.allowed(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.standing[candidate] {
		return fmt.Errorf("%w: %s in election %s", ErrUnknownCandidate, candidate, s.election)
	}
	s.candidate = candidate
	s.state = StateCandidateSelected
	return nil
}

// PromptPassword moves a selected candidate on to the password prompt.
func (s *Submission) PromptPassword() error {
	s.run.Lock()
	defer s.run.Unlock()

	state := s.State()
	switch {
	case state.Terminal():
		return ErrFlowFinished
	case state != StateCandidateSelected:
		return fmt.Errorf("%w: password prompt in %s", ErrInvalidTransition, state)
	}
	if err := s.allowed(); err != nil {
		return err
	}
	s.setState(StatePasswordPrompt)
	return nil
}

// Cancel leaves the password prompt or the selection without voting.
func (s *Submission) Cancel() error {
	s.run.Lock()
	defer s.run.Unlock()

	state := s.State()
	switch {
	case state.Terminal():
		return ErrFlowFinished
	case state != StatePasswordPrompt && state != StateCandidateSelected:
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, state)
	}
	s.mu.Lock()
	s.candidate = ""
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

func (s *Submission) allowed() error {
	s.mu.RLock()
	voterID := s.voterID
	s.mu.RUnlock()
	if voterID == "" {
		return ErrEligibilityUnknown
	}
	return s.vs.gate.Allow(s.election, voterID)
}

// Submit verifies password, writes the vote once and confirms it against
// the ledger's vote history. The returned error is also kept in Err.
func (s *Submission) Submit(ctx context.Context, password string) (string, error) {
	s.run.Lock()
	defer s.run.Unlock()

	state := s.State()
	switch {
	case state.Terminal():
		return "", ErrFlowFinished
	case state != StatePasswordPrompt:
		return "", fmt.Errorf("%w: submit in %s", ErrInvalidTransition, state)
	}

	start := time.Now()
	candidate := s.Candidate()
	log := s.vs.log.With().
		Str("election", s.election.String()).
		Str("candidate", candidate.String()).
		Str("email", s.email).
		Logger()

	// 1. Verify the password against the voter record
	s.setState(StateVerifying)
	voter, err := s.vs.directory.VerifyPassword(ctx, s.email, password)
	if err != nil {
		return "", s.reject(&log, OutcomeRejected, start, err)
	}

	// 2. Write the vote, exactly once
	s.setState(StateSubmitting)
	request := models.VoteRequest{ElectionID: s.election, CandidateID: candidate, VoterID: voter.VoterID}
	message, err := s.vs.ledger.AddVote(ctx, request)
	if err != nil {
		return "", s.reject(&log, OutcomeRejected, start, err)
	}

	// 3. Confirm the vote is in the ledger's history
	s.setState(StateConfirming)
	votes, err := s.vs.ledger.AllVotes(ctx)
	if err != nil {
		return "", s.reject(&log, OutcomeUnconfirmed, start, fmt.Errorf("%w: %w", ErrUnconfirmed, err))
	}
	found := false
	for _, v := range votes {
		if v.Matches(request) {
			found = true
			break
		}
	}
	if !found {
		return "", s.reject(&log, OutcomeUnconfirmed, start, ErrUnconfirmed)
	}

	s.vs.gate.MarkVoted(s.election, voter.VoterID)
	s.mu.Lock()
	s.state = StateSucceeded
	s.message = message
	s.mu.Unlock()

	s.vs.metrics.record(FlowVote, OutcomeSuccess, start)
	log.Info().Str("voter", voter.VoterID.String()).Msg("Vote confirmed")
	return message, nil
}

func (s *Submission) reject(log *zerolog.Logger, outcome string, start time.Time, err error) error {
	s.mu.Lock()
	from := s.state
	s.state = StateRejected
	s.err = err
	s.mu.Unlock()

	s.vs.metrics.record(FlowVote, outcome, start)
	log.Warn().Err(err).Str("step", from.String()).Msg("Vote rejected")
	return err
}
