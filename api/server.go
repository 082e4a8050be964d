// Package api serves an in-memory vote ledger speaking the same HTTP API as
// the production one. It backs the devledger command and the client tests.
package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"voting-client/blockchain/evb"
	"voting-client/models"
)

// Fault replaces the response of an endpoint. Remaining counts how many
// requests it applies to; zero means until cleared.
type Fault struct {
	Status    int
	Body      any
	Remaining int
}

type registeredVoter struct {
	ID      *big.Int
	Name    string
	Email   string
	Updated time.Time
}

type voterResponse struct {
	ID          models.BigNumber `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	HasVoted    bool             `json:"hasVoted"`
	TxHash      string           `json:"txHash"`
	LastUpdated models.BigNumber `json:"lastUpdated"`
}

type Server struct {
	chain      *evb.EVB
	voters     map[string]*registeredVoter
	faults     map[string]*Fault
	hideVotes  bool
	mutex      sync.RWMutex
	log        *zerolog.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer returns a ledger that seals a block every maxPending votes.
func NewServer(maxPending int, log *zerolog.Logger) *Server {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	s := &Server{
		chain:  evb.New(maxPending, log),
		voters: make(map[string]*registeredVoter),
		faults: make(map[string]*Fault),
		log:    log,
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(requestid.New())
	router.Use(gin.Recovery())
	router.Use(s.injectFaults)

	router.POST("/addVote", s.addVote)
	router.GET("/getAllVotes", s.getAllVotes)
	router.GET("/hasVotedInElection/:election/:voter", s.hasVotedInElection)
	router.GET("/getCandidateVoteCount/:election/:candidate", s.getCandidateVoteCount)
	router.GET("/voters/:voter", s.getVoter)
	router.GET("/validateChain", s.validateChain)
	return router
}

// Handler exposes the routes for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mutex.Unlock()

	s.log.Info().Str("addr", addr).Msg("Development ledger listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.RLock()
	srv := s.httpServer
	s.mutex.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SealEvery closes pending votes into a block on every tick until ctx ends.
func (s *Server) SealEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.chain.Seal(); err != nil && !errors.Is(err, evb.ErrNoPendingVotes) {
				s.log.Error().Err(err).Msg("Failed to seal block")
			}
		}
	}
}

// RegisterVoter makes a voter known to the /voters endpoint and lets
// hasVotedInElection resolve them by email.
func (s *Server) RegisterVoter(id models.ID, name, email string) error {
	n, ok := id.Int()
	if !ok {
		return errors.New("voter id must be a decimal integer")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.voters[n.String()] = &registeredVoter{ID: n, Name: name, Email: email, Updated: time.Now().UTC()}
	return nil
}

// InjectFault makes endpoint (the first path segment, e.g. "addVote") answer
// with f instead of its normal response.
func (s *Server) InjectFault(endpoint string, f Fault) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.faults[endpoint] = &f
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.faults = make(map[string]*Fault)
}

// HideVotes makes getAllVotes return an empty history while votes keep being
// recorded, as a lagging ledger replica would.
func (s *Server) HideVotes(hide bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hideVotes = hide
}

// Votes returns every recorded vote.
func (s *Server) Votes() []models.VoteRecord {
	return s.chain.AllVotes()
}

func (s *Server) injectFaults(c *gin.Context) {
	endpoint := strings.SplitN(strings.TrimPrefix(c.Request.URL.Path, "/"), "/", 2)[0]

	s.mutex.Lock()
	f, ok := s.faults[endpoint]
	var fault Fault
	if ok {
		fault = *f
		if f.Remaining > 0 {
			f.Remaining--
			if f.Remaining == 0 {
				delete(s.faults, endpoint)
			}
		}
	}
	s.mutex.Unlock()

	if !ok {
		c.Next()
		return
	}

	s.log.Debug().Str("endpoint", endpoint).Int("status", fault.Status).Msg("Injected fault")
	switch body := fault.Body.(type) {
	case nil:
		c.AbortWithStatus(fault.Status)
	case string:
		c.Data(fault.Status, "text/plain; charset=utf-8", []byte(body))
		c.Abort()
	default:
		c.AbortWithStatusJSON(fault.Status, body)
	}
}

func parseID(raw string) (*big.Int, bool) {
	return models.ID(strings.TrimSpace(raw)).Int()
}

func (s *Server) addVote(c *gin.Context) {
	var req models.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	election, okE := req.ElectionID.Int()
	candidate, okC := req.CandidateID.Int()
	voter, okV := req.VoterID.Int()
	if !okE || !okC || !okV {
		c.JSON(http.StatusBadRequest, gin.H{"message": "election_id, candidate_id and voter_id must be integers"})
		return
	}

	record, err := s.chain.SubmitVote(election, candidate, voter)
	if errors.Is(err, evb.ErrDuplicateVote) {
		c.JSON(http.StatusConflict, gin.H{"message": "Voter has already voted in this election"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mutex.Lock()
	if v, ok := s.voters[voter.String()]; ok {
		v.Updated = record.Timestamp
	}
	s.mutex.Unlock()

	s.log.Info().
		Str("request_id", requestid.Get(c)).
		Str("election", election.String()).
		Str("voter", voter.String()).
		Str("tx", record.TransactionHash.Hex()).
		Msg("Vote recorded")
	c.JSON(http.StatusOK, gin.H{
		"message":         "Vote added successfully",
		"transactionHash": record.TransactionHash.Hex(),
		"blockNumber":     record.BlockNumber,
	})
}

func (s *Server) getAllVotes(c *gin.Context) {
	s.mutex.RLock()
	hide := s.hideVotes
	s.mutex.RUnlock()

	votes := [][]models.BigNumber{}
	if !hide {
		for _, v := range s.chain.AllVotes() {
			votes = append(votes, models.EncodeVoteTuple(v))
		}
	}
	c.JSON(http.StatusOK, votes)
}

// resolveVoter accepts a numeric voter id or the email of a registered voter.
func (s *Server) resolveVoter(raw string) (*big.Int, bool) {
	if id, ok := parseID(raw); ok {
		return id, true
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, v := range s.voters {
		if strings.EqualFold(v.Email, raw) {
			return v.ID, true
		}
	}
	return nil, false
}

func (s *Server) hasVotedInElection(c *gin.Context) {
	election, ok := parseID(c.Param("election"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid election id"})
		return
	}

	voter, ok := s.resolveVoter(c.Param("voter"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"hasVoted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hasVoted": s.chain.HasVoted(election, voter)})
}

func (s *Server) getCandidateVoteCount(c *gin.Context) {
	election, okE := parseID(c.Param("election"))
	candidate, okC := parseID(c.Param("candidate"))
	if !okE || !okC {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid election or candidate id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voteCount": models.NewBigNumber(s.chain.CandidateVoteCount(election, candidate))})
}

func (s *Server) getVoter(c *gin.Context) {
	id, ok := s.resolveVoter(c.Param("voter"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "voter not found"})
		return
	}

	s.mutex.RLock()
	v, ok := s.voters[id.String()]
	var voter registeredVoter
	if ok {
		voter = *v
	}
	s.mutex.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "voter not found"})
		return
	}

	resp := voterResponse{
		ID:          models.NewBigNumber(voter.ID),
		Name:        voter.Name,
		Email:       voter.Email,
		LastUpdated: models.NewBigNumber(big.NewInt(voter.Updated.Unix())),
	}
	if last, ok := s.chain.LastVote(voter.ID); ok {
		resp.HasVoted = true
		resp.TxHash = last.TransactionHash.Hex()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) validateChain(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"is_valid": s.chain.ValidateChain(),
		"votes":    len(s.chain.AllVotes()),
		"pending":  s.chain.PendingVotes(),
	})
}
