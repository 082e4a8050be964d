// Package ledger is the HTTP client for the vote ledger API.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"voting-client/models"
	"voting-client/retry"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 250 * time.Millisecond
	maxBackoffExp  = 6
	maxBodySize    = 32 << 20
)

// Endpoint names, also used as metric labels.
const (
	EndpointCandidateVoteCount = "getCandidateVoteCount"
	EndpointHasVoted           = "hasVotedInElection"
	EndpointAddVote            = "addVote"
	EndpointAllVotes           = "getAllVotes"
	EndpointVoter              = "voters"
)

// Options tune a Client. Zero values pick the defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
}

// Client talks to one ledger. Reads are retried with exponential backoff on
// connectivity failures; AddVote is sent exactly once.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	log        *zerolog.Logger
	metrics    *metrics
	sleep      func(context.Context, time.Duration) error
}

func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid ledger url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		http:       opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		log:        opts.Logger,
		metrics:    newMetrics(opts.Registerer),
		sleep:      retry.Sleep,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.log == nil {
		nop := zerolog.Nop()
		c.log = &nop
	}
	return c, nil
}

// CandidateVoteCount returns the number of votes recorded for candidate in
// election.
func (c *Client) CandidateVoteCount(ctx context.Context, election, candidate models.ID) (*big.Int, error) {
	var resp struct {
		VoteCount *models.BigNumber `json:"voteCount"`
	}
	path := "/" + EndpointCandidateVoteCount + "/" + url.PathEscape(election.String()) + "/" + url.PathEscape(candidate.String())
	if err := c.get(ctx, EndpointCandidateVoteCount, path, &resp); err != nil {
		return nil, err
	}
	if resp.VoteCount == nil {
		return nil, fmt.Errorf("%w: voteCount missing for candidate %s", ErrMalformedResponse, candidate)
	}
	count, err := resp.VoteCount.Int()
	if err != nil {
		return nil, fmt.Errorf("vote count for candidate %s in election %s: %w", candidate, election, err)
	}
	return count, nil
}

// HasVoted reports whether voter already has a vote in election.
func (c *Client) HasVoted(ctx context.Context, election, voter models.ID) (bool, error) {
	var resp struct {
		HasVoted *bool `json:"hasVoted"`
	}
	path := "/" + EndpointHasVoted + "/" + url.PathEscape(election.String()) + "/" + url.PathEscape(voter.String())
	if err := c.get(ctx, EndpointHasVoted, path, &resp); err != nil {
		return false, err
	}
	if resp.HasVoted == nil {
		return false, fmt.Errorf("%w: hasVoted missing", ErrMalformedResponse)
	}
	return *resp.HasVoted, nil
}

type messageBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (m messageBody) text() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Error
}

// AddVote records a vote. It is sent once and never retried. The returned
// string is the ledger's confirmation message, if any.
func (c *Client) AddVote(ctx context.Context, vote models.VoteRequest) (string, error) {
	payload, err := json.Marshal(vote)
	if err != nil {
		return "", err
	}

	status, body, err := c.do(ctx, http.MethodPost, EndpointAddVote, "/"+EndpointAddVote, payload)
	if err != nil {
		return "", err
	}

	var msg messageBody
	decodeErr := json.Unmarshal(body, &msg)

	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status}
		if decodeErr == nil {
			apiErr.Message = msg.text()
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: addVote body: %v", ErrMalformedResponse, decodeErr)
	}
	return msg.Message, nil
}

// voteHistory is the keyed form some ledgers use instead of a tuple.
type voteHistory struct {
	IDElection      models.BigNumber `json:"idElection"`
	IDCandidate     models.BigNumber `json:"idCandidate"`
	IDVoter         models.BigNumber `json:"idVoter"`
	VoteCount       models.BigNumber `json:"voteCount"`
	Timestamp       models.BigNumber `json:"timestamp"`
	TransactionHash models.BigNumber `json:"transactionHash"`
	BlockNumber     models.BigNumber `json:"blockNumber"`
}

func (h voteHistory) tuple() []models.BigNumber {
	return []models.BigNumber{h.IDElection, h.IDCandidate, h.IDVoter, h.VoteCount, h.Timestamp, h.TransactionHash, h.BlockNumber}
}

// AllVotes returns the full vote history. One malformed entry fails the
// whole read.
func (c *Client) AllVotes(ctx context.Context) ([]models.VoteRecord, error) {
	var entries []json.RawMessage
	if err := c.get(ctx, EndpointAllVotes, "/"+EndpointAllVotes, &entries); err != nil {
		return nil, err
	}

	records := make([]models.VoteRecord, 0, len(entries))
	for i, raw := range entries {
		var tuple []models.BigNumber
		switch raw = bytes.TrimSpace(raw); {
		case len(raw) > 0 && raw[0] == '{':
			var h voteHistory
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, fmt.Errorf("%w: vote %d: %v", ErrMalformedResponse, i, err)
			}
			tuple = h.tuple()
		default:
			if err := json.Unmarshal(raw, &tuple); err != nil {
				return nil, fmt.Errorf("%w: vote %d: %v", ErrMalformedResponse, i, err)
			}
		}

		record, err := models.DecodeVoteTuple(tuple)
		if err != nil {
			return nil, fmt.Errorf("vote %d: %w", i, err)
		}
		records = append(records, record)
	}
	return records, nil
}

type voterResponse struct {
	ID          models.BigNumber  `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	HasVoted    bool              `json:"hasVoted"`
	TxHash      string            `json:"txHash"`
	LastUpdated *models.BigNumber `json:"lastUpdated"`
}

// VoterProfile returns the ledger's record of a voter.
func (c *Client) VoterProfile(ctx context.Context, voter models.ID) (models.VoterProfile, error) {
	var raw json.RawMessage
	if err := c.get(ctx, EndpointVoter, "/"+EndpointVoter+"/"+url.PathEscape(voter.String()), &raw); err != nil {
		return models.VoterProfile{}, err
	}

	var resp voterResponse
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		// [id, name, email, hasVoted, txHash, lastUpdated]
		var fields []json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || len(fields) < 6 {
			return models.VoterProfile{}, fmt.Errorf("%w: voter tuple", ErrMalformedResponse)
		}
		resp.LastUpdated = new(models.BigNumber)
		targets := []any{&resp.ID, &resp.Name, &resp.Email, &resp.HasVoted, &resp.TxHash, resp.LastUpdated}
		for i, target := range targets {
			if err := json.Unmarshal(fields[i], target); err != nil {
				return models.VoterProfile{}, fmt.Errorf("%w: voter field %d: %v", ErrMalformedResponse, i, err)
			}
		}
	} else if err := json.Unmarshal(raw, &resp); err != nil {
		return models.VoterProfile{}, fmt.Errorf("%w: voter: %v", ErrMalformedResponse, err)
	}

	id, err := resp.ID.Int()
	if err != nil {
		return models.VoterProfile{}, fmt.Errorf("voter id: %w", err)
	}
	profile := models.VoterProfile{
		ID:       id,
		Name:     resp.Name,
		Email:    resp.Email,
		HasVoted: resp.HasVoted,
		TxHash:   resp.TxHash,
	}
	if resp.LastUpdated != nil {
		ts, err := resp.LastUpdated.Int()
		if err != nil {
			return models.VoterProfile{}, fmt.Errorf("voter lastUpdated: %w", err)
		}
		if ts.Sign() > 0 && ts.IsInt64() {
			profile.LastUpdated = time.Unix(ts.Int64(), 0).UTC()
		}
	}
	return profile, nil
}

// get performs an idempotent read and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		status, body, err := c.do(ctx, http.MethodGet, endpoint, path, nil)
		switch {
		case err != nil:
			lastErr = err
		case status >= 500:
			lastErr = fmt.Errorf("%w: %w", ErrConnectivity, apiError(status, body))
		case status < 200 || status > 299:
			return apiError(status, body)
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
			}
			return nil
		}

		if ctx.Err() != nil || attempt >= c.maxRetries {
			return lastErr
		}

		wait := retry.Backoff(c.backoff, uint64(attempt+1), maxBackoffExp)
		c.log.Debug().Err(lastErr).Str("endpoint", endpoint).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying ledger read")
		c.metrics.retry(endpoint)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(endpoint, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrConnectivity, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.metrics.observe(endpoint, resp.StatusCode)
	c.log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Ledger request")
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading %s body: %v", ErrConnectivity, endpoint, err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var msg messageBody
	if json.Unmarshal(body, &msg) == nil {
		e.Message = msg.text()
	}
	return e
}

// IsRejection reports whether err is a ledger rejection rather than a
// connectivity failure.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !errors.Is(err, ErrConnectivity)
}
