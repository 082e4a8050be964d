package service

import (
	"context"
	"fmt"
	"strings"

	"voting-client/docstore"
	"voting-client/models"
)

// Directory resolves voters from the voters collection. Every call reads the
// store again; nothing is cached.
type Directory struct {
	store docstore.Store
}

func NewDirectory(store docstore.Store) *Directory {
	return &Directory{store: store}
}

// Voters returns every voter record.
func (d *Directory) Voters(ctx context.Context) ([]models.Voter, error) {
	snap, err := d.store.Get(ctx, docstore.Voters)
	if err != nil {
		return nil, fmt.Errorf("failed to read voters: %w", err)
	}
	return docstore.DecodeCollection[models.Voter](snap)
}

// Lookup finds the voter with the given email. Emails compare without
// regard to case. Two matching records are a data integrity failure.
func (d *Directory) Lookup(ctx context.Context, email string) (models.Voter, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return models.Voter{}, false, nil
	}

	voters, err := d.Voters(ctx)
	if err != nil {
		return models.Voter{}, false, err
	}

	var (
		match models.Voter
		found bool
	)
	for _, v := range voters {
		if !strings.EqualFold(strings.TrimSpace(v.Email), email) {
			continue
		}
		if found {
			return models.Voter{}, false, fmt.Errorf("%w: %s", ErrDuplicateVoter, email)
		}
		match, found = v, true
	}
	return match, found, nil
}

// ByEmail is Lookup with a missing voter reported as ErrVoterNotFound.
func (d *Directory) ByEmail(ctx context.Context, email string) (models.Voter, error) {
	voter, found, err := d.Lookup(ctx, email)
	if err != nil {
		return models.Voter{}, err
	}
	if !found {
		return models.Voter{}, fmt.Errorf("%w: %s", ErrVoterNotFound, email)
	}
	if voter.VoterID == "" {
		return models.Voter{}, fmt.Errorf("%w: voter %s has no voter_id", ErrVoterNotFound, email)
	}
	return voter, nil
}

// Candidates returns the candidates standing in election.
func (d *Directory) Candidates(ctx context.Context, election models.ID) ([]models.Candidate, error) {
	snap, err := d.store.Get(ctx, docstore.Candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	return standing(snap, election)
}

func standing(snap docstore.Snapshot, election models.ID) ([]models.Candidate, error) {
	candidates, err := docstore.DecodeCollection[models.Candidate](snap)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.Elections.Contains(election) {
			out = append(out, c)
		}
	}
	return out, nil
}
