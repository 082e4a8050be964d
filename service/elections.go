package service

import (
	"context"
	"fmt"
	"slices"

	"voting-client/docstore"
	"voting-client/models"
)

// Elections lists the elections a voter takes part in.
type Elections struct {
	store     docstore.Store
	directory *Directory
}

func NewElections(store docstore.Store, directory *Directory) *Elections {
	return &Elections{store: store, directory: directory}
}

// All returns every election ordered by id.
func (e *Elections) All(ctx context.Context) ([]models.Election, error) {
	snap, err := e.store.Get(ctx, docstore.Elections)
	if err != nil {
		return nil, fmt.Errorf("failed to read elections: %w", err)
	}
	elections, err := docstore.DecodeCollection[models.Election](snap)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(elections, func(a, b models.Election) int {
		return a.ElectionID.Compare(b.ElectionID)
	})
	return elections, nil
}

// ForVoter returns the elections listed on the voter record of email.
func (e *Elections) ForVoter(ctx context.Context, email string) ([]models.Election, error) {
	voter, err := e.directory.ByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	all, err := e.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Election, 0, len(voter.Elections))
	for _, election := range all {
		if voter.Elections.Contains(election.ElectionID) {
			out = append(out, election)
		}
	}
	return out, nil
}

// Get returns one election.
func (e *Elections) Get(ctx context.Context, id models.ID) (models.Election, error) {
	all, err := e.All(ctx)
	if err != nil {
		return models.Election{}, err
	}
	for _, election := range all {
		if election.ElectionID == id {
			return election, nil
		}
	}
	return models.Election{}, fmt.Errorf("election %s not found", id)
}
