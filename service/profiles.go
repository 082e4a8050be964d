package service

import (
	"context"

	"voting-client/models"
)

// Profile joins the directory record of a voter with the ledger's view.
type Profile struct {
	Voter  models.Voter        `json:"voter"`
	Ledger models.VoterProfile `json:"ledger"`
}

type Profiles struct {
	directory *Directory
	ledger    Ledger
}

func NewProfiles(directory *Directory, ledger Ledger) *Profiles {
	return &Profiles{directory: directory, ledger: ledger}
}

// Get returns the profile of the voter signed in as email. The stored
// password never leaves this function.
func (p *Profiles) Get(ctx context.Context, email string) (Profile, error) {
	voter, err := p.directory.ByEmail(ctx, email)
	if err != nil {
		return Profile{}, err
	}
	voter.Password = ""

	record, err := p.ledger.VoterProfile(ctx, voter.VoterID)
	if err != nil {
		return Profile{}, err
	}
	if record.Name == "" {
		record.Name = voter.Name
	}
	if record.Email == "" {
		record.Email = voter.Email
	}
	return Profile{Voter: voter, Ledger: record}, nil
}
