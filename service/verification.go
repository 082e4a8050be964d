package service

import (
	"context"

	"voting-client/auth"
	"voting-client/models"
)

// VerifyPassword re-resolves the voter by email and checks the password
// against the stored one. The voter record is returned on success.
func (d *Directory) VerifyPassword(ctx context.Context, email, password string) (models.Voter, error) {
	// 1. Resolve the voter again, the record may have changed since login
	voter, err := d.ByEmail(ctx, email)
	if err != nil {
		return models.Voter{}, err
	}

	// 2. Compare the password
	if !auth.CheckPassword(voter.Password, password) {
		return models.Voter{}, ErrIncorrectPassword
	}
	return voter, nil
}
