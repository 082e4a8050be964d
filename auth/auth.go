// Package auth verifies voter credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"voting-client/models"
)

var (
	// ErrInvalidCredentials is returned when the email or the password is
	// wrong. The two cases are not told apart.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnavailable is returned when the identity provider cannot be reached.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Identity is an authenticated user.
type Identity struct {
	Email   string
	UserID  string
	IDToken string
}

// Authenticator signs a user in with email and password.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
}

// VoterLookup finds a voter record by email. found is false when no voter
// has that email.
type VoterLookup interface {
	Lookup(ctx context.Context, email string) (voter models.Voter, found bool, err error)
}

// DirectoryAuthenticator checks the password stored on the voter record
// itself. It is used when no identity provider is configured.
type DirectoryAuthenticator struct {
	Voters VoterLookup
}

func (d DirectoryAuthenticator) SignIn(ctx context.Context, email, password string) (Identity, error) {
	voter, found, err := d.Voters.Lookup(ctx, email)
	if err != nil {
		return Identity{}, err
	}
	if !found || !CheckPassword(voter.Password, password) {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{Email: voter.Email, UserID: voter.VoterID.String()}, nil
}

// CheckPassword compares a password given by the user with the stored one.
// Stored bcrypt hashes are verified with bcrypt, anything else is compared
// as plain text in constant time.
func CheckPassword(stored, given string) bool {
	if stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
