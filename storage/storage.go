// Package storage persists the signed-in session between runs of the client.
package storage

import (
	"errors"
	"time"
)

// ErrNoSession is returned by Load when nothing is stored.
var ErrNoSession = errors.New("no stored session")

// SessionRecord is the durable part of a session: who is signed in.
type SessionRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	IDToken   string    `json:"id_token,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// SessionStore keeps at most one session record.
type SessionStore interface {
	Save(SessionRecord) error
	Load() (SessionRecord, error)
	Clear() error
	Close() error
}
