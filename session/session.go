// Package session tracks the signed-in voter across runs of the client.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one signed-in period of a voter, identified by email.
type Session struct {
	ID        uuid.UUID
	Email     string
	IDToken   string
	StartedAt time.Time

	isActive bool
	mu       sync.RWMutex
}

func NewSession(email, idToken string) *Session {
	return &Session{
		ID:        uuid.New(),
		Email:     email,
		IDToken:   idToken,
		StartedAt: time.Now().UTC(),
		isActive:  true,
	}
}

func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}

func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isActive = false
}
