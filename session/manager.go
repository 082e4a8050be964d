package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voting-client/auth"
	"voting-client/storage"
)

// ErrNotLoggedIn is returned when no session is active.
var ErrNotLoggedIn = errors.New("not logged in")

// Manager signs voters in and out and keeps the active session in a store
// so that it survives restarts.
type Manager struct {
	auth    auth.Authenticator
	store   storage.SessionStore
	current *Session
	mu      sync.Mutex
	log     *zerolog.Logger
}

func NewManager(authenticator auth.Authenticator, store storage.SessionStore, log *zerolog.Logger) *Manager {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Manager{auth: authenticator, store: store, log: log}
}

// Login authenticates the voter and persists the new session. A previous
// session is replaced.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	identity, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		m.log.Info().Str("email", email).Err(err).Msg("Login failed")
		return nil, err
	}

	s := NewSession(identity.Email, identity.IDToken)
	if err := m.store.Save(storage.SessionRecord{
		ID:        s.ID.String(),
		Email:     s.Email,
		IDToken:   s.IDToken,
		StartedAt: s.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	if m.current != nil {
		m.current.End()
	}
	m.current = s
	m.mu.Unlock()

	m.log.Info().Str("email", s.Email).Str("session_id", s.ID.String()).Msg("Logged in")
	return s, nil
}

// Resume returns the active session, loading it from the store when the
// process has none yet.
func (m *Manager) Resume() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.IsActive() {
		return m.current, nil
	}

	record, err := m.store.Load()
	if err != nil {
		if errors.Is(err, storage.ErrNoSession) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	id, err := uuid.Parse(record.ID)
	if err != nil {
		// sessions written without an id get a fresh one
		id = uuid.New()
	}
	m.current = &Session{
		ID:        id,
		Email:     record.Email,
		IDToken:   record.IDToken,
		StartedAt: record.StartedAt,
		isActive:  true,
	}
	return m.current, nil
}

// Logout ends the active session and removes it from the store. Logging
// out without a session is not an error.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.End()
		m.log.Info().Str("email", m.current.Email).Msg("Logged out")
		m.current = nil
	}
	return m.store.Clear()
}
