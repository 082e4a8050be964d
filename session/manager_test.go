package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-client/auth"
	"voting-client/storage"
)

type staticAuth map[string]string

func (a staticAuth) SignIn(_ context.Context, email, password string) (auth.Identity, error) {
	if pw, ok := a[email]; ok && pw == password {
		return auth.Identity{Email: email, IDToken: "token-" + email}, nil
	}
	return auth.Identity{}, auth.ErrInvalidCredentials
}

func newStore(t *testing.T) storage.SessionStore {
	t.Helper()
	store, err := storage.NewJSONStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)
	return store
}

func TestLoginResumeLogout(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	authenticator := staticAuth{"ana@example.com": "pw"}

	m := NewManager(authenticator, store, nil)
	_, err := m.Resume()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	s, err := m.Login(ctx, " ana@example.com ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", s.Email)
	assert.True(t, s.IsActive())

	// a new process resumes from the store
	other := NewManager(authenticator, store, nil)
	resumed, err := other.Resume()
	require.NoError(t, err)
	assert.Equal(t, s.ID, resumed.ID)
	assert.Equal(t, "ana@example.com", resumed.Email)
	assert.Equal(t, "token-ana@example.com", resumed.IDToken)

	require.NoError(t, other.Logout())
	assert.False(t, resumed.IsActive())
	_, err = other.Resume()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	require.NoError(t, other.Logout())
}

func TestLoginFailureKeepsPreviousSession(t *testing.T) {
	ctx := context.Background()
	m := NewManager(staticAuth{"ana@example.com": "pw"}, newStore(t), nil)

	first, err := m.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)

	_, err = m.Login(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = m.Login(ctx, "", "pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	current, err := m.Resume()
	require.NoError(t, err)
	assert.Same(t, first, current)
}

func TestLoginReplacesSession(t *testing.T) {
	ctx := context.Background()
	m := NewManager(staticAuth{"ana@example.com": "pw", "bob@example.com": "pw2"}, newStore(t), nil)

	first, err := m.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)
	second, err := m.Login(ctx, "bob@example.com", "pw2")
	require.NoError(t, err)

	assert.False(t, first.IsActive())
	assert.True(t, second.IsActive())
	assert.NotEqual(t, first.ID, second.ID)

	current, err := m.Resume()
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", current.Email)
}
