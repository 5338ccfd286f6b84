package sessionmemory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledossier/backend/internal/serviceerr"
	"github.com/ledossier/backend/internal/session"
)

func TestStateLifecycle(t *testing.T) {
	repo := NewRepository()
	state := session.State{
		ID:           "state-1",
		PKCEVerifier: "verifier",
		Expiry:       time.Now().Add(time.Hour),
	}

	_, err := repo.LoadState(t.Context(), "state-1")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	require.NoError(t, repo.StoreState(t.Context(), state))
	assert.ErrorIs(t, repo.StoreState(t.Context(), state), serviceerr.ErrConflict)

	got, err := repo.LoadState(t.Context(), "state-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	require.NoError(t, repo.DeleteState(t.Context(), "state-1"))
	assert.ErrorIs(t, repo.DeleteState(t.Context(), "state-1"), serviceerr.ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	repo := NewRepository()
	s := session.Session{ID: "sess-1", Expiry: time.Now().Add(time.Hour)}

	_, err := repo.LoadSession(t.Context(), "sess-1")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	require.NoError(t, repo.StoreSession(t.Context(), s))

	// storing again overwrites, it does not conflict
	s.CSRFToken = "token"
	require.NoError(t, repo.StoreSession(t.Context(), s))

	got, err := repo.LoadSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "token", got.CSRFToken)

	list, err := repo.ListSessions(t.Context())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeleteSession(t.Context(), s))
	assert.ErrorIs(t, repo.DeleteSession(t.Context(), s), serviceerr.ErrNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	repo := NewRepository()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Go(func() {
			s := session.Session{ID: string(rune('a' + i))}
			_ = repo.StoreSession(t.Context(), s)
			_, _ = repo.LoadSession(t.Context(), s.ID)
			_, _ = repo.ListSessions(t.Context())
		})
	}
	wg.Wait()

	list, err := repo.ListSessions(t.Context())
	require.NoError(t, err)
	assert.Len(t, list, 32)
}
