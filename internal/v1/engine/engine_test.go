package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/storage/memory"
	"github.com/lairchat/server/internal/v1/types"
)

// newTestEngine wires an Engine against a fresh in-memory store and a real
// dispatcher, so tests observe actual event fan-out rather than a mock.
func newTestEngine(t *testing.T) (*Engine, storage.Repositories, *dispatcher.Dispatcher) {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	disp := dispatcher.New(repos.Memberships)
	sessions := sessionmgr.New(repos.Sessions)
	return New(repos, nil, sessions, disp), repos, disp
}

// createUser inserts a user directly through the repository, bypassing
// Register, for tests that only need an existing account.
func createUser(t *testing.T, repos storage.Repositories, username string) domain.User {
	t.Helper()
	u := domain.User{
		ID:        types.NewUserID(),
		Username:  types.Username(username),
		Email:     types.Email(username + "@example.com"),
		Role:      types.RoleUser,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repos.Users.Create(context.Background(), u))
	return u
}

// requireCode asserts err is an *apperr.Error with the given code.
func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	require.Equal(t, code, ae.Code)
}
