package client_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurkanbulca/taskboard/internal/client"
	"github.com/gurkanbulca/taskboard/internal/store"
)

type authStates struct {
	mu     sync.Mutex
	states []string
}

func (a *authStates) record(u *client.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u == nil {
		a.states = append(a.states, "")
		return
	}
	a.states = append(a.states, u.Email)
}

func (a *authStates) get() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.states...)
}

func TestAuthenticator_SessionLifecycle(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	a := client.NewAuthenticator(srv.conn, zerolog.Nop())

	var states authStates
	stop := a.OnAuthStateChanged(states.record)
	defer stop()
	assert.Nil(t, a.CurrentUser())

	u, err := a.SignUp(ctx, "Ada@Example.com", testPassword, "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.NotEmpty(t, u.ID)

	verified, err := a.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, verified.ID)

	require.NoError(t, a.SignOut(ctx))
	assert.Nil(t, a.CurrentUser())

	_, err = a.SignIn(ctx, "ada@example.com", "WrongPass123!")
	assert.ErrorIs(t, err, client.ErrInvalidCredentials)
	assert.Nil(t, a.CurrentUser())

	u2, err := a.SignIn(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)

	assert.Equal(t, []string{"", "ada@example.com", "", "ada@example.com"}, states.get())
}

func TestAuthenticator_SignUpDuplicateEmail(t *testing.T) {
	srv := startServer(t)
	srv.signedIn(t, "dup@example.com")

	a := client.NewAuthenticator(srv.conn, zerolog.Nop())
	_, err := a.SignUp(context.Background(), "dup@example.com", testPassword, "")
	assert.ErrorIs(t, err, client.ErrEmailTaken)
}

func TestAuthenticator_Refresh(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	a := srv.signedIn(t, "refresh@example.com")

	before, _ := a.Session()
	require.NoError(t, a.Refresh(ctx))
	after, ok := a.Session()
	require.True(t, ok)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)

	// The rotated-out token no longer works.
	stale := client.NewAuthenticator(srv.conn, zerolog.Nop())
	stale.Restore(before)
	assert.ErrorIs(t, stale.Refresh(ctx), store.ErrUnauthenticated)
	assert.Nil(t, stale.CurrentUser())
}

func TestAuthenticator_ResetPassword(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	a := srv.signedIn(t, "reset@example.com")
	require.NoError(t, a.SignOut(ctx))

	require.NoError(t, a.ResetPassword(ctx, "reset@example.com"))
	sent := srv.mail.GetLastSentEmail()
	require.NotNil(t, sent)
	assert.Equal(t, "password_reset", sent.Template)
	token := sent.Data.Token

	// A second request inside the cooldown is refused.
	assert.ErrorIs(t, a.ResetPassword(ctx, "reset@example.com"), client.ErrRateLimited)

	// Unknown addresses look the same as known ones.
	require.NoError(t, a.ResetPassword(ctx, "nobody@example.com"))

	require.NoError(t, a.ConfirmPasswordReset(ctx, token, "NewPass456!"))

	_, err := a.SignIn(ctx, "reset@example.com", testPassword)
	assert.ErrorIs(t, err, client.ErrInvalidCredentials)
	_, err = a.SignIn(ctx, "reset@example.com", "NewPass456!")
	assert.NoError(t, err)
}
