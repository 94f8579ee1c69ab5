package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
)

func TestPasswordReset_Flow(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser("ada@example.com")
	ctx := context.Background()

	login, err := env.auth.Login(ctx, &taskboardv1.LoginRequest{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	_, err = env.auth.RequestPasswordReset(ctx, &taskboardv1.RequestPasswordResetRequest{Email: "ada@example.com"})
	require.NoError(t, err)

	sent := env.mail.GetLastSentEmail()
	require.NotNil(t, sent)
	assert.Equal(t, "password_reset", sent.Template)
	token := sent.Data.Token
	assert.Len(t, token, 2*PasswordResetTokenLength)

	_, err = env.auth.ResetPassword(ctx, &taskboardv1.ResetPasswordRequest{Token: token, NewPassword: "NewSecret456"})
	require.NoError(t, err)
	assert.Equal(t, "password_changed", env.mail.GetLastSentEmail().Template)

	// Old password and old session are gone.
	_, err = env.auth.Login(ctx, &taskboardv1.LoginRequest{Email: "ada@example.com", Password: testPassword})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = env.auth.RefreshToken(ctx, &taskboardv1.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.auth.Login(ctx, &taskboardv1.LoginRequest{Email: "ada@example.com", Password: "NewSecret456"})
	require.NoError(t, err)

	// The token is single use.
	_, err = env.auth.ResetPassword(ctx, &taskboardv1.ResetPasswordRequest{Token: token, NewPassword: "Another789X"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	stored, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordResetToken)
	assert.NotNil(t, stored.PasswordResetAt)
}

func TestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.RequestPasswordReset(context.Background(), &taskboardv1.RequestPasswordResetRequest{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Empty(t, env.mail.GetSentEmails())
}

func TestPasswordReset_Cooldown(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("ada@example.com")
	ctx := context.Background()
	now := time.Now()
	env.reset.now = func() time.Time { return now }

	require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"))

	err := env.reset.RequestPasswordReset(ctx, "ada@example.com")
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	now = now.Add(env.security.PasswordResetCooldown + time.Second)
	require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"))
	assert.Len(t, env.mail.GetSentEmails(), 2)
}

func TestPasswordReset_DailyLimit(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("ada@example.com")
	ctx := context.Background()
	now := time.Now()
	env.reset.now = func() time.Time { return now }

	for i := 0; i < MaxPasswordResetAttempts; i++ {
		require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"), "request %d", i)
		now = now.Add(env.security.PasswordResetCooldown + time.Second)
	}

	err := env.reset.RequestPasswordReset(ctx, "ada@example.com")
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPasswordReset_DailyLimitSurvivesCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("ada@example.com")
	ctx := context.Background()
	now := time.Now()
	env.reset.now = func() time.Time { return now }

	for i := 0; i < MaxPasswordResetAttempts; i++ {
		require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"), "request %d", i)
		now = now.Add(env.security.PasswordResetCooldown + time.Second)
	}

	// Every token has expired and been swept, but the day is not over.
	now = now.Add(env.security.PasswordResetTokenTTL + time.Minute)
	require.NoError(t, env.reset.CleanupExpiredTokens(ctx))

	err := env.reset.RequestPasswordReset(ctx, "ada@example.com")
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	now = now.Add(24 * time.Hour)
	require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"))
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("ada@example.com")
	ctx := context.Background()
	now := time.Now()
	env.reset.now = func() time.Time { return now }

	require.NoError(t, env.reset.RequestPasswordReset(ctx, "ada@example.com"))
	token := env.mail.GetLastSentEmail().Data.Token

	now = now.Add(2 * time.Hour)
	err := env.reset.ResetPassword(ctx, token, "NewSecret456")
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))

	require.NoError(t, env.reset.CleanupExpiredTokens(ctx))
	_, err = env.users.GetByResetToken(ctx, token)
	assert.Error(t, err)
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"ada@example.com":   "a*a@example.com",
		"jo@example.com":    "**@example.com",
		"alice@example.com": "a***e@example.com",
		"not-an-address":    "not-an-address",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskEmail(in), in)
	}
}
