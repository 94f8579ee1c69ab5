package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/database/dbtest"
	"github.com/gurkanbulca/taskboard/internal/middleware"
	"github.com/gurkanbulca/taskboard/internal/realtime"
	"github.com/gurkanbulca/taskboard/internal/repository"
	"github.com/gurkanbulca/taskboard/pkg/auth"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

const testPassword = "TestPass123!"

// testEnv wires the services against an in-memory database.
type testEnv struct {
	t         *testing.T
	users     *repository.UserRepository
	tasks     *repository.TaskRepository
	hub       *realtime.Hub
	mail      *email.MockEmailService
	tokens    *auth.TokenManager
	passwords *auth.PasswordManager
	security  config.SecurityConfig
	auth      *AuthService
	reset     *PasswordResetService
	task      *TaskService
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		MaxLoginAttempts:       3,
		AccountLockoutDuration: 15 * time.Minute,
		PasswordResetTokenTTL:  time.Hour,
		PasswordResetCooldown:  15 * time.Minute,
	}
}

func newTestEnv(t *testing.T, opts ...TaskServiceOption) *testEnv {
	t.Helper()
	db := dbtest.Open(t)

	env := &testEnv{
		t:         t,
		users:     repository.NewUserRepository(db),
		tasks:     repository.NewTaskRepository(db),
		hub:       realtime.NewHub(),
		mail:      email.NewMockEmailService(),
		tokens:    auth.NewTokenManager("test-access", "test-refresh", 15*time.Minute, 24*time.Hour),
		passwords: auth.NewPasswordManager().WithCost(4),
		security:  testSecurityConfig(),
	}
	env.reset = NewPasswordResetService(env.users, env.mail, env.passwords, env.security, zerolog.Nop())
	env.auth = NewAuthService(env.users, env.tokens, env.passwords, env.mail, env.reset, env.security, zerolog.Nop())
	env.task = NewTaskService(env.tasks, env.hub, opts...)
	return env
}

// createUser stores a user with testPassword.
func (e *testEnv) createUser(address string) *repository.User {
	e.t.Helper()
	hash, err := e.passwords.HashPassword(testPassword)
	require.NoError(e.t, err)
	u, err := e.users.Create(context.Background(), address, hash, "Test User")
	require.NoError(e.t, err)
	return u
}

// userCtx returns a context authenticated as u.
func userCtx(u *repository.User) context.Context {
	return middleware.WithUser(context.Background(), u.ID, u.Email)
}
