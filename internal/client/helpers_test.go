package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/gurkanbulca/taskboard/internal/client"
	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/database/dbtest"
	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/realtime"
	"github.com/gurkanbulca/taskboard/internal/repository"
	"github.com/gurkanbulca/taskboard/internal/server"
	"github.com/gurkanbulca/taskboard/internal/service"
	"github.com/gurkanbulca/taskboard/pkg/auth"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

const testPassword = "TestPass123!"

type testServer struct {
	conn *grpc.ClientConn
	mail *email.MockEmailService
}

// startServer runs the full service stack on an in-memory listener.
func startServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.Open(t)

	users := repository.NewUserRepository(db)
	mail := email.NewMockEmailService()
	tokens := auth.NewTokenManager("test-access", "test-refresh", 15*time.Minute, 24*time.Hour)
	passwords := auth.NewPasswordManager().WithCost(4)
	security := config.SecurityConfig{
		MaxLoginAttempts:       3,
		AccountLockoutDuration: 15 * time.Minute,
		PasswordResetTokenTTL:  time.Hour,
		PasswordResetCooldown:  15 * time.Minute,
	}

	reset := service.NewPasswordResetService(users, mail, passwords, security, zerolog.Nop())
	srv := server.New(server.Deps{
		Tokens:    tokens,
		Passwords: passwords,
		Auth:      service.NewAuthService(users, tokens, passwords, mail, reset, security, zerolog.Nop()),
		Tasks:     service.NewTaskService(repository.NewTaskRepository(db), realtime.NewHub()),
		Log:       zerolog.Nop(),
	})

	return &testServer{conn: serve(t, srv.Server), mail: mail}
}

// serve starts s on a bufconn listener and returns a client connection to it.
func serve(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := client.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// signedIn returns an authenticator with a fresh account signed in.
func (s *testServer) signedIn(t *testing.T, email string) *client.Authenticator {
	t.Helper()
	a := client.NewAuthenticator(s.conn, zerolog.Nop())
	_, err := a.SignUp(context.Background(), email, testPassword, "Test User")
	require.NoError(t, err)
	return a
}

// snapshots collects subscription callbacks.
type snapshots struct {
	ch chan []string
}

func newSnapshots() *snapshots {
	return &snapshots{ch: make(chan []string, 16)}
}

func (s *snapshots) receive(tasks []models.Task) {
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	s.ch <- titles
}

func (s *snapshots) next(t *testing.T) []string {
	t.Helper()
	select {
	case titles := <-s.ch:
		return titles
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot received")
		return nil
	}
}

func (s *snapshots) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case titles := <-s.ch:
		t.Fatalf("unexpected snapshot %v", titles)
	case <-time.After(wait):
	}
}
