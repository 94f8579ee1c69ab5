// Package client talks to the taskboard gRPC API: Authenticator keeps the
// signed-in session and RemoteStore implements store.TaskStore on top of it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrRateLimited        = errors.New("too many requests, try again later")
)

// User is the signed-in identity.
type User struct {
	ID          string `yaml:"id"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name,omitempty"`
}

// Session is what a client needs to resume a sign-in later.
type Session struct {
	User         User   `yaml:"user"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// Authenticator signs users in and out against AuthService and hands the
// access token to the other clients.
type Authenticator struct {
	auth taskboardv1.AuthServiceClient
	log  zerolog.Logger

	mu        sync.RWMutex
	session   *Session
	listeners map[int]func(*User)
	nextID    int
}

func NewAuthenticator(conn grpc.ClientConnInterface, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		auth:      taskboardv1.NewAuthServiceClient(conn),
		log:       log,
		listeners: make(map[int]func(*User)),
	}
}

// CurrentUser returns the signed-in user, or nil.
func (a *Authenticator) CurrentUser() *User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	u := a.session.User
	return &u
}

// Session returns a copy of the current session.
func (a *Authenticator) Session() (Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return Session{}, false
	}
	return *a.session, true
}

// Restore resumes a saved session without contacting the server.
func (a *Authenticator) Restore(s Session) {
	if s.User.ID == "" || s.AccessToken == "" {
		return
	}
	a.setSession(&s)
}

func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*User, error) {
	resp, err := a.auth.Login(ctx, &taskboardv1.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, authError("sign in", err)
	}
	return a.startSession(resp.User, resp.AccessToken, resp.RefreshToken), nil
}

// SignUp registers a new account and signs it in.
func (a *Authenticator) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	resp, err := a.auth.Register(ctx, &taskboardv1.RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, authError("sign up", err)
	}
	return a.startSession(resp.User, resp.AccessToken, resp.RefreshToken), nil
}

// SignOut drops the local session. The server side logout is best effort.
func (a *Authenticator) SignOut(ctx context.Context) error {
	s, ok := a.Session()
	if !ok {
		return nil
	}
	if _, err := a.auth.Logout(a.withToken(ctx, s.AccessToken), &taskboardv1.LogoutRequest{RefreshToken: s.RefreshToken}); err != nil {
		a.log.Warn().Err(err).Msg("server logout failed")
	}
	a.setSession(nil)
	return nil
}

// ResetPassword asks the server to email a reset link. It reports success
// for unknown addresses too.
func (a *Authenticator) ResetPassword(ctx context.Context, email string) error {
	if _, err := a.auth.RequestPasswordReset(ctx, &taskboardv1.RequestPasswordResetRequest{Email: email}); err != nil {
		return authError("reset password", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using the emailed token.
func (a *Authenticator) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if _, err := a.auth.ResetPassword(ctx, &taskboardv1.ResetPasswordRequest{Token: token, NewPassword: newPassword}); err != nil {
		return authError("confirm password reset", err)
	}
	return nil
}

// Refresh trades the refresh token for a new token pair. On rejection the
// session is dropped and listeners see a sign-out.
func (a *Authenticator) Refresh(ctx context.Context) error {
	s, ok := a.Session()
	if !ok {
		return store.ErrUnauthenticated
	}
	resp, err := a.auth.RefreshToken(ctx, &taskboardv1.RefreshTokenRequest{RefreshToken: s.RefreshToken})
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			a.setSession(nil)
			return store.ErrUnauthenticated
		}
		return authError("refresh token", err)
	}

	a.mu.Lock()
	if a.session != nil && a.session.User.ID == s.User.ID {
		a.session.AccessToken = resp.AccessToken
		a.session.RefreshToken = resp.RefreshToken
	}
	a.mu.Unlock()
	return nil
}

// Verify asks the server who the access token belongs to.
func (a *Authenticator) Verify(ctx context.Context) (*User, error) {
	ctx, ok := a.authContext(ctx)
	if !ok {
		return nil, store.ErrUnauthenticated
	}
	resp, err := a.auth.GetCurrentUser(ctx, &taskboardv1.GetCurrentUserRequest{})
	if err != nil {
		return nil, authError("get current user", err)
	}
	u := fromWireUser(resp.User)
	return &u, nil
}

// OnAuthStateChanged calls fn with the current user right away and again on
// every sign-in or sign-out. The returned func removes the listener.
func (a *Authenticator) OnAuthStateChanged(fn func(*User)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	fn(a.CurrentUser())

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Authenticator) startSession(wire *taskboardv1.User, access, refresh string) *User {
	s := &Session{User: fromWireUser(wire), AccessToken: access, RefreshToken: refresh}
	a.setSession(s)
	u := s.User
	return &u
}

func (a *Authenticator) setSession(s *Session) {
	a.mu.Lock()
	a.session = s
	listeners := make([]func(*User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	var u *User
	if s != nil {
		cp := s.User
		u = &cp
	}
	for _, fn := range listeners {
		fn(u)
	}
}

// authContext attaches the bearer token of the current session. ok is false
// when nobody is signed in.
func (a *Authenticator) authContext(ctx context.Context) (context.Context, bool) {
	s, ok := a.Session()
	if !ok {
		return ctx, false
	}
	return a.withToken(ctx, s.AccessToken), true
}

func (a *Authenticator) withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func authError(op string, err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return ErrInvalidCredentials
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrAccountLocked, st.Message())
	case codes.AlreadyExists:
		return ErrEmailTaken
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.InvalidArgument, codes.NotFound, codes.DeadlineExceeded:
		return errors.New(st.Message())
	}
	return &store.BackendError{Op: op, Err: err}
}

func fromWireUser(u *taskboardv1.User) User {
	if u == nil {
		return User{}
	}
	return User{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}
