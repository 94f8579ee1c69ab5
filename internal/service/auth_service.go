package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/middleware"
	"github.com/gurkanbulca/taskboard/internal/repository"
	"github.com/gurkanbulca/taskboard/pkg/auth"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

type AuthService struct {
	taskboardv1.UnimplementedAuthServiceServer
	users                *repository.UserRepository
	tokenManager         *auth.TokenManager
	passwordManager      *auth.PasswordManager
	emailService         email.EmailService
	passwordResetService *PasswordResetService
	securityConfig       config.SecurityConfig
	log                  zerolog.Logger
	now                  func() time.Time
}

func NewAuthService(
	users *repository.UserRepository,
	tokenManager *auth.TokenManager,
	passwordManager *auth.PasswordManager,
	emailService email.EmailService,
	passwordResetService *PasswordResetService,
	securityConfig config.SecurityConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:                users,
		tokenManager:         tokenManager,
		passwordManager:      passwordManager,
		emailService:         emailService,
		passwordResetService: passwordResetService,
		securityConfig:       securityConfig,
		log:                  log,
		now:                  time.Now,
	}
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, req *taskboardv1.RegisterRequest) (*taskboardv1.RegisterResponse, error) {
	emailAddr := auth.NormalizeEmail(req.Email)
	if err := auth.ValidateEmail(emailAddr); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.passwordManager.ValidatePassword(req.Password); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := auth.ValidateDisplayName(req.DisplayName); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	hashedPassword, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	newUser, err := s.users.Create(ctx, emailAddr, hashedPassword, req.DisplayName)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, status.Error(codes.AlreadyExists, "user with this email already exists")
		}
		s.log.Error().Err(err).Msg("create user")
		return nil, status.Error(codes.Internal, "failed to create user")
	}

	pair, err := s.startSession(ctx, newUser)
	if err != nil {
		return nil, err
	}

	if err := s.emailService.SendWelcomeEmail(ctx, recipient(newUser)); err != nil {
		s.log.Warn().Err(err).Str("user_id", newUser.ID).Msg("Failed to send welcome email")
	}

	s.log.Info().Str("user_id", newUser.ID).Msg("user registered")
	return &taskboardv1.RegisterResponse{
		User:         toWireUser(newUser),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Login checks the credentials. Repeated failures lock the account for
// AccountLockoutDuration.
func (s *AuthService) Login(ctx context.Context, req *taskboardv1.LoginRequest) (*taskboardv1.LoginResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	clientInfo := middleware.GetClientInfoFromContext(ctx)
	loginID := auth.NormalizeEmail(req.Email)

	foundUser, err := s.users.GetByEmail(ctx, loginID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Str("email", loginID).Str("ip", clientInfo.IPAddress).Msg("login failed: unknown user")
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		return nil, status.Error(codes.Internal, "failed to find user")
	}

	now := s.now()
	if foundUser.IsLocked(now) {
		return nil, status.Errorf(codes.PermissionDenied, "account is locked until %s",
			foundUser.AccountLockedUntil.Format(time.RFC3339))
	}

	if err := s.passwordManager.ComparePassword(foundUser.PasswordHash, req.Password); err != nil {
		return nil, s.recordFailedLogin(ctx, foundUser, now)
	}

	foundUser.LastLogin = &now
	foundUser.FailedLoginAttempts = 0
	foundUser.AccountLockedUntil = nil
	pair, err := s.startSession(ctx, foundUser)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", foundUser.ID).Str("ip", clientInfo.IPAddress).Msg("login succeeded")
	return &taskboardv1.LoginResponse{
		User:         toWireUser(foundUser),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, u *repository.User, now time.Time) error {
	u.FailedLoginAttempts++
	locked := u.FailedLoginAttempts >= s.securityConfig.MaxLoginAttempts
	if locked {
		lockUntil := now.Add(s.securityConfig.AccountLockoutDuration)
		u.AccountLockedUntil = &lockUntil
		u.FailedLoginAttempts = 0
	}

	if err := s.users.Save(ctx, u); err != nil {
		s.log.Error().Err(err).Str("user_id", u.ID).Msg("Failed to update failed login attempts")
	}

	if locked {
		s.log.Warn().Str("user_id", u.ID).Int("max_attempts", s.securityConfig.MaxLoginAttempts).Msg("account locked")
		return status.Errorf(codes.PermissionDenied,
			"account locked due to %d failed login attempts. Try again after %s",
			s.securityConfig.MaxLoginAttempts, s.securityConfig.AccountLockoutDuration)
	}
	return status.Error(codes.Unauthenticated, "invalid credentials")
}

// RefreshToken rotates the session. The presented refresh token must be the
// one stored for the user.
func (s *AuthService) RefreshToken(ctx context.Context, req *taskboardv1.RefreshTokenRequest) (*taskboardv1.RefreshTokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	claims, err := s.tokenManager.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}

	foundUser, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
		}
		return nil, status.Error(codes.Internal, "failed to find user")
	}
	if foundUser.RefreshToken == nil || *foundUser.RefreshToken != req.RefreshToken {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	if foundUser.RefreshTokenExpiresAt != nil && foundUser.RefreshTokenExpiresAt.Before(s.now()) {
		return nil, status.Error(codes.Unauthenticated, "refresh token expired")
	}

	pair, err := s.startSession(ctx, foundUser)
	if err != nil {
		return nil, err
	}

	return &taskboardv1.RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Logout forgets the stored refresh token of the caller. It always succeeds.
func (s *AuthService) Logout(ctx context.Context, req *taskboardv1.LogoutRequest) (*emptypb.Empty, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return &emptypb.Empty{}, nil
	}

	foundUser, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user for logout")
		}
		return &emptypb.Empty{}, nil
	}

	foundUser.RefreshToken = nil
	foundUser.RefreshTokenExpiresAt = nil
	if err := s.users.Save(ctx, foundUser); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to clear refresh token")
	}
	return &emptypb.Empty{}, nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, _ *taskboardv1.GetCurrentUserRequest) (*taskboardv1.GetCurrentUserResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	foundUser, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, status.Error(codes.Internal, "failed to get user")
	}
	return &taskboardv1.GetCurrentUserResponse{User: toWireUser(foundUser)}, nil
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, req *taskboardv1.RequestPasswordResetRequest) (*emptypb.Empty, error) {
	if err := s.passwordResetService.RequestPasswordReset(ctx, req.Email); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req *taskboardv1.ResetPasswordRequest) (*emptypb.Empty, error) {
	if err := s.passwordResetService.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// startSession issues a token pair and stores the refresh token together
// with any other pending changes on u.
func (s *AuthService) startSession(ctx context.Context, u *repository.User) (*auth.TokenPair, error) {
	pair, err := s.tokenManager.GenerateTokenPair(u.ID, u.Email)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to generate tokens")
	}

	u.RefreshToken = &pair.RefreshToken
	u.RefreshTokenExpiresAt = &pair.RefreshExpiresAt
	if err := s.users.Save(ctx, u); err != nil {
		s.log.Error().Err(err).Str("user_id", u.ID).Msg("save refresh token")
		return nil, status.Error(codes.Internal, "failed to save refresh token")
	}
	return pair, nil
}

func recipient(u *repository.User) email.Recipient {
	return email.Recipient{Email: u.Email, DisplayName: u.DisplayName}
}

func toWireUser(u *repository.User) *taskboardv1.User {
	return &taskboardv1.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
