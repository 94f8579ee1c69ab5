package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/repository"
	"github.com/gurkanbulca/taskboard/pkg/auth"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

const (
	// PasswordResetTokenLength is the number of random bytes in a reset token.
	PasswordResetTokenLength = 32
	// MaxPasswordResetAttempts is the number of reset requests allowed per day.
	MaxPasswordResetAttempts = 5
)

// PasswordResetService issues emailed reset tokens and applies new passwords.
type PasswordResetService struct {
	users           *repository.UserRepository
	emailService    email.EmailService
	passwordManager *auth.PasswordManager
	tokenTTL        time.Duration
	cooldown        time.Duration
	log             zerolog.Logger
	now             func() time.Time
}

func NewPasswordResetService(
	users *repository.UserRepository,
	emailService email.EmailService,
	passwordManager *auth.PasswordManager,
	cfg config.SecurityConfig,
	log zerolog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		users:           users,
		emailService:    emailService,
		passwordManager: passwordManager,
		tokenTTL:        cfg.PasswordResetTokenTTL,
		cooldown:        cfg.PasswordResetCooldown,
		log:             log,
		now:             time.Now,
	}
}

// RequestPasswordReset emails a reset link. Unknown addresses succeed
// silently so callers cannot probe for accounts.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, address string) error {
	address = auth.NormalizeEmail(address)
	if address == "" {
		return status.Error(codes.InvalidArgument, "email is required")
	}

	foundUser, err := s.users.GetByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Str("email", maskEmail(address)).Msg("password reset requested for unknown email")
			return nil
		}
		return status.Error(codes.Internal, "failed to find user")
	}

	now := s.now()

	// The previous request time is the stored expiry minus the TTL.
	if exp := foundUser.PasswordResetExpiresAt; exp != nil {
		nextAllowed := exp.Add(-s.tokenTTL).Add(s.cooldown)
		if now.Before(nextAllowed) {
			return status.Error(codes.ResourceExhausted, "please wait before requesting another password reset")
		}
	}

	if foundUser.PasswordResetAttempts >= MaxPasswordResetAttempts {
		if exp := foundUser.PasswordResetExpiresAt; exp != nil && now.Sub(*exp) < 24*time.Hour {
			return status.Error(codes.ResourceExhausted, "maximum password reset attempts exceeded for today")
		}
		foundUser.PasswordResetAttempts = 0
	}

	token, err := auth.GenerateSecureToken(PasswordResetTokenLength)
	if err != nil {
		return status.Error(codes.Internal, "failed to generate reset token")
	}

	expiresAt := now.Add(s.tokenTTL)
	foundUser.PasswordResetToken = &token
	foundUser.PasswordResetExpiresAt = &expiresAt
	foundUser.PasswordResetAttempts++
	if err := s.users.Save(ctx, foundUser); err != nil {
		return status.Error(codes.Internal, "failed to update user")
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, recipient(foundUser), token, expiresAt); err != nil {
		s.log.Error().Err(err).Str("user_id", foundUser.ID).Msg("Failed to send password reset email")
		return status.Error(codes.Internal, "failed to send password reset email")
	}

	s.log.Info().Str("user_id", foundUser.ID).Msg("password reset email sent")
	return nil
}

// ResetPassword sets a new password for the owner of token. All sessions are
// revoked and any lockout is lifted.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return status.Error(codes.InvalidArgument, "reset token is required")
	}
	if err := s.passwordManager.ValidatePassword(newPassword); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	foundUser, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Msg("invalid password reset token used")
			return status.Error(codes.NotFound, "invalid or expired reset token")
		}
		return status.Error(codes.Internal, "failed to find user")
	}

	now := s.now()
	if exp := foundUser.PasswordResetExpiresAt; exp != nil && exp.Before(now) {
		return status.Error(codes.DeadlineExceeded, "reset token has expired")
	}

	hashedPassword, err := s.passwordManager.HashPassword(newPassword)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	foundUser.PasswordHash = hashedPassword
	foundUser.PasswordChangedAt = &now
	foundUser.PasswordResetAt = &now
	foundUser.PasswordResetToken = nil
	foundUser.PasswordResetExpiresAt = nil
	foundUser.PasswordResetAttempts = 0
	foundUser.RefreshToken = nil
	foundUser.RefreshTokenExpiresAt = nil
	foundUser.FailedLoginAttempts = 0
	foundUser.AccountLockedUntil = nil
	if err := s.users.Save(ctx, foundUser); err != nil {
		return status.Error(codes.Internal, "failed to reset password")
	}

	if err := s.emailService.SendPasswordChangedNotification(ctx, recipient(foundUser)); err != nil {
		s.log.Warn().Err(err).Str("user_id", foundUser.ID).Msg("Failed to send password changed notification")
	}

	s.log.Info().Str("user_id", foundUser.ID).Msg("password reset completed")
	return nil
}

// CleanupExpiredTokens clears reset tokens past their expiry. Run it
// periodically.
func (s *PasswordResetService) CleanupExpiredTokens(ctx context.Context) error {
	n, err := s.users.ClearExpiredResetTokens(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("🧹 Cleared expired password reset tokens")
	}
	return nil
}

// RunCleanup calls CleanupExpiredTokens every interval until ctx is done.
func (s *PasswordResetService) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.CleanupExpiredTokens(ctx); err != nil {
				s.log.Error().Err(err).Msg("Failed to clean up reset tokens")
			}
		}
	}
}

// maskEmail hides the local part of an address for logs.
func maskEmail(address string) string {
	local, domain, ok := strings.Cut(address, "@")
	if !ok {
		return address
	}
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + "@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}
