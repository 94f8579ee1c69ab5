package middleware

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/pkg/auth"
)

const (
	maxTaskIDLength = 64
	minTokenLength  = 32
	maxTokenLength  = 128
)

// ValidationInterceptor rejects malformed requests with InvalidArgument
// before they reach a service.
type ValidationInterceptor struct {
	passwords *auth.PasswordManager
}

func NewValidationInterceptor(passwords *auth.PasswordManager) *ValidationInterceptor {
	if passwords == nil {
		passwords = auth.NewPasswordManager()
	}
	return &ValidationInterceptor{passwords: passwords}
}

func (v *ValidationInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := v.validateRequest(req); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream passes through; WatchTasks carries no fields.
func (v *ValidationInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, stream)
	}
}

func (v *ValidationInterceptor) validateRequest(req any) error {
	var errs []string

	switch r := req.(type) {
	case *taskboardv1.RegisterRequest:
		errs = appendErr(errs, "email", auth.ValidateEmail(auth.NormalizeEmail(r.Email)))
		errs = appendErr(errs, "password", v.passwords.ValidatePassword(r.Password))
		errs = appendErr(errs, "display_name", auth.ValidateDisplayName(r.DisplayName))
	case *taskboardv1.LoginRequest:
		if strings.TrimSpace(r.Email) == "" {
			errs = append(errs, "email is required")
		}
		if r.Password == "" {
			errs = append(errs, "password is required")
		}
	case *taskboardv1.RefreshTokenRequest:
		if r.RefreshToken == "" {
			errs = append(errs, "refresh token is required")
		}
	case *taskboardv1.RequestPasswordResetRequest:
		errs = appendErr(errs, "email", auth.ValidateEmail(auth.NormalizeEmail(r.Email)))
	case *taskboardv1.ResetPasswordRequest:
		if n := len(r.Token); n < minTokenLength || n > maxTokenLength {
			errs = append(errs, "invalid reset token format")
		}
		errs = appendErr(errs, "new password", v.passwords.ValidatePassword(r.NewPassword))
	case *taskboardv1.CreateTaskRequest:
		if r.Task == nil {
			errs = append(errs, "task is required")
			break
		}
		if len(r.Task.ID) > maxTaskIDLength {
			errs = append(errs, fmt.Sprintf("task ID too long (max %d characters)", maxTaskIDLength))
		}
		errs = appendErr(errs, "", validateTask(r.Task))
	case *taskboardv1.UpdateTaskRequest:
		if r.Task == nil {
			errs = append(errs, "task is required")
			break
		}
		errs = appendErr(errs, "", validateID(r.Task.ID))
		errs = appendErr(errs, "", validateTask(r.Task))
	case *taskboardv1.GetTaskRequest:
		errs = appendErr(errs, "", validateID(r.ID))
	case *taskboardv1.DeleteTaskRequest:
		errs = appendErr(errs, "", validateID(r.ID))
	}

	if len(errs) > 0 {
		return status.Error(codes.InvalidArgument, strings.Join(errs, "; "))
	}
	return nil
}

func appendErr(errs []string, field string, err error) []string {
	if err == nil {
		return errs
	}
	if field == "" {
		return append(errs, err.Error())
	}
	return append(errs, fmt.Sprintf("%s: %s", field, err.Error()))
}

func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("task ID is required")
	case utf8.RuneCountInString(id) > maxTaskIDLength:
		return fmt.Errorf("task ID too long (max %d characters)", maxTaskIDLength)
	}
	return nil
}

func validateTask(t *taskboardv1.Task) error {
	_, err := models.Draft{
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Priority:    t.Priority,
	}.Normalize()
	return err
}
