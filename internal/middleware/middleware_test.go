package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/pkg/auth"
)

func withAuthHeader(ctx context.Context, header string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", header))
}

func TestAuthInterceptor_Unary(t *testing.T) {
	tm := auth.NewTokenManager("access", "refresh", time.Minute, time.Hour)
	pair, err := tm.GenerateTokenPair("user-1", "ada@example.com")
	require.NoError(t, err)

	interceptor := NewAuthInterceptor(tm).Unary()

	var seenUser string
	handler := func(ctx context.Context, req any) (any, error) {
		seenUser, _ = GetUserIDFromContext(ctx)
		return "ok", nil
	}

	tests := []struct {
		name     string
		ctx      context.Context
		method   string
		wantCode codes.Code
		wantUser string
	}{
		{"valid token", withAuthHeader(context.Background(), "Bearer "+pair.AccessToken), taskboardv1.TaskService_ListTasks_FullMethodName, codes.OK, "user-1"},
		{"public method without token", context.Background(), taskboardv1.AuthService_Login_FullMethodName, codes.OK, ""},
		{"missing metadata", context.Background(), taskboardv1.TaskService_ListTasks_FullMethodName, codes.Unauthenticated, ""},
		{"missing header", metadata.NewIncomingContext(context.Background(), metadata.MD{}), taskboardv1.TaskService_ListTasks_FullMethodName, codes.Unauthenticated, ""},
		{"not bearer", withAuthHeader(context.Background(), "Basic abc"), taskboardv1.TaskService_ListTasks_FullMethodName, codes.Unauthenticated, ""},
		{"refresh token as access", withAuthHeader(context.Background(), "Bearer "+pair.RefreshToken), taskboardv1.TaskService_ListTasks_FullMethodName, codes.Unauthenticated, ""},
		{"current user needs token", context.Background(), taskboardv1.AuthService_GetCurrentUser_FullMethodName, codes.Unauthenticated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser = ""
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			assert.Equal(t, tt.wantCode, status.Code(err))
			assert.Equal(t, tt.wantUser, seenUser)
		})
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestAuthInterceptor_Stream(t *testing.T) {
	tm := auth.NewTokenManager("access", "refresh", time.Minute, time.Hour)
	pair, err := tm.GenerateTokenPair("user-2", "bob@example.com")
	require.NoError(t, err)

	interceptor := NewAuthInterceptor(tm).Stream()
	info := &grpc.StreamServerInfo{FullMethod: taskboardv1.TaskService_WatchTasks_FullMethodName}

	var seenUser string
	handler := func(srv any, stream grpc.ServerStream) error {
		seenUser, _ = GetUserIDFromContext(stream.Context())
		return nil
	}

	ctx := withAuthHeader(context.Background(), "Bearer "+pair.AccessToken)
	require.NoError(t, interceptor(nil, fakeStream{ctx: ctx}, info, handler))
	assert.Equal(t, "user-2", seenUser)

	err = interceptor(nil, fakeStream{ctx: context.Background()}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestValidationInterceptor(t *testing.T) {
	v := NewValidationInterceptor(nil)
	validTask := func() *taskboardv1.Task {
		return &taskboardv1.Task{Title: "Buy milk", DueDate: "2025-05-01", DueTime: "10:00", Priority: "high"}
	}

	tests := []struct {
		name    string
		req     any
		wantErr string
	}{
		{"register ok", &taskboardv1.RegisterRequest{Email: "ada@example.com", Password: "Secret123"}, ""},
		{"register bad email", &taskboardv1.RegisterRequest{Email: "nope", Password: "Secret123"}, "email"},
		{"register weak password", &taskboardv1.RegisterRequest{Email: "ada@example.com", Password: "short"}, "password"},
		{"login missing password", &taskboardv1.LoginRequest{Email: "ada@example.com"}, "password is required"},
		{"refresh missing token", &taskboardv1.RefreshTokenRequest{}, "refresh token is required"},
		{"reset short token", &taskboardv1.ResetPasswordRequest{Token: "abc", NewPassword: "Secret123"}, "invalid reset token format"},
		{"create ok", &taskboardv1.CreateTaskRequest{Task: validTask()}, ""},
		{"create missing task", &taskboardv1.CreateTaskRequest{}, "task is required"},
		{"create blank title", &taskboardv1.CreateTaskRequest{Task: &taskboardv1.Task{Title: " ", DueDate: "2025-05-01", DueTime: "10:00"}}, "title is required"},
		{"create bad date", &taskboardv1.CreateTaskRequest{Task: &taskboardv1.Task{Title: "x", DueDate: "05/01/2025", DueTime: "10:00"}}, "due date"},
		{"update missing id", &taskboardv1.UpdateTaskRequest{Task: validTask()}, "task ID is required"},
		{"get missing id", &taskboardv1.GetTaskRequest{}, "task ID is required"},
		{"delete ok", &taskboardv1.DeleteTaskRequest{ID: "abc"}, ""},
		{"list passes", &taskboardv1.ListTasksRequest{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.validateRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMetadataExtractor(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 4242},
	})
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("user-agent", "taskboard-cli/1.0"))
	ctx = WithUser(ctx, "user-1", "ada@example.com")

	var info *ClientInfo
	_, err := NewMetadataExtractorInterceptor().Unary()(ctx, nil, &grpc.UnaryServerInfo{},
		func(ctx context.Context, req any) (any, error) {
			info = GetClientInfoFromContext(ctx)
			return nil, nil
		})
	require.NoError(t, err)

	assert.Equal(t, &ClientInfo{
		IPAddress: "10.0.0.7",
		UserAgent: "taskboard-cli/1.0",
		UserID:    "user-1",
		UserEmail: "ada@example.com",
	}, info)
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	interceptor := NewLoggingInterceptor(zerolog.New(&buf)).Unary()
	ctx := WithUser(context.Background(), "user-1", "")

	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x/Fail"},
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.NotFound, "task not found")
		})
	require.Error(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "/x/Fail", entry["method"])
	assert.Equal(t, "NotFound", entry["code"])
	assert.Equal(t, "user-1", entry["user_id"])
}
