package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs one line per call.
type LoggingInterceptor struct {
	log zerolog.Logger
}

func NewLoggingInterceptor(log zerolog.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{log: log}
}

func (l *LoggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		l.logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

func (l *LoggingInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, stream)
		l.logCall(stream.Context(), info.FullMethod, start, err)
		return err
	}
}

// logCall reads the caller identity from ctx, so the interceptor must run
// after the auth interceptor to see the user.
func (l *LoggingInterceptor) logCall(ctx context.Context, method string, start time.Time, err error) {
	info := GetClientInfoFromContext(ctx)

	ev := l.log.Info()
	if err != nil {
		ev = l.log.Error().Err(err).Str("code", status.Code(err).String())
	}
	ev.Str("method", method).
		Dur("duration", time.Since(start)).
		Str("ip", info.IPAddress).
		Str("user_id", info.UserID).
		Msg("grpc call")
}
