package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gurkanbulca/taskboard/internal/cache"
	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/database"
	"github.com/gurkanbulca/taskboard/internal/logging"
	"github.com/gurkanbulca/taskboard/internal/realtime"
	"github.com/gurkanbulca/taskboard/internal/repository"
	"github.com/gurkanbulca/taskboard/internal/server"
	"github.com/gurkanbulca/taskboard/internal/service"
	"github.com/gurkanbulca/taskboard/pkg/auth"
	"github.com/gurkanbulca/taskboard/pkg/email"
)

const (
	cleanupInterval = time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Server.Environment, cfg.Server.LogLevel)
	if envErr != nil {
		log.Debug().Msg("No .env file found")
	}

	if err := cfg.ValidateConfig(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	if cfg.Server.AutoMigrate {
		log.Info().Msg("🔄 Running auto migration...")
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("auto migration: %w", err)
		}
	}

	tokenManager := auth.NewTokenManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenDuration,
		cfg.JWT.RefreshTokenDuration,
	)
	passwordManager := auth.NewPasswordManager()
	emailService := newEmailService(ctx, cfg, log)

	users := repository.NewUserRepository(db)
	passwordResetService := service.NewPasswordResetService(users, emailService, passwordManager, cfg.Security, log)
	authService := service.NewAuthService(users, tokenManager, passwordManager, emailService, passwordResetService, cfg.Security, log)

	hub := realtime.NewHub()
	taskOpts := []service.TaskServiceOption{service.WithTaskLogger(log)}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		taskOpts = append(taskOpts, service.WithCache(cache.NewTaskCache(rdb, cfg.Redis.CacheTTL)))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Task cache enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	if db.Dialect() == "postgres" {
		// Changes travel through Postgres so every server process sees them.
		taskOpts = append(taskOpts, service.WithPublisher(realtime.NewPGNotifier(db.DB, cfg.Realtime.NotifyChannel)))
		listener := realtime.NewPGListener(
			cfg.ToDatabaseConfig().DSN(),
			cfg.Realtime.NotifyChannel,
			cfg.Realtime.MinReconnectInterval,
			cfg.Realtime.MaxReconnectInterval,
			hub,
			log,
		)
		g.Go(func() error { return listener.Run(ctx) })
	}
	taskService := service.NewTaskService(repository.NewTaskRepository(db), hub, taskOpts...)

	srv := server.New(server.Deps{
		Tokens:    tokenManager,
		Passwords: passwordManager,
		Auth:      authService,
		Tasks:     taskService,
		Log:       log,
	})

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.Server.GRPCPort).Msg("🚀 Taskboard gRPC server listening")
		return srv.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Dur("interval", cleanupInterval).Msg("🧹 Starting background cleanup job")
		return passwordResetService.RunCleanup(ctx, cleanupInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("📴 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("✅ Server shutdown complete")
	return nil
}

func openDatabase(cfg *config.Config, log zerolog.Logger) (*database.DB, error) {
	if cfg.Database.Driver == "sqlite3" {
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("Opening SQLite database")
		return database.OpenSQLite(fmt.Sprintf("file:%s?_fk=1", cfg.Database.SQLitePath), log)
	}
	log.Info().Msg("Connecting to PostgreSQL...")
	return database.Open(cfg.ToDatabaseConfig(), log)
}

func newEmailService(ctx context.Context, cfg *config.Config, log zerolog.Logger) email.EmailService {
	if cfg.Email.TestingMode || cfg.IsDevelopment() {
		log.Info().Msg("Using mock email service for development/testing")
		return email.NewMockEmailService()
	}

	log.Info().Msg("Using SMTP email service")
	smtpService := email.NewSMTPEmailService(cfg.ToEmailConfig())
	if err := smtpService.TestConnection(ctx); err != nil {
		log.Warn().Err(err).Msg("SMTP connection test failed")
	} else {
		log.Info().Msg("SMTP connection test successful")
	}
	return smtpService
}
