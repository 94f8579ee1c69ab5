// Command taskboard is a terminal client for the taskboard server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gurkanbulca/taskboard/internal/logging"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "taskboard",
	Short:         "Manage your tasks from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("server", "localhost:50051", "taskboard server address")
	flags.String("session-file", defaultPath("session.yaml"), "where the sign-in session is kept")
	flags.Bool("local", false, "work offline on a local task file instead of a server")
	flags.String("local-file", defaultPath("local.yaml"), "task file used with --local")
	flags.Duration("timeout", 10*time.Second, "timeout for each server call")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = v.BindPFlags(flags)

	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
	)
}

// initConfig reads TASKBOARD_* environment variables and an optional
// config.yaml next to the session file.
func initConfig() {
	v.SetEnvPrefix("TASKBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(defaultPath("config.yaml"))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: reading config: %v\n", err)
		}
	}
}

func defaultPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "taskboard", name)
}

func newLogger() zerolog.Logger {
	return logging.NewWithWriter(os.Stderr, "development", v.GetString("log-level"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
