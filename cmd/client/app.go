package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/gurkanbulca/taskboard/internal/client"
	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/store"
	"github.com/gurkanbulca/taskboard/internal/view"
)

const localUserID = "local"

var errNotSignedIn = errors.New("not signed in, run 'taskboard login' first")

// app holds the collaborators of one CLI invocation.
type app struct {
	log  zerolog.Logger
	out  io.Writer
	conn *grpc.ClientConn
	auth *client.Authenticator
	// local is set with --local; tasks live in a YAML file instead of a server.
	local *store.MemoryStore
	store store.TaskStore
}

func newApp(cmd *cobra.Command) (*app, error) {
	a := &app{log: newLogger(), out: cmd.OutOrStdout()}

	if v.GetBool("local") {
		a.local = store.NewMemoryStore()
		a.local.SignIn(localUserID)
		if err := a.loadLocal(cmd.Context()); err != nil {
			return nil, err
		}
		a.store = a.local
		return a, nil
	}

	conn, err := client.Dial(v.GetString("server"))
	if err != nil {
		return nil, err
	}
	a.conn = conn
	a.auth = client.NewAuthenticator(conn, a.log)
	if s, ok, err := loadSession(v.GetString("session-file")); err != nil {
		a.log.Warn().Err(err).Msg("ignoring unreadable session file")
	} else if ok {
		a.auth.Restore(s)
	}
	a.store = client.NewRemoteStore(conn, a.auth, client.WithStoreLogger(a.log))
	return a, nil
}

// close persists the session or the local task file and releases the
// connection.
func (a *app) close(ctx context.Context) error {
	if a.local != nil {
		return a.saveLocal(ctx)
	}
	defer a.conn.Close()
	if s, ok := a.auth.Session(); ok {
		return saveSession(v.GetString("session-file"), s)
	}
	return removeSession(v.GetString("session-file"))
}

// callContext bounds a single request by --timeout.
func (a *app) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.GetDuration("timeout"))
}

// userID returns the identity the task commands run as.
func (a *app) userID() (string, error) {
	if a.local != nil {
		return localUserID, nil
	}
	u := a.auth.CurrentUser()
	if u == nil {
		return "", errNotSignedIn
	}
	return u.ID, nil
}

// openList signs a TaskList in and waits for its first snapshot.
func (a *app) openList(ctx context.Context, opts ...view.Option) (*view.TaskList, error) {
	userID, err := a.userID()
	if err != nil {
		return nil, err
	}

	opts = append([]view.Option{view.WithLogger(a.log)}, opts...)
	list := view.New(a.store, opts...)

	ready := make(chan struct{}, 1)
	stop := list.OnChange(func(s view.Snapshot) {
		if s.State == view.StateReady {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer stop()

	list.SignedIn(ctx, userID)

	waitCtx, cancel := a.callContext(ctx)
	defer cancel()
	select {
	case <-ready:
		return list, nil
	case <-waitCtx.Done():
		list.SignedOut()
		return nil, fmt.Errorf("loading tasks: %w", waitCtx.Err())
	}
}

// withApp runs fn with a fresh app and saves state afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		runErr := fn(cmd, a, args)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

type localFile struct {
	Tasks []models.Task `yaml:"tasks"`
}

func (a *app) loadLocal(ctx context.Context) error {
	data, err := os.ReadFile(v.GetString("local-file"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read local tasks: %w", err)
	}

	var f localFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse local tasks: %w", err)
	}
	for _, t := range f.Tasks {
		if _, err := a.local.AddTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) saveLocal(ctx context.Context) error {
	data, err := yaml.Marshal(localFile{Tasks: a.local.GetTasks(ctx)})
	if err != nil {
		return err
	}
	return writeFile(v.GetString("local-file"), data)
}

func loadSession(path string) (client.Session, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return client.Session{}, false, nil
	}
	if err != nil {
		return client.Session{}, false, err
	}
	var s client.Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return client.Session{}, false, fmt.Errorf("parse session file: %w", err)
	}
	return s, s.AccessToken != "", nil
}

func saveSession(path string, s client.Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
