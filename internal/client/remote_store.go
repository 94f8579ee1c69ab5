package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/store"
)

const (
	defaultMinRetry = 500 * time.Millisecond
	defaultMaxRetry = 30 * time.Second
)

var errStreamClosed = errors.New("watch stream closed by server")

// RemoteStore is a store.TaskStore served by TaskService. Calls run as the
// user currently signed in on the Authenticator.
type RemoteStore struct {
	tasks    taskboardv1.TaskServiceClient
	auth     *Authenticator
	log      zerolog.Logger
	minRetry time.Duration
	maxRetry time.Duration
}

var _ store.TaskStore = (*RemoteStore)(nil)

type RemoteOption func(*RemoteStore)

// WithRetryInterval bounds the wait between watch reconnects.
func WithRetryInterval(minRetry, maxRetry time.Duration) RemoteOption {
	return func(s *RemoteStore) {
		s.minRetry = minRetry
		s.maxRetry = maxRetry
	}
}

func WithStoreLogger(log zerolog.Logger) RemoteOption {
	return func(s *RemoteStore) { s.log = log }
}

func NewRemoteStore(conn grpc.ClientConnInterface, auth *Authenticator, opts ...RemoteOption) *RemoteStore {
	s := &RemoteStore{
		tasks:    taskboardv1.NewTaskServiceClient(conn),
		auth:     auth,
		log:      zerolog.Nop(),
		minRetry: defaultMinRetry,
		maxRetry: defaultMaxRetry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteStore) GetTasks(ctx context.Context) []models.Task {
	var resp *taskboardv1.ListTasksResponse
	err := s.call(ctx, func(ctx context.Context) (err error) {
		resp, err = s.tasks.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrUnauthenticated) {
			s.log.Error().Err(err).Msg("Failed to fetch tasks")
		}
		return []models.Task{}
	}
	return fromWireTasks(resp.Tasks)
}

func (s *RemoteStore) GetTask(ctx context.Context, id string) (models.Task, bool) {
	var resp *taskboardv1.GetTaskResponse
	err := s.call(ctx, func(ctx context.Context) (err error) {
		resp, err = s.tasks.GetTask(ctx, &taskboardv1.GetTaskRequest{ID: id})
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrUnauthenticated) {
			s.log.Error().Err(err).Str("task_id", id).Msg("Failed to fetch task")
		}
		return models.Task{}, false
	}
	return fromWire(resp.Task), true
}

func (s *RemoteStore) AddTask(ctx context.Context, task models.Task) (models.Task, error) {
	var resp *taskboardv1.CreateTaskResponse
	err := s.call(ctx, func(ctx context.Context) (err error) {
		resp, err = s.tasks.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: toWire(task)})
		return err
	})
	if err != nil {
		return models.Task{}, mapError("add task", err)
	}
	return fromWire(resp.Task), nil
}

func (s *RemoteStore) UpdateTask(ctx context.Context, task models.Task) (models.Task, error) {
	var resp *taskboardv1.UpdateTaskResponse
	err := s.call(ctx, func(ctx context.Context) (err error) {
		resp, err = s.tasks.UpdateTask(ctx, &taskboardv1.UpdateTaskRequest{Task: toWire(task)})
		return err
	})
	if err != nil {
		return models.Task{}, mapError("update task", err)
	}
	return fromWire(resp.Task), nil
}

func (s *RemoteStore) DeleteTask(ctx context.Context, id string) error {
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.tasks.DeleteTask(ctx, &taskboardv1.DeleteTaskRequest{ID: id})
		return err
	})
	if err != nil {
		return mapError("delete task", err)
	}
	return nil
}

// SubscribeToTasks streams snapshots on a background goroutine. The returned
// Unsubscribe cancels the stream and waits for the goroutine, so fn is never
// called after it returns. It must not be called from inside fn.
func (s *RemoteStore) SubscribeToTasks(ctx context.Context, fn store.SnapshotFunc) store.Unsubscribe {
	if s.auth.CurrentUser() == nil {
		fn([]models.Task{})
		return func() {}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watch(watchCtx, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// watch keeps a WatchTasks stream open, reconnecting with exponential
// backoff. It stops when ctx ends or the server rejects the session.
func (s *RemoteStore) watch(ctx context.Context, fn store.SnapshotFunc) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.minRetry
	bo.MaxInterval = s.maxRetry
	bo.MaxElapsedTime = 0

	refreshed := false
	op := func() error {
		err := s.stream(ctx, fn, bo)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if status.Code(err) == codes.Unauthenticated {
			// One refresh per subscription; a second rejection ends it.
			if refreshed || s.auth.Refresh(ctx) != nil {
				return backoff.Permanent(err)
			}
			refreshed = true
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("task stream interrupted, reconnecting")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("task stream stopped")
	}
}

func (s *RemoteStore) stream(ctx context.Context, fn store.SnapshotFunc, bo backoff.BackOff) error {
	authCtx, ok := s.auth.authContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "signed out")
	}

	stream, err := s.tasks.WatchTasks(authCtx, &taskboardv1.WatchTasksRequest{})
	if err != nil {
		return err
	}
	for {
		snap, err := stream.Recv()
		if err == io.EOF {
			return errStreamClosed
		}
		if err != nil {
			return err
		}
		bo.Reset()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(fromWireTasks(snap.Tasks))
	}
}

// call runs a unary RPC as the signed-in user. An expired access token is
// refreshed once and the call retried.
func (s *RemoteStore) call(ctx context.Context, rpc func(context.Context) error) error {
	authCtx, ok := s.auth.authContext(ctx)
	if !ok {
		return store.ErrUnauthenticated
	}
	err := rpc(authCtx)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}
	if rerr := s.auth.Refresh(ctx); rerr != nil {
		return err
	}
	authCtx, ok = s.auth.authContext(ctx)
	if !ok {
		return store.ErrUnauthenticated
	}
	return rpc(authCtx)
}

// mapError turns a gRPC status into the store error taxonomy.
func mapError(op string, err error) error {
	if errors.Is(err, store.ErrUnauthenticated) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return &store.BackendError{Op: op, Err: err}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return store.ErrUnauthenticated
	case codes.NotFound:
		return store.ErrNotFound
	case codes.InvalidArgument:
		return &models.ValidationError{Fields: map[string]string{"request": st.Message()}}
	}
	return &store.BackendError{Op: op, Err: err}
}

func toWire(t models.Task) *taskboardv1.Task {
	w := &taskboardv1.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Priority:    string(t.Priority),
	}
	if !t.CreatedAt.IsZero() {
		w.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return w
}

func fromWire(w *taskboardv1.Task) models.Task {
	if w == nil {
		return models.Task{}
	}
	t := models.Task{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Completed:   w.Completed,
		DueDate:     w.DueDate,
		DueTime:     w.DueTime,
		Priority:    models.Priority(w.Priority),
	}
	if createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		t.CreatedAt = createdAt
	}
	return t
}

func fromWireTasks(ws []*taskboardv1.Task) []models.Task {
	tasks := make([]models.Task, 0, len(ws))
	for _, w := range ws {
		tasks = append(tasks, fromWire(w))
	}
	return tasks
}
