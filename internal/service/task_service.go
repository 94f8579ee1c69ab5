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
	"github.com/gurkanbulca/taskboard/internal/middleware"
	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/realtime"
	"github.com/gurkanbulca/taskboard/internal/repository"
)

// TaskCache stores the ordered task list per user. Implementations must treat
// a miss as (nil, false, nil). Invalidate advances the version returned by
// Version, and Set must not store a list whose version is no longer current.
type TaskCache interface {
	Get(ctx context.Context, userID string) ([]models.Task, bool, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, version int64, tasks []models.Task) error
	Invalidate(ctx context.Context, userID string) error
}

type TaskService struct {
	taskboardv1.UnimplementedTaskServiceServer
	repo      *repository.TaskRepository
	cache     TaskCache
	publisher realtime.Publisher
	hub       *realtime.Hub
	log       zerolog.Logger
}

// TaskServiceOption configures a TaskService.
type TaskServiceOption func(*TaskService)

// WithCache reads task lists through cache.
func WithCache(cache TaskCache) TaskServiceOption {
	return func(s *TaskService) { s.cache = cache }
}

// WithPublisher sends change signals through p instead of the hub. Used when
// signals must reach other server processes.
func WithPublisher(p realtime.Publisher) TaskServiceOption {
	return func(s *TaskService) { s.publisher = p }
}

// WithTaskLogger sets the logger.
func WithTaskLogger(log zerolog.Logger) TaskServiceOption {
	return func(s *TaskService) { s.log = log }
}

// NewTaskService serves tasks from repo. WatchTasks streams wake up on hub
// signals; by default writes publish to the same hub.
func NewTaskService(repo *repository.TaskRepository, hub *realtime.Hub, opts ...TaskServiceOption) *TaskService {
	s := &TaskService{
		repo:      repo,
		hub:       hub,
		publisher: hub,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TaskService) ListTasks(ctx context.Context, _ *taskboardv1.ListTasksRequest) (*taskboardv1.ListTasksResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	tasks, err := s.listTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &taskboardv1.ListTasksResponse{Tasks: toWireTasks(tasks)}, nil
}

func (s *TaskService) GetTask(ctx context.Context, req *taskboardv1.GetTaskRequest) (*taskboardv1.GetTaskResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "task ID is required")
	}

	task, err := s.repo.Get(ctx, userID, req.ID)
	if err != nil {
		return nil, s.taskError(err, "failed to get task")
	}
	return &taskboardv1.GetTaskResponse{Task: toWire(task)}, nil
}

// CreateTask stores a new task. A request carrying an id restores that task
// with its original creation time.
func (s *TaskService) CreateTask(ctx context.Context, req *taskboardv1.CreateTaskRequest) (*taskboardv1.CreateTaskResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	task, err := fromWire(req.Task)
	if err != nil {
		return nil, err
	}

	if task.ID == "" {
		task, err = s.repo.Create(ctx, userID, task)
	} else {
		task, err = s.repo.Upsert(ctx, userID, task)
	}
	if err != nil {
		return nil, s.taskError(err, "failed to create task")
	}

	s.changed(ctx, userID)
	return &taskboardv1.CreateTaskResponse{Task: toWire(task)}, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, req *taskboardv1.UpdateTaskRequest) (*taskboardv1.UpdateTaskResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	task, err := fromWire(req.Task)
	if err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "task ID is required")
	}

	task, err = s.repo.Update(ctx, userID, task)
	if err != nil {
		return nil, s.taskError(err, "failed to update task")
	}

	s.changed(ctx, userID)
	return &taskboardv1.UpdateTaskResponse{Task: toWire(task)}, nil
}

// DeleteTask removes a task. Deleting an id that does not exist succeeds.
func (s *TaskService) DeleteTask(ctx context.Context, req *taskboardv1.DeleteTaskRequest) (*emptypb.Empty, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "task ID is required")
	}

	if err := s.repo.Delete(ctx, userID, req.ID); err != nil {
		return nil, s.taskError(err, "failed to delete task")
	}

	s.changed(ctx, userID)
	return &emptypb.Empty{}, nil
}

// WatchTasks sends the caller's full task list once, then again after every
// change, until the client goes away.
func (s *TaskService) WatchTasks(_ *taskboardv1.WatchTasksRequest, stream taskboardv1.TaskService_WatchTasksServer) error {
	ctx := stream.Context()
	userID, err := requireUser(ctx)
	if err != nil {
		return err
	}

	// Subscribe before the first read so no change slips between them.
	listener := s.hub.Subscribe(userID)
	defer listener.Close()

	if err := s.sendSnapshot(ctx, stream, userID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener.C():
			if err := s.sendSnapshot(ctx, stream, userID); err != nil {
				return err
			}
		}
	}
}

func (s *TaskService) sendSnapshot(ctx context.Context, stream taskboardv1.TaskService_WatchTasksServer, userID string) error {
	tasks, err := s.listTasks(ctx, userID)
	if err != nil {
		return err
	}
	return stream.Send(&taskboardv1.TaskSnapshot{
		Tasks:  toWireTasks(tasks),
		SentAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// listTasks reads through the cache. Cache failures only cost a database
// round trip. The cache version is read before the database so a write that
// lands in between keeps the loaded list out of the cache.
func (s *TaskService) listTasks(ctx context.Context, userID string) ([]models.Task, error) {
	fill := false
	var version int64
	if s.cache != nil {
		tasks, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("task cache read failed")
		} else if ok {
			return tasks, nil
		}
		if version, err = s.cache.Version(ctx, userID); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("task cache version read failed")
		} else {
			fill = true
		}
	}

	tasks, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("list tasks")
		return nil, status.Error(codes.Internal, "failed to list tasks")
	}

	if fill {
		if err := s.cache.Set(ctx, userID, version, tasks); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("task cache write failed")
		}
	}
	return tasks, nil
}

// changed drops the cached list and then signals watchers, so a watcher
// never reloads the stale list.
func (s *TaskService) changed(ctx context.Context, userID string) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("task cache invalidation failed")
		}
	}
	if err := s.publisher.Publish(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("publish task change")
	}
}

func (s *TaskService) taskError(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, "task not found")
	case errors.Is(err, repository.ErrIDTaken):
		return status.Error(codes.AlreadyExists, "task ID is already in use")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.log.Error().Err(err).Msg(msg)
	return status.Error(codes.Internal, msg)
}

func requireUser(ctx context.Context) (string, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "user not authenticated")
	}
	return userID, nil
}

// fromWire validates and normalizes an incoming task. An unparseable
// CreatedAt is treated as missing.
func fromWire(t *taskboardv1.Task) (models.Task, error) {
	if t == nil {
		return models.Task{}, status.Error(codes.InvalidArgument, "task is required")
	}
	if len(t.ID) > models.MaxIDLength {
		return models.Task{}, status.Errorf(codes.InvalidArgument, "task ID too long (max %d characters)", models.MaxIDLength)
	}

	task, err := models.Draft{
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Priority:    t.Priority,
	}.Normalize()
	if err != nil {
		return models.Task{}, status.Error(codes.InvalidArgument, err.Error())
	}

	task.ID = t.ID
	task.Completed = t.Completed
	if t.CreatedAt != "" {
		if createdAt, err := time.Parse(time.RFC3339Nano, t.CreatedAt); err == nil {
			task.CreatedAt = createdAt
		}
	}
	return task, nil
}

func toWire(t models.Task) *taskboardv1.Task {
	return &taskboardv1.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Priority:    string(t.Priority),
	}
}

func toWireTasks(tasks []models.Task) []*taskboardv1.Task {
	out := make([]*taskboardv1.Task, len(tasks))
	for i, t := range tasks {
		out[i] = toWire(t)
	}
	return out
}
