package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/models"
)

func wireTask(title string) *taskboardv1.Task {
	return &taskboardv1.Task{
		Title:    title,
		DueDate:  "2025-07-01",
		DueTime:  "14:00",
		Priority: "high",
	}
}

func TestTaskService_RequiresUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: wireTask("x")})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestTaskService_CRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := userCtx(env.createUser("ada@example.com"))

	created, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: &taskboardv1.Task{
		Title:       "  Write report ",
		Description: " draft ",
		DueDate:     "2025-07-01",
		DueTime:     "14:00",
	}})
	require.NoError(t, err)
	task := created.Task
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Write report", task.Title)
	assert.Equal(t, "draft", task.Description)
	assert.Equal(t, "medium", task.Priority)
	assert.False(t, task.Completed)
	_, err = time.Parse(time.RFC3339Nano, task.CreatedAt)
	require.NoError(t, err)

	got, err := env.task.GetTask(ctx, &taskboardv1.GetTaskRequest{ID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, task, got.Task)

	task.Completed = true
	task.Title = "Write final report"
	updated, err := env.task.UpdateTask(ctx, &taskboardv1.UpdateTaskRequest{Task: task})
	require.NoError(t, err)
	assert.True(t, updated.Task.Completed)
	assert.Equal(t, "Write final report", updated.Task.Title)
	assert.Equal(t, task.CreatedAt, updated.Task.CreatedAt)

	list, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	require.Len(t, list.Tasks, 1)

	_, err = env.task.DeleteTask(ctx, &taskboardv1.DeleteTaskRequest{ID: task.ID})
	require.NoError(t, err)
	_, err = env.task.DeleteTask(ctx, &taskboardv1.DeleteTaskRequest{ID: task.ID})
	require.NoError(t, err)

	_, err = env.task.GetTask(ctx, &taskboardv1.GetTaskRequest{ID: task.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.task.UpdateTask(ctx, &taskboardv1.UpdateTaskRequest{Task: task})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestTaskService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := userCtx(env.createUser("ada@example.com"))

	tests := []struct {
		name string
		task *taskboardv1.Task
	}{
		{"missing task", nil},
		{"blank title", &taskboardv1.Task{Title: "   ", DueDate: "2025-07-01", DueTime: "14:00"}},
		{"bad due date", &taskboardv1.Task{Title: "x", DueDate: "tomorrow", DueTime: "14:00"}},
		{"bad due time", &taskboardv1.Task{Title: "x", DueDate: "2025-07-01", DueTime: "2pm"}},
		{"bad priority", &taskboardv1.Task{Title: "x", DueDate: "2025-07-01", DueTime: "14:00", Priority: "urgent"}},
		{"id too long", &taskboardv1.Task{ID: strings.Repeat("a", models.MaxIDLength+1), Title: "x", DueDate: "2025-07-01", DueTime: "14:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: tt.task})
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}

	// The longest allowed id still restores.
	restored, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: &taskboardv1.Task{
		ID: strings.Repeat("a", models.MaxIDLength), Title: "x", DueDate: "2025-07-01", DueTime: "14:00",
	}})
	require.NoError(t, err)
	assert.Len(t, restored.Task.ID, models.MaxIDLength)
}

func TestTaskService_RestoreKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := userCtx(env.createUser("ada@example.com"))

	created, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: wireTask("undo me")})
	require.NoError(t, err)
	_, err = env.task.DeleteTask(ctx, &taskboardv1.DeleteTaskRequest{ID: created.Task.ID})
	require.NoError(t, err)

	restored, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: created.Task})
	require.NoError(t, err)
	assert.Equal(t, created.Task.ID, restored.Task.ID)
	assert.Equal(t, created.Task.CreatedAt, restored.Task.CreatedAt)

	// Another user cannot claim the id.
	other := userCtx(env.createUser("bob@example.com"))
	_, err = env.task.CreateTask(other, &taskboardv1.CreateTaskRequest{Task: created.Task})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestTaskService_UsersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	alice := userCtx(env.createUser("alice@example.com"))
	bob := userCtx(env.createUser("bob@example.com"))

	created, err := env.task.CreateTask(alice, &taskboardv1.CreateTaskRequest{Task: wireTask("alice's")})
	require.NoError(t, err)

	list, err := env.task.ListTasks(bob, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Tasks)

	_, err = env.task.GetTask(bob, &taskboardv1.GetTaskRequest{ID: created.Task.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

// memoryCache is a TaskCache backed by a map.
type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]models.Task
	versions    map[string]int64
	hits        int
	invalidated []string
	failGet     bool
	// beforeSet runs at the start of Set, outside the lock.
	beforeSet func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries:  make(map[string][]models.Task),
		versions: make(map[string]int64),
	}
}

func (c *memoryCache) Get(_ context.Context, userID string) ([]models.Task, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	tasks, ok := c.entries[userID]
	if ok {
		c.hits++
	}
	return tasks, ok, nil
}

func (c *memoryCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *memoryCache) Set(_ context.Context, userID string, version int64, tasks []models.Task) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return nil
	}
	c.entries[userID] = tasks
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.versions[userID]++
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func TestTaskService_ReadsThroughCache(t *testing.T) {
	cache := newMemoryCache()
	env := newTestEnv(t, WithCache(cache))
	u := env.createUser("ada@example.com")
	ctx := userCtx(u)

	_, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: wireTask("cached")})
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, cache.invalidated)

	first, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)

	second, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.Tasks, second.Tasks)

	// A failing cache falls back to the database.
	cache.failGet = true
	third, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	assert.Len(t, third.Tasks, 1)
}

func TestTaskService_CacheSkipsListLoadedBeforeWrite(t *testing.T) {
	cache := newMemoryCache()
	env := newTestEnv(t, WithCache(cache))
	ctx := userCtx(env.createUser("ada@example.com"))

	// The write commits after the reader loaded the empty list but before it
	// fills the cache.
	cache.beforeSet = func() {
		cache.beforeSet = nil
		_, err := env.task.CreateTask(ctx, &taskboardv1.CreateTaskRequest{Task: wireTask("late")})
		require.NoError(t, err)
	}

	first, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	assert.Empty(t, first.Tasks)

	second, err := env.task.ListTasks(ctx, &taskboardv1.ListTasksRequest{})
	require.NoError(t, err)
	require.Len(t, second.Tasks, 1)
	assert.Equal(t, "late", second.Tasks[0].Title)
	assert.Equal(t, 0, cache.hits)
}

// watchStream collects snapshots sent by WatchTasks.
type watchStream struct {
	grpc.ServerStream
	ctx       context.Context
	snapshots chan *taskboardv1.TaskSnapshot
}

func (s *watchStream) Context() context.Context { return s.ctx }

func (s *watchStream) Send(snap *taskboardv1.TaskSnapshot) error {
	s.snapshots <- snap
	return nil
}

func (s *watchStream) next(t *testing.T) *taskboardv1.TaskSnapshot {
	t.Helper()
	select {
	case snap := <-s.snapshots:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestTaskService_WatchTasks(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser("ada@example.com")

	ctx, cancel := context.WithCancel(userCtx(u))
	stream := &watchStream{ctx: ctx, snapshots: make(chan *taskboardv1.TaskSnapshot, 8)}

	done := make(chan error, 1)
	go func() { done <- env.task.WatchTasks(&taskboardv1.WatchTasksRequest{}, stream) }()

	initial := stream.next(t)
	assert.Empty(t, initial.Tasks)
	assert.NotEmpty(t, initial.SentAt)

	created, err := env.task.CreateTask(userCtx(u), &taskboardv1.CreateTaskRequest{Task: wireTask("live")})
	require.NoError(t, err)

	snap := stream.next(t)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, created.Task.ID, snap.Tasks[0].ID)

	// Writes by another user do not wake this stream.
	other := userCtx(env.createUser("bob@example.com"))
	_, err = env.task.CreateTask(other, &taskboardv1.CreateTaskRequest{Task: wireTask("not yours")})
	require.NoError(t, err)

	_, err = env.task.DeleteTask(userCtx(u), &taskboardv1.DeleteTaskRequest{ID: created.Task.ID})
	require.NoError(t, err)
	snap = stream.next(t)
	assert.Empty(t, snap.Tasks)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchTasks did not return after cancel")
	}
	assert.Equal(t, 0, env.hub.ListenerCount(u.ID))
}

func TestTaskService_WatchTasksUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	stream := &watchStream{ctx: context.Background(), snapshots: make(chan *taskboardv1.TaskSnapshot, 1)}

	err := env.task.WatchTasks(&taskboardv1.WatchTasksRequest{}, stream)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
